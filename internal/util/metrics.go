package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blindbox_purchases_total",
		Help: "Total number of committed box purchases",
	})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blindbox_purchases_failed_total",
		Help: "Total number of rejected or rolled back purchases",
	}, []string{"reason"})

	PurchaseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blindbox_purchase_latency_seconds",
		Help:    "Latency of the purchase transaction",
		Buckets: prometheus.DefBuckets,
	})

	PurchaseRevenueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blindbox_purchase_revenue_total",
		Help: "Sum of prices of committed purchases, in minor units",
	})

	BoxesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blindbox_boxes_created_total",
		Help: "Total number of boxes listed for sale",
	})

	BoxesSoldOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blindbox_boxes_sold_out_total",
		Help: "Total number of boxes deleted after their last draw",
	})

	BoxCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blindbox_box_cache_requests_total",
		Help: "Box cache lookups by result",
	}, []string{"result"})

	UsersRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blindbox_users_registered_total",
		Help: "Total number of registered users",
	})

	RechargesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blindbox_recharges_total",
		Help: "Total number of wallet recharges",
	})

	EventsPublishFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blindbox_events_publish_failed_total",
		Help: "Domain events that could not be written to the broker",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
