package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeBoxCreated       = "BOX_CREATED"
	EventTypeBoxPurchased     = "BOX_PURCHASED"
	EventTypeBoxSoldOut       = "BOX_SOLD_OUT"
	EventTypeBoxDeleted       = "BOX_DELETED"
	EventTypeBalanceRecharged = "BALANCE_RECHARGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and the current time.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// BoxCreatedEvent published when a box is listed
type BoxCreatedEvent struct {
	BaseEvent
	BoxID   int64 `json:"box_id"`
	OwnerID int64 `json:"owner_id"`
	Price   int64 `json:"price"`
	BoxNum  int   `json:"box_num"`
}

// BoxPurchasedEvent published after a purchase commits
type BoxPurchasedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	BoxID     int64  `json:"box_id"`
	BuyerID   int64  `json:"buyer_id"`
	SellerID  int64  `json:"seller_id"`
	ItemName  string `json:"item_name"`
	Price     int64  `json:"price"`
	Remaining int    `json:"remaining"`
}

// BoxSoldOutEvent published when the last draw of a box is bought
type BoxSoldOutEvent struct {
	BaseEvent
	BoxID    int64 `json:"box_id"`
	SellerID int64 `json:"seller_id"`
}

// BoxDeletedEvent published when an owner or admin removes a box
type BoxDeletedEvent struct {
	BaseEvent
	BoxID     int64 `json:"box_id"`
	DeletedBy int64 `json:"deleted_by"`
}

// BalanceRechargedEvent published when a user tops up their wallet
type BalanceRechargedEvent struct {
	BaseEvent
	UserID  int64 `json:"user_id"`
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
}
