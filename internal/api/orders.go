package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listPurchases(c *gin.Context) {
	orders, err := h.orders.ListPurchases(c.Request.Context(), claimsFrom(c).UserID, parsePage(c))
	if err != nil {
		h.respondError(c, err, "Failed to list purchases")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listSales(c *gin.Context) {
	orders, err := h.orders.ListSales(c.Request.Context(), claimsFrom(c).UserID, parsePage(c))
	if err != nil {
		h.respondError(c, err, "Failed to list sales")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listAllOrders(c *gin.Context) {
	orders, err := h.orders.ListAll(c.Request.Context(), parsePage(c))
	if err != nil {
		h.respondError(c, err, "Failed to list orders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
