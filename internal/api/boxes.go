package api

import (
	"fmt"
	"net/http"
	"strconv"

	"blindbox-service/internal/models"
	"blindbox-service/internal/service"
	"blindbox-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) listBoxes(c *gin.Context) {
	page := parsePage(c)
	filter := models.BoxFilter{
		Keyword: c.Query("q"),
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	if owner := c.Query("owner"); owner != "" {
		id, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid owner"})
			return
		}
		filter.OwnerID = id
	}

	boxes, err := h.boxes.ListBoxes(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "Failed to list boxes")
		return
	}
	c.JSON(http.StatusOK, gin.H{"boxes": boxes})
}

func (h *Handler) getBox(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	box, err := h.boxes.GetBox(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to load box")
		return
	}
	c.JSON(http.StatusOK, box)
}

func (h *Handler) createBox(c *gin.Context) {
	var req service.CreateBoxInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	box, err := h.boxes.CreateBox(c.Request.Context(), claimsFrom(c).UserID, req)
	if err != nil {
		h.respondError(c, err, "Failed to create box")
		return
	}
	c.JSON(http.StatusCreated, box)
}

func (h *Handler) deleteBox(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	claims := claimsFrom(c)
	if err := h.boxes.DeleteBox(c.Request.Context(), id, claims.UserID, claims.Role); err != nil {
		h.respondError(c, err, "Failed to delete box")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Box deleted"})
}

// purchaseBox draws one item. The body shape is fixed for every outcome so
// clients can branch on success alone.
func (h *Handler) purchaseBox(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid box id"})
		return
	}

	claims := claimsFrom(c)
	res, replayed, err := h.purchases.PurchaseOnce(c.Request.Context(), id, claims.UserID, c.GetHeader("Idempotency-Key"))
	if err != nil {
		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			util.LoggerFromContext(c.Request.Context()).Error("Purchase failed",
				zap.Int64("box_id", id), zap.Int64("buyer_id", claims.UserID), zap.Error(err))
			msg = "purchase failed"
		}
		c.JSON(status, gin.H{"success": false, "error": msg})
		return
	}

	if replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"order_id":  res.OrderID,
		"item":      res.Item,
		"remaining": res.Remaining,
		"message":   fmt.Sprintf("You got %s!", res.Item.Name),
	})
}
