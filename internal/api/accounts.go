package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type rechargeRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err, "Failed to register")
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err, "Failed to log in")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.users.Logout(c.Request.Context(), claimsFrom(c)); err != nil {
		h.respondError(c, err, "Failed to log out")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) profile(c *gin.Context) {
	user, err := h.users.Profile(c.Request.Context(), claimsFrom(c).UserID)
	if err != nil {
		h.respondError(c, err, "Failed to load profile")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) recharge(c *gin.Context) {
	var req rechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	balance, err := h.users.Recharge(c.Request.Context(), claimsFrom(c).UserID, req.Amount)
	if err != nil {
		h.respondError(c, err, "Failed to recharge")
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
