package listings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lotline/lotline/internal/validation"
)

// Handler provides HTTP endpoints for listing operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new listings handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.GET("/listings/:id", h.GetListing)
	r.POST("/listings/:id/withdraw", h.WithdrawListing)
	r.GET("/sellers/:id/listings", h.ListBySeller)
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidUserID("seller_id", req.SellerID),
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
		validation.PositiveAmount("price_minor", req.PriceMinor),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	if req.Currency != "" && !validation.IsValidCurrency(req.Currency) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "currency must be a 3-letter code",
		})
		return
	}

	listing, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidPrice) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_price",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "listing_failed",
			"message": "Failed to create listing",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	id := c.Param("id")

	listing, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// WithdrawListing handles POST /v1/listings/:id/withdraw
func (h *Handler) WithdrawListing(c *gin.Context) {
	id := c.Param("id")
	callerID := c.GetString("authUserID")

	listing, err := h.service.Withdraw(c.Request.Context(), id, callerID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrListingNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrUnauthorized):
			status = http.StatusForbidden
			code = "unauthorized"
		case errors.Is(err, ErrNotSellable):
			status = http.StatusConflict
			code = "invalid_state"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// ListBySeller handles GET /v1/sellers/:id/listings
func (h *Handler) ListBySeller(c *gin.Context) {
	sellerID := c.Param("id")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	result, err := h.service.ListBySeller(c.Request.Context(), sellerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": result,
		"count":    len(result),
	})
}
