package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lotline/lotline/internal/payments"
	"github.com/lotline/lotline/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up buyer/seller escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/escrows/:id/log", h.GetEscrowLog)
	r.POST("/escrows/:id/fund", h.FundEscrow)
	r.POST("/escrows/:id/release", h.ReleaseEscrow)
	r.POST("/escrows/:id/dispute", h.DisputeEscrow)
	r.GET("/users/:id/escrows", h.ListUserEscrows)
}

// RegisterArbitratorRoutes sets up the admin resolution surface.
func (h *Handler) RegisterArbitratorRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.POST("/escrows/:id/resolve", h.ResolveEscrow)
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("listing_id", req.ListingID),
		validation.ValidUserID("buyer_id", req.BuyerID),
		validation.ValidUserID("seller_id", req.SellerID),
		validation.PositiveAmount("amount_minor", req.AmountMinor),
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

	// The authenticated buyer opens the escrow.
	callerID := c.GetString("authUserID")
	if callerID != "" && callerID != req.BuyerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Authenticated user must be the buyer",
		})
		return
	}

	rec, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	// The release code is returned exactly once, to the buyer, who
	// shares it with the seller when satisfied.
	c.JSON(http.StatusCreated, gin.H{
		"escrow":      rec,
		"releaseCode": rec.ReleaseCode,
	})
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// GetEscrowLog handles GET /v1/escrows/:id/log
func (h *Handler) GetEscrowLog(c *gin.Context) {
	id := c.Param("id")
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 500 {
				limit = 500
			}
		}
	}

	entries, err := h.service.Log(c.Request.Context(), id, limit)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"log":   entries,
		"count": len(entries),
	})
}

// FundEscrow handles POST /v1/escrows/:id/fund
func (h *Handler) FundEscrow(c *gin.Context) {
	id := c.Param("id")
	callerID := c.GetString("authUserID")

	var req FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "paymentMethod is required",
		})
		return
	}

	rec, err := h.service.Fund(c.Request.Context(), id, callerID, req.PaymentMethod)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// ReleaseEscrow handles POST /v1/escrows/:id/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	id := c.Param("id")
	callerID := c.GetString("authUserID")

	// Body is optional: buyers release without a code.
	var req ReleaseRequest
	_ = c.ShouldBindJSON(&req)

	rec, err := h.service.Release(c.Request.Context(), id, callerID, req.ReleaseCode)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// DisputeEscrow handles POST /v1/escrows/:id/dispute
func (h *Handler) DisputeEscrow(c *gin.Context) {
	id := c.Param("id")
	callerID := c.GetString("authUserID")

	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reason is required",
		})
		return
	}
	if len(req.Reason) > validation.MaxReasonLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "reason is too long",
		})
		return
	}

	rec, err := h.service.OpenDispute(c.Request.Context(), id, callerID, validation.SanitizeString(req.Reason, validation.MaxReasonLength))
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// ResolveEscrow handles POST /v1/admin/escrows/:id/resolve
func (h *Handler) ResolveEscrow(c *gin.Context) {
	id := c.Param("id")
	arbitratorID := c.GetString("authUserID")
	if arbitratorID == "" {
		arbitratorID = "admin"
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution is required (release_to_seller, refund_to_buyer, or partial_refund)",
		})
		return
	}

	resolution, err := ParseResolution(req.Resolution, req.RefundMinor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_resolution",
			"message": err.Error(),
		})
		return
	}

	rec, err := h.service.Resolve(c.Request.Context(), id, arbitratorID, resolution, validation.SanitizeString(req.Notes, validation.MaxReasonLength))
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": rec})
}

// ListUserEscrows handles GET /v1/users/:id/escrows
func (h *Handler) ListUserEscrows(c *gin.Context) {
	userID := c.Param("id")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	records, err := h.service.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrows": records,
		"count":   len(records),
	})
}

// respondEscrowError maps service errors onto HTTP responses.
func respondEscrowError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrEscrowNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrInvalidReleaseCode):
		status = http.StatusForbidden
		code = "invalid_release_code"
	case errors.Is(err, ErrDisputed):
		status = http.StatusConflict
		code = "disputed"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrConflict):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrAmountBelowMinimum), errors.Is(err, ErrInvalidResolution):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrFundingExpired):
		status = http.StatusGone
		code = "funding_expired"
	case errors.Is(err, ErrReconciliationRequired):
		status = http.StatusInternalServerError
		code = "reconciliation_required"
	default:
		var ge *payments.GatewayError
		if errors.As(err, &ge) {
			if ge.Retryable {
				status = http.StatusServiceUnavailable
				code = "gateway_unavailable"
			} else {
				status = http.StatusPaymentRequired
				code = "payment_failed"
			}
		}
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
