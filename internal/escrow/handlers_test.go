package escrow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func setupTestRouter() (*gin.Engine, *testEnv) {
	gin.SetMode(gin.TestMode)

	env := newTestEnv()
	handler := NewHandler(env.service)

	r := gin.New()
	v1 := r.Group("/v1")
	// X-User-ID is a test stand-in for the auth middleware.
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User-ID"); id != "" {
			c.Set("authUserID", id)
		}
		c.Next()
	})
	handler.RegisterRoutes(v1)
	handler.RegisterArbitratorRoutes(v1.Group("/admin"))

	return r, env
}

func doJSON(router *gin.Engine, method, path, userID string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndGetEscrow(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "POST", "/v1/escrows", "buyer-1", CreateRequest{
		ListingID:   "lst_abc123def456abc123def456",
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		AmountMinor: 2_000_000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var createResp struct {
		Escrow struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			AmountMinor int64  `json:"amountMinor"`
			FeeMinor    int64  `json:"feeMinor"`
		} `json:"escrow"`
		ReleaseCode string `json:"releaseCode"`
	}
	json.Unmarshal(w.Body.Bytes(), &createResp)

	if createResp.Escrow.Status != "initiated" {
		t.Errorf("Expected status initiated, got %s", createResp.Escrow.Status)
	}
	if createResp.Escrow.FeeMinor != 50_000 {
		t.Errorf("Expected fee 50000, got %d", createResp.Escrow.FeeMinor)
	}
	if createResp.ReleaseCode == "" {
		t.Error("Expected release code in the creation response")
	}

	w = doJSON(router, "GET", "/v1/escrows/"+createResp.Escrow.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	// The release code never appears on reads.
	if bytes.Contains(w.Body.Bytes(), []byte("releaseCode")) {
		t.Error("release code leaked in GET response")
	}
}

func TestHandler_CreateRequiresBuyerIdentity(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "POST", "/v1/escrows", "someone-else", CreateRequest{
		ListingID:   "lst_abc123def456abc123def456",
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		AmountMinor: 2_000_000,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_CreateBelowMinimum(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "POST", "/v1/escrows", "buyer-1", CreateRequest{
		ListingID:   "lst_abc123def456abc123def456",
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		AmountMinor: 100,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GetEscrowNotFound(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "GET", "/v1/escrows/esc_nonexistent", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_FullLifecycle(t *testing.T) {
	router, env := setupTestRouter()

	rec := createTestEscrow(t, env)

	w := doJSON(router, "POST", fmt.Sprintf("/v1/escrows/%s/fund", rec.ID), "buyer-1", FundRequest{PaymentMethod: "pm_card"})
	if w.Code != http.StatusOK {
		t.Fatalf("fund: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Seller with a wrong code is rejected.
	w = doJSON(router, "POST", fmt.Sprintf("/v1/escrows/%s/release", rec.ID), "seller-1", ReleaseRequest{ReleaseCode: "nope"})
	if w.Code != http.StatusForbidden {
		t.Errorf("bad code: expected 403, got %d: %s", w.Code, w.Body.String())
	}

	// Buyer releases without a code.
	w = doJSON(router, "POST", fmt.Sprintf("/v1/escrows/%s/release", rec.ID), "buyer-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Escrow struct {
			Status  string `json:"status"`
			Outcome string `json:"outcome"`
		} `json:"escrow"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Escrow.Status != "completed" || resp.Escrow.Outcome != "released_to_seller" {
		t.Errorf("status/outcome = %s/%s", resp.Escrow.Status, resp.Escrow.Outcome)
	}

	w = doJSON(router, "GET", fmt.Sprintf("/v1/escrows/%s/log", rec.ID), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("log: expected 200, got %d", w.Code)
	}
	var logResp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &logResp)
	if logResp.Count != 3 {
		t.Errorf("log count = %d, want 3", logResp.Count)
	}
}

func TestHandler_DisputeAndResolve(t *testing.T) {
	router, env := setupTestRouter()

	rec := createTestEscrow(t, env)
	fundTestEscrow(t, env, rec.ID)

	w := doJSON(router, "POST", fmt.Sprintf("/v1/escrows/%s/dispute", rec.ID), "buyer-1", DisputeRequest{Reason: "frame damage"})
	if w.Code != http.StatusOK {
		t.Fatalf("dispute: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Release is now blocked.
	w = doJSON(router, "POST", fmt.Sprintf("/v1/escrows/%s/release", rec.ID), "buyer-1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("release while disputed: expected 409, got %d", w.Code)
	}

	w = doJSON(router, "POST", fmt.Sprintf("/v1/admin/escrows/%s/resolve", rec.ID), "arb-1", ResolveRequest{
		Resolution:  "partial_refund",
		RefundMinor: 400_000,
		Notes:       "split for repair cost",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Escrow struct {
			Status       string `json:"status"`
			Outcome      string `json:"outcome"`
			RefundMinor  int64  `json:"refundMinor"`
			ArbitratorID string `json:"arbitratorId"`
		} `json:"escrow"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Escrow.Outcome != "partial_refund" || resp.Escrow.RefundMinor != 400_000 {
		t.Errorf("outcome/refund = %s/%d", resp.Escrow.Outcome, resp.Escrow.RefundMinor)
	}
	if resp.Escrow.ArbitratorID != "arb-1" {
		t.Errorf("arbitratorId = %s, want arb-1", resp.Escrow.ArbitratorID)
	}
}

func TestHandler_ResolveUnknownKind(t *testing.T) {
	router, env := setupTestRouter()
	rec := createTestEscrow(t, env)

	w := doJSON(router, "POST", fmt.Sprintf("/v1/admin/escrows/%s/resolve", rec.ID), "arb-1", ResolveRequest{
		Resolution: "split_the_difference",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown resolution, got %d", w.Code)
	}
}

func TestHandler_FundAfterDeadline(t *testing.T) {
	router, env := setupTestRouter()
	rec := createTestEscrow(t, env)
	env.advance(DefaultFundingWindow + time.Hour)

	w := doJSON(router, "POST", fmt.Sprintf("/v1/escrows/%s/fund", rec.ID), "buyer-1", FundRequest{PaymentMethod: "pm_card"})
	if w.Code != http.StatusGone {
		t.Errorf("expected 410, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ListUserEscrows(t *testing.T) {
	router, env := setupTestRouter()
	createTestEscrow(t, env)
	createTestEscrow(t, env)

	w := doJSON(router, "GET", "/v1/users/buyer-1/escrows", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}
