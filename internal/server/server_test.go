package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lotline/lotline/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		LogFormat:            "text",
		PlatformFeeBPS:       250,
		MinEscrowAmountMinor: 50_000,
		FundingWindow:        48 * time.Hour,
		InspectionWindow:     72 * time.Hour,
		SweepInterval:        time.Hour,
		AdminSecret:          "test-secret",
	}
}

// newTestServer creates a server with in-memory storage and the demo gateway
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestEscrowRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	escrowRoutes := map[string]bool{
		"POST:/v1/escrows":                   false,
		"GET:/v1/escrows/:id":                false,
		"GET:/v1/escrows/:id/log":            false,
		"POST:/v1/escrows/:id/fund":          false,
		"POST:/v1/escrows/:id/release":       false,
		"POST:/v1/escrows/:id/dispute":       false,
		"GET:/v1/users/:id/escrows":          false,
		"POST:/v1/admin/escrows/:id/resolve": false,
		"GET:/v1/admin/escrows/:id":          false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := escrowRoutes[key]; ok {
			escrowRoutes[key] = true
		}
	}

	for route, found := range escrowRoutes {
		if !found {
			t.Errorf("Escrow route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/listings",
		"GET:/v1/listings/:id",
		"GET:/v1/sellers/:id/listings",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Admin guard tests
// ---------------------------------------------------------------------------

func TestAdminRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/admin/escrows/esc_none", "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without secret, got %d", w.Code)
	}

	w = doJSON(t, s, "GET", "/v1/admin/escrows/esc_none", "", map[string]string{
		"X-Admin-Secret": "wrong",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with wrong secret, got %d", w.Code)
	}

	// Correct secret reaches the handler (404 because the escrow doesn't exist)
	w = doJSON(t, s, "GET", "/v1/admin/escrows/esc_none", "", map[string]string{
		"X-Admin-Secret": "test-secret",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with correct secret, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMalformedIdentityRejected(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/listings/lst_x", "", map[string]string{
		"X-User-ID": "not a valid id!!",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed identity, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end flow over HTTP (in-memory storage, demo gateway)
// ---------------------------------------------------------------------------

func TestListingToEscrowFlow(t *testing.T) {
	s := newTestServer(t)

	// Seller publishes a listing
	w := doJSON(t, s, "POST", "/v1/listings",
		`{"sellerId":"seller-1","title":"2019 Outback","make":"Subaru","model":"Outback","year":2019,"priceMinor":2000000}`,
		map[string]string{"X-User-ID": "seller-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create listing: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var listingResp struct {
		Listing struct {
			ID string `json:"id"`
		} `json:"listing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listingResp); err != nil {
		t.Fatalf("Failed to parse listing response: %v", err)
	}

	// Buyer opens an escrow against it
	body := fmt.Sprintf(
		`{"listingId":%q,"buyerId":"buyer-1","sellerId":"seller-1","amountMinor":2000000}`,
		listingResp.Listing.ID)
	w = doJSON(t, s, "POST", "/v1/escrows", body, map[string]string{"X-User-ID": "buyer-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create escrow: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var escrowResp struct {
		Escrow struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			FeeMinor int64  `json:"feeMinor"`
		} `json:"escrow"`
		ReleaseCode string `json:"releaseCode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &escrowResp); err != nil {
		t.Fatalf("Failed to parse escrow response: %v", err)
	}
	if escrowResp.ReleaseCode == "" {
		t.Error("Expected releaseCode in create response")
	}
	// 2,000,000 at the configured 250 bps.
	if escrowResp.Escrow.FeeMinor != 50_000 {
		t.Errorf("Expected feeMinor 50000, got %d", escrowResp.Escrow.FeeMinor)
	}

	// Buyer funds
	w = doJSON(t, s, "POST", "/v1/escrows/"+escrowResp.Escrow.ID+"/fund",
		`{"paymentMethod":"pm_card_visa"}`,
		map[string]string{"X-User-ID": "buyer-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Fund: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Buyer releases
	w = doJSON(t, s, "POST", "/v1/escrows/"+escrowResp.Escrow.ID+"/release", "{}",
		map[string]string{"X-User-ID": "buyer-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Release: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var released struct {
		Escrow struct {
			Status  string `json:"status"`
			Outcome string `json:"outcome"`
		} `json:"escrow"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &released); err != nil {
		t.Fatalf("Failed to parse release response: %v", err)
	}
	if released.Escrow.Status != "completed" {
		t.Errorf("Expected completed, got %s", released.Escrow.Status)
	}
	if released.Escrow.Outcome != "released_to_seller" {
		t.Errorf("Expected released_to_seller, got %s", released.Escrow.Outcome)
	}

	// Audit log records the full path
	w = doJSON(t, s, "GET", "/v1/escrows/"+escrowResp.Escrow.ID+"/log", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Log: expected 200, got %d", w.Code)
	}
	var logResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &logResp); err != nil {
		t.Fatalf("Failed to parse log response: %v", err)
	}
	if logResp.Count != 3 {
		t.Errorf("Expected 3 log entries, got %d", logResp.Count)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
