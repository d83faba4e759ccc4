package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResponsesCarryHardeningHeaders(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	want := map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Referrer-Policy":            "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	for header, value := range want {
		if got := res.Header().Get(header); got != value {
			t.Fatalf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestCORSPreflightAllowsManagerPINHeader(t *testing.T) {
	api := newTestAPI(t)
	api.allowedOrigin = "http://till.local"

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/shops/main-shop/sales/inv-1", nil)
	req.Header.Set("Origin", "http://till.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, X-Manager-PIN")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "http://till.local" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
	if !strings.Contains(strings.ToLower(res.Header().Get("Access-Control-Allow-Headers")), "x-manager-pin") {
		t.Fatalf("expected X-Manager-PIN in allowed headers, got %q", res.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestRoutesUnderShopRequireBearerToken(t *testing.T) {
	api := newTestAPI(t)
	for _, header := range []string{"", "Basic bWFuYWdlcjp4", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/shops/main-shop/stock", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)

		if res.Code != http.StatusUnauthorized {
			t.Fatalf("Authorization %q: expected 401, got %d", header, res.Code)
		}
	}
}

func TestBodyLimitIsLargerForSyncBatches(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, "manager")
	padding := strings.Repeat("x", (1<<20)+512)

	customer := `{"id":"cus-big","name":"` + padding + `"}`
	res := doRaw(api, http.MethodPost, "/api/v1/shops/main-shop/customers", token, customer)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized customer body, got %d", res.Code)
	}

	batch := `{"items":[{"id":"cus-big","name":"Bu Ani","phone":"` + padding + `"}]}`
	res = doRaw(api, http.MethodPost, "/api/v1/shops/main-shop/sync/customers", token, batch)
	if res.Code != http.StatusOK {
		t.Fatalf("expected sync batch over 1MiB to be read, got %d: %.200s", res.Code, res.Body.String())
	}
}

func TestManagerPINAttemptsLimitedPerAddress(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, "manager")

	attempt := func(addr string) int {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/shops/main-shop/sales/inv-missing", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Manager-PIN", "000000")
		req.RemoteAddr = addr
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res.Code
	}

	for i := 1; i <= 8; i++ {
		if code := attempt("10.0.0.7:5001"); code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403, got %d", i, code)
		}
	}
	if code := attempt("10.0.0.7:6002"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the address is over the limit, got %d", code)
	}
	if code := attempt("10.0.0.8:5001"); code != http.StatusForbidden {
		t.Fatalf("another address must keep its own budget, got %d", code)
	}
}

func TestParsePositiveLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"9999", 200},
		{"-3", 50},
		{"", 50},
		{" 20 ", 20},
		{"ten", 50},
	}
	for _, tc := range cases {
		if got := parsePositiveLimit(tc.raw, 50, 200); got != tc.want {
			t.Fatalf("parsePositiveLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func doRaw(api *API, method string, path string, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}
