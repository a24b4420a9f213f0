package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crowdforge/escrow-engine/pkg/config"
	"github.com/crowdforge/escrow-engine/pkg/escrow"
	"github.com/crowdforge/escrow-engine/pkg/logging"
)

const (
	testTokenAddr    = "0x1000000000000000000000000000000000000001"
	testLauncherAddr = "0x2000000000000000000000000000000000000001"
	testAdminAddr    = "0x2000000000000000000000000000000000000002"
)

// newTestGateway runs a gateway with wallet auth disabled so callers are
// taken straight from the header.
func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	logger, err := logging.NewColoredLogger(logging.ComponentGateway, false)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	ledger := escrow.NewLedger(logger, escrow.NewMemoryVault(), nil, nil)
	cfg := &config.GatewayConfig{
		Enabled:        true,
		ListenAddr:     ":0",
		RequestTimeout: 5 * time.Second,
		AuthEnabled:    false,
	}
	gw, err := New(logger, cfg, ledger, nil, nil)
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}

	srv := httptest.NewServer(gw.router)
	t.Cleanup(srv.Close)
	return gw, srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, caller string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request build failed: %v", err)
	}
	if caller != "" {
		req.Header.Set(headerWalletAddress, caller)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := doJSON(t, srv, http.MethodPost, "/v1/escrows", testLauncherAddr, map[string]string{
		"id":       "0x6000000000000000000000000000000000000001",
		"token":    testTokenAddr,
		"launcher": testLauncherAddr,
		"admin":    testAdminAddr,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	id := "0x6000000000000000000000000000000000000001"
	resp = doJSON(t, srv, http.MethodPost, "/v1/escrows/"+id+"/deposit", testLauncherAddr,
		map[string]string{"amount": "100"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodGet, "/v1/escrows/"+id, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got escrow.Escrow
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()
	if got.Status != escrow.Launched {
		t.Errorf("status = %s", got.Status)
	}
	if got.Balance.String() != "100" {
		t.Errorf("balance = %s", got.Balance)
	}

	resp = doJSON(t, srv, http.MethodGet, "/v1/escrows/"+id+"/balance", "", nil)
	var balances map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&balances); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()
	if balances["balance"] != "100" || balances["remainingFunds"] != "100" {
		t.Errorf("balances = %v", balances)
	}
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	_, srv := newTestGateway(t)

	// Unknown escrow.
	resp := doJSON(t, srv, http.MethodGet, "/v1/escrows/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing escrow status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Mutation without a caller identity.
	resp = doJSON(t, srv, http.MethodPost, "/v1/escrows", "", map[string]string{
		"id": "x", "token": testTokenAddr, "launcher": testLauncherAddr, "admin": testAdminAddr,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("missing wallet status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Malformed address in body.
	resp = doJSON(t, srv, http.MethodPost, "/v1/escrows", testLauncherAddr, map[string]string{
		"id": "x", "token": "nope", "launcher": testLauncherAddr, "admin": testAdminAddr,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad token status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}
