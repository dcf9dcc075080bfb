package postback_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/omran/offerwall-api/internal/domain/postback"
	"github.com/omran/offerwall-api/internal/pkg/signature"
)

func newTestServer(store postback.Store) *httptest.Server {
	h := postback.NewHandler(newService(store))
	return httptest.NewServer(h.Routes())
}

func postAdGem(t *testing.T, srv *httptest.Server, body []byte, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/adgem", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if sig != "" {
		req.Header.Set("X-Adgem-Signature", sig)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeAdGem(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAdGemEndpointMethodNotAllowed(t *testing.T) {
	srv := newTestServer(newFakeStore("U1"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/adgem")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}
}

func TestAdGemEndpointRejectsBadSignature(t *testing.T) {
	store := newFakeStore("U1")
	srv := newTestServer(store)
	defer srv.Close()

	body := adgemBody(t, map[string]interface{}{
		"event":         "conversion",
		"player_id":     "P1",
		"payout":        1.0,
		"conversion_id": "C1",
	})

	resp := postAdGem(t, srv, body, strings.Repeat("0", 64))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	out := decodeAdGem(t, resp)
	if out["error"] != "Invalid signature" {
		t.Fatalf("expected invalid-signature error body, got %v", out)
	}
	if len(store.txs) != 0 {
		t.Fatal("expected no store mutation on rejected request")
	}
}

func TestAdGemEndpointSuccessShape(t *testing.T) {
	store := newFakeStore("U1")
	store.accounts["adgem:P1"] = "U1"
	srv := newTestServer(store)
	defer srv.Close()

	body := adgemBody(t, map[string]interface{}{
		"event":         "conversion",
		"player_id":     "P1",
		"payout":        2.0,
		"conversion_id": "C1",
	})

	resp := postAdGem(t, srv, body, signature.SignHMAC(body, adgemSecret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeAdGem(t, resp)
	if out["success"] != true {
		t.Fatalf("expected success:true, got %v", out)
	}
	if out["status"] != string(postback.OutcomeProcessed) {
		t.Fatalf("expected status processed, got %v", out["status"])
	}
	if out["user_id"] != "U1" || out["points"] != float64(200) {
		t.Fatalf("expected U1 credited 200, got %v", out)
	}
	if out["received_at"] == nil {
		t.Fatal("expected a received_at timestamp")
	}
}

func TestAdGemEndpointAcknowledgesStoreFailure(t *testing.T) {
	store := newFakeStore("U1")
	store.accounts["adgem:P1"] = "U1"
	store.failNext = errors.New("connection refused")
	srv := newTestServer(store)
	defer srv.Close()

	body := adgemBody(t, map[string]interface{}{
		"event":         "conversion",
		"player_id":     "P1",
		"payout":        1.0,
		"conversion_id": "C1",
	})

	resp := postAdGem(t, srv, body, signature.SignHMAC(body, adgemSecret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 even on internal failure, got %d", resp.StatusCode)
	}
	out := decodeAdGem(t, resp)
	if out["success"] != false {
		t.Fatalf("expected success:false, got %v", out)
	}
	if out["note"] != "Error logged but request accepted" {
		t.Fatalf("expected accept-and-log note, got %v", out)
	}
}

func TestAdGemEndpointAcknowledgesMalformedBody(t *testing.T) {
	srv := newTestServer(newFakeStore("U1"))
	defer srv.Close()

	body := []byte("{not json")
	resp := postAdGem(t, srv, body, signature.SignHMAC(body, adgemSecret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for undecodable body, got %d", resp.StatusCode)
	}
	out := decodeAdGem(t, resp)
	if out["success"] != false {
		t.Fatalf("expected success:false, got %v", out)
	}
}

func getCPX(t *testing.T, srv *httptest.Server, params url.Values) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/cpx?" + params.Encode())
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, buf.String()
}

func TestCPXEndpointOK(t *testing.T) {
	store := newFakeStore("U1")
	srv := newTestServer(store)
	defer srv.Close()

	code, body := getCPX(t, srv, url.Values{
		"status":       {"1"},
		"trans_id":     {"T1"},
		"user_id":      {"U1"},
		"amount_local": {"2.00"},
		"secure_hash":  {cpxHash("T1")},
	})
	if code != http.StatusOK || body != "OK" {
		t.Fatalf("expected 200 OK, got %d %q", code, body)
	}
	if store.users["U1"].balance != 150 {
		t.Fatalf("expected 150 points credited, got %d", store.users["U1"].balance)
	}
}

func TestCPXEndpointMissingParameters(t *testing.T) {
	srv := newTestServer(newFakeStore("U1"))
	defer srv.Close()

	code, body := getCPX(t, srv, url.Values{
		"status": {"1"},
	})
	if code != http.StatusBadRequest || body != "Missing parameters" {
		t.Fatalf("expected 400 Missing parameters, got %d %q", code, body)
	}
}

func TestCPXEndpointInvalidHash(t *testing.T) {
	store := newFakeStore("U1")
	srv := newTestServer(store)
	defer srv.Close()

	code, body := getCPX(t, srv, url.Values{
		"status":      {"1"},
		"trans_id":    {"T1"},
		"user_id":     {"U1"},
		"secure_hash": {strings.Repeat("a", 32)},
	})
	if code != http.StatusForbidden || body != "Invalid hash" {
		t.Fatalf("expected 403 Invalid hash, got %d %q", code, body)
	}
	if len(store.txs) != 0 {
		t.Fatal("expected no store mutation on rejected request")
	}
}

func TestCPXEndpointAcknowledgesStoreFailure(t *testing.T) {
	store := newFakeStore("U1")
	store.failNext = errors.New("connection refused")
	srv := newTestServer(store)
	defer srv.Close()

	code, body := getCPX(t, srv, url.Values{
		"status":       {"1"},
		"trans_id":     {"T1"},
		"user_id":      {"U1"},
		"amount_local": {"2.00"},
		"secure_hash":  {cpxHash("T1")},
	})
	if code != http.StatusOK || body != "OK" {
		t.Fatalf("expected 200 OK even on internal failure, got %d %q", code, body)
	}
}
