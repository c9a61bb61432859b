package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-voucher/internal/obs"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", nil)
	os.Exit(m.Run())
}

type recorded struct {
	path string
	auth string
	body transaction
}

func newGateway(t *testing.T, status int, respBody string) (*httptest.Server, *recorded) {
	t.Helper()
	var rec recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &rec.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &rec
}

func TestDebitPostsPurchase(t *testing.T) {
	srv, rec := newGateway(t, http.StatusCreated, `{"ok":true}`)
	c := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	err := c.Debit(context.Background(), "Bearer tok", "+254700000001", 80, "Voucher Purchase By Driver")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if rec.path != "/api/purchaseVoucher/" {
		t.Fatalf("unexpected path %q", rec.path)
	}
	if rec.auth != "Bearer tok" {
		t.Fatalf("authorization not forwarded, got %q", rec.auth)
	}
	if rec.body.Amount != 80 || rec.body.PhoneNo != "+254700000001" || rec.body.Desc != "Voucher Purchase By Driver" {
		t.Fatalf("unexpected body %+v", rec.body)
	}
}

func TestCreditPostsTopup(t *testing.T) {
	srv, rec := newGateway(t, http.StatusCreated, `{"ok":true}`)
	c := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	err := c.Credit(context.Background(), "Bearer tok", "+254711111111", 100, "Voucher Purchase By Rider")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if rec.path != "/api/topupwallet/" {
		t.Fatalf("unexpected path %q", rec.path)
	}
}

func TestNon201SurfacesGatewayError(t *testing.T) {
	srv, _ := newGateway(t, http.StatusPaymentRequired, `{"error":"insufficient funds"}`)
	c := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	err := c.Debit(context.Background(), "Bearer tok", "+254700000001", 80, "Voucher Purchase By Driver")
	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gw.Status != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", gw.Status)
	}
	if string(gw.Body) != `{"error":"insufficient funds"}` {
		t.Fatalf("body not preserved: %s", gw.Body)
	}
}

func TestNon201BodyRelayedWholeWhenStreamedSlowly(t *testing.T) {
	// A gateway that flushes part of the error body and trickles the rest
	// must still have its body relayed complete, not cut off when the HTTP
	// call returns.
	first := bytes.Repeat([]byte("a"), 8<<10)
	second := bytes.Repeat([]byte("b"), 8<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write(first)
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write(second)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 5*time.Second, nil, zerolog.Nop())

	err := c.Debit(context.Background(), "Bearer tok", "+254700000001", 80, "Voucher Purchase By Driver")
	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if got, want := len(gw.Body), len(first)+len(second); got != want {
		t.Fatalf("body truncated: got %d bytes, want %d", got, want)
	}
}

func TestSuccess200IsNotEnough(t *testing.T) {
	// The gateway contract is explicit: only 201 means money moved.
	srv, _ := newGateway(t, http.StatusOK, `{"ok":true}`)
	c := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	err := c.Debit(context.Background(), "Bearer tok", "+254700000001", 80, "Voucher Purchase By Driver")
	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("expected GatewayError for 200, got %v", err)
	}
}

func TestGateway5xxPassesThrough(t *testing.T) {
	srv, _ := newGateway(t, http.StatusServiceUnavailable, `{"error":"down"}`)
	c := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	err := c.Credit(context.Background(), "Bearer tok", "+254711111111", 100, "Voucher Purchase By Rider")
	var gw *GatewayError
	if !errors.As(err, &gw) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gw.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", gw.Status)
	}
}
