// Package wallet talks to the external wallet service, the system of record
// for all monetary balances. This service never holds money itself.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-voucher/internal/obs"
	"github.com/noah-isme/backend-voucher/internal/resilience"
)

const (
	purchasePath = "/api/purchaseVoucher/"
	topupPath    = "/api/topupwallet/"

	opDebit  = "debit"
	opCredit = "credit"
)

// GatewayError carries a wallet refusal verbatim so the HTTP layer can relay
// the downstream status and body unchanged.
type GatewayError struct {
	Operation string
	Status    int
	Body      []byte
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("wallet: %s rejected with status %d", e.Operation, e.Status)
}

type transaction struct {
	Amount  int64  `json:"amount"`
	PhoneNo string `json:"phoneNo"`
	Desc    string `json:"desc"`
}

// Client is the HTTP wallet gateway. Requests run with a single attempt:
// a debit or credit whose outcome is unknown must never be replayed.
type Client struct {
	baseURL string
	http    resilience.HTTPClient
	log     zerolog.Logger
}

// NewClient wires a wallet client against the given base URL.
func NewClient(baseURL string, timeout time.Duration, breaker *resilience.Breaker, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     breaker,
			MaxAttempts: 1,
			Timeout:     timeout,
		},
		log: log.With().Str("component", "wallet").Logger(),
	}
}

// Debit charges a driver's wallet for a voucher purchase.
func (c *Client) Debit(ctx context.Context, auth, phoneNumber string, amount int64, desc string) error {
	return c.post(ctx, opDebit, purchasePath, auth, transaction{Amount: amount, PhoneNo: phoneNumber, Desc: desc})
}

// Credit tops up a rider's wallet with a redeemed voucher's face value.
func (c *Client) Credit(ctx context.Context, auth, phoneNumber string, amount int64, desc string) error {
	return c.post(ctx, opCredit, topupPath, auth, transaction{Amount: amount, PhoneNo: phoneNumber, Desc: desc})
}

func (c *Client) post(ctx context.Context, op, path, auth string, tx transaction) error {
	start := time.Now()
	err := c.doPost(ctx, op, path, auth, tx)
	obs.WalletRequestLatency.WithLabelValues(op).Observe(obs.DurationMillis(time.Since(start)))

	result := "success"
	if err != nil {
		result = "error"
		if _, ok := err.(*GatewayError); ok {
			result = "rejected"
		}
	}
	obs.WalletRequestsTotal.WithLabelValues(op, result).Inc()
	if err != nil {
		c.log.Warn().Err(err).Str("operation", op).Int64("amount", tx.Amount).Msg("wallet call failed")
	}
	return err
}

func (c *Client) doPost(ctx context.Context, op, path, auth string, tx transaction) error {
	body, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("wallet: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wallet: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// Cap the relayed body so a misbehaving gateway cannot balloon memory.
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("wallet: read %s response: %w", op, err)
	}
	return &GatewayError{Operation: op, Status: resp.StatusCode, Body: payload}
}
