// Package rest submits transfers to an HTTP bank gateway with HMAC-signed
// requests.
package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/craftora/payline/internal/gateway/domain"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

type Gateway struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Gateway, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" || cfg.Secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.Named("gateway.rest"),
	}, nil
}

type transferResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

func (g *Gateway) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	httpReq.Header.Set("X-Signature", g.sign(body))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			g.log.Warn("transfer timed out",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err),
			)
			return nil, domain.ErrTransferTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out transferResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("decode transfer response: %w", err)
		}
		if out.Reference == "" {
			return nil, fmt.Errorf("transfer response missing reference")
		}
		return &domain.TransferResult{Reference: out.Reference}, nil

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, domain.ErrTransferTimeout

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var out transferResponse
		_ = json.Unmarshal(payload, &out)
		if out.Reason == "" {
			out.Reason = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return nil, &domain.GatewayError{Reason: out.Reason, Message: out.Message}

	default:
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
}

func (g *Gateway) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
