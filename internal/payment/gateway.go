package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mikaelchan95/easiapp-order-service/internal/config"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/pkg/limiter"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"github.com/shopspring/decimal"
)

// Gateway captures payments against a real HTTP payment gateway.
// Transient transport failures are retried by the client; declines
// are not retried, they are outcomes.
type Gateway struct {
	client  *retryablehttp.Client
	limiter *limiter.DynamicRateLimiter
	addr    string
	logger  logger.Logger
}

type captureRequest struct {
	MethodType string          `json:"method_type"`
	Token      string          `json:"token"`
	Amount     decimal.Decimal `json:"amount"`
}

func NewGateway(cfg *config.Config, logger logger.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("nil dependency: config")
	}
	if cfg.Payment.GatewayAddr == "" {
		return nil, errors.New("payment gateway address is not configured")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = cfg.Payment.CaptureTimeout
	client.Logger = nil

	return &Gateway{
		client:  client,
		limiter: limiter.NewDynamicRateLimiter(cfg.Payment.RateInterval, cfg.Payment.RateBurst),
		addr:    cfg.Payment.GatewayAddr,
		logger:  logger,
	}, nil
}

var _ Adapter = (*Gateway)(nil)

func (g *Gateway) Capture(ctx context.Context, method order.PaymentMethod, amount decimal.Decimal) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gateway rate limiter: %w", err)
	}

	payload, err := json.Marshal(captureRequest{
		MethodType: method.Type,
		Token:      method.Token,
		Amount:     amount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal capture request: %w", err)
	}

	url := fmt.Sprintf("%s/api/capture", g.addr)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture call: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusPaymentRequired:
	default:
		return nil, fmt.Errorf("gateway returned %s", res.Status)
	}

	result := new(Result)
	if err = json.NewDecoder(res.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decode capture response: %w", err)
	}

	return result, nil
}
