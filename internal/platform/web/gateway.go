// Package web delivers messages to browsers through the Web Push protocol (VAPID).
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// Config holds the VAPID credentials.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTL             int
}

// Gateway treats every device token as a JSON-encoded PushSubscription, as
// produced by the browser's PushManager.subscribe().
type Gateway struct {
	cfg        Config
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

func NewGateway(cfg Config, httpClient webpush.HTTPClient, logger *slog.Logger) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &Gateway{
		cfg:        cfg,
		logger:     logger.With("component", "WebPushGateway"),
		httpClient: httpClient,
	}
}

func (g *Gateway) SendMulticast(ctx context.Context, tokens []string, msg dispatch.Message) ([]dispatch.TokenResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	payloadBytes, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal payload: %w", dispatch.ErrGatewayUnavailable, err)
	}

	results := make([]dispatch.TokenResult, len(tokens))
	var lastTransportErr error
	transportFailures := 0

	for i, tok := range tokens {
		results[i].Token = tok

		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(tok), &sub); err != nil || sub.Endpoint == "" {
			results[i].Err = errors.New("token is not a push subscription")
			results[i].Invalid = true
			continue
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, &webpush.Options{
			Subscriber:      g.cfg.SubscriberEmail,
			VAPIDPublicKey:  g.cfg.PublicKey,
			VAPIDPrivateKey: g.cfg.PrivateKey,
			TTL:             g.cfg.TTL,
			HTTPClient:      g.httpClient,
		})
		if err != nil {
			// Transport error (DNS, Timeout) - Log and skip, don't delete
			g.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			results[i].Err = err
			lastTransportErr = err
			transportFailures++
			continue
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			results[i].Success = true
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			// Subscription is dead
			results[i].Invalid = true
			results[i].Err = fmt.Errorf("push service returned %d", resp.StatusCode)
		default:
			g.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			results[i].Err = fmt.Errorf("push service returned %d", resp.StatusCode)
		}
	}

	if transportFailures == len(tokens) {
		return nil, fmt.Errorf("%w: web push transport failed: %w", dispatch.ErrGatewayUnavailable, lastTransportErr)
	}
	return results, nil
}
