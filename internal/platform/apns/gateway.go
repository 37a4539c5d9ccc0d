// --- File: internal/platform/apns/gateway.go ---
// Package apns provides the gateway for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Gateway struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Production   bool
}

// NewGateway creates a configured APNS gateway.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return newGateway(client, cfg.BundleID, logger), nil
}

func newGateway(client APNSClient, topic string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSGateway"),
	}
}

// SendMulticast sends the message to each token in turn.
// Note: APNs HTTP/2 API is unary (one request per token). There is no "Multicast" endpoint.
// The call only fails as a whole when every token failed at the transport level.
func (g *Gateway) SendMulticast(ctx context.Context, tokens []string, msg dispatch.Message) ([]dispatch.TokenResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	builder := payload.NewPayload()
	if n := msg.Notification; n != nil {
		builder.AlertTitle(n.Title).AlertBody(n.Body)
		if n.ImageURL != "" {
			// Rendered by a notification service extension on the device.
			builder.MutableContent().Custom("image", n.ImageURL)
		}
	} else {
		builder.ContentAvailable()
	}
	for k, v := range msg.Data {
		builder.Custom(k, v)
	}

	results := make([]dispatch.TokenResult, len(tokens))
	var lastTransportErr error
	transportFailures := 0

	for i, deviceToken := range tokens {
		results[i].Token = deviceToken
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", dispatch.ErrGatewayUnavailable, err)
		}

		res, err := g.client.Push(&apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       g.topic,
			Payload:     builder,
		})
		if err != nil {
			g.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			results[i].Err = err
			lastTransportErr = err
			transportFailures++
			continue
		}

		if res.Sent() {
			results[i].Success = true
			continue
		}

		results[i].Err = fmt.Errorf("apns rejected: %d %s", res.StatusCode, res.Reason)
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			// Token is dead.
			results[i].Invalid = true
		default:
			// The token might be fine, but our configuration is wrong.
			g.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	if transportFailures == len(tokens) {
		return nil, fmt.Errorf("%w: apns transport failed: %w", dispatch.ErrGatewayUnavailable, lastTransportErr)
	}
	return results, nil
}
