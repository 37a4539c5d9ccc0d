// --- File: internal/platform/fcm/gateway.go ---
// Package fcm sends multicast messages through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// MaxMulticastTokens is the FCM limit on tokens per multicast message.
const MaxMulticastTokens = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

// NewGateway accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

func (g *Gateway) SendMulticast(ctx context.Context, tokens []string, msg dispatch.Message) ([]dispatch.TokenResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > MaxMulticastTokens {
		return nil, fmt.Errorf("%w: %d tokens exceeds fcm multicast limit of %d",
			dispatch.ErrGatewayUnavailable, len(tokens), MaxMulticastTokens)
	}

	mm := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
	}
	if n := msg.Notification; n != nil {
		mm.Notification = &messaging.Notification{
			Title:    n.Title,
			Body:     n.Body,
			ImageURL: n.ImageURL,
		}
	}

	br, err := g.client.SendEachForMulticast(ctx, mm)
	if err != nil {
		// Network, auth or quota failure of the whole batch
		return nil, fmt.Errorf("%w: fcm transport failed: %w", dispatch.ErrGatewayUnavailable, err)
	}
	if len(br.Responses) != len(tokens) {
		return nil, fmt.Errorf("%w: fcm returned %d responses for %d tokens",
			dispatch.ErrGatewayUnavailable, len(br.Responses), len(tokens))
	}

	results := make([]dispatch.TokenResult, len(tokens))
	for idx, resp := range br.Responses {
		results[idx] = dispatch.TokenResult{Token: tokens[idx], Success: resp.Success}
		if resp.Success {
			continue
		}
		results[idx].Err = resp.Error
		// The token is garbage; anything else may succeed on a later send.
		results[idx].Invalid = isInvalidToken(resp.Error)
	}

	g.logger.Debug("FCM batch sent", "success", br.SuccessCount, "failure", br.FailureCount)
	return results, nil
}

func isInvalidToken(err error) bool {
	if err == nil {
		return false
	}
	return messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err)
}
