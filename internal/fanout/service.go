// Package fanout turns a (user, message) pair into a multicast gateway call.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// DefaultMaxBatchSize is the FCM multicast limit.
const DefaultMaxBatchSize = 500

type Config struct {
	// MaxBatchSize caps the tokens handed to one gateway call. Larger sets are
	// split into consecutive batches.
	MaxBatchSize int
	// PruneInvalidTokens unregisters tokens the gateway reports as permanently invalid.
	PruneInvalidTokens bool
}

// Service fans a message out to every device registered for a user. It holds
// no mutable state; each Send works on a snapshot of the user's tokens.
type Service struct {
	registry dispatch.Registry
	gateway  dispatch.Gateway
	cfg      Config
	logger   *slog.Logger
}

func NewService(registry dispatch.Registry, gateway dispatch.Gateway, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Service{
		registry: registry,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger.With("component", "FanoutService"),
	}
}

// Send delivers msg to all of the user's devices.
//
// It fails with ErrNoRecipients when the user has no tokens (the gateway is not
// called), with ErrStoreUnavailable when the registry cannot be read, and with
// ErrGatewayUnavailable when a gateway call fails as a whole. Per-token failures
// are reported in the Outcome and do not fail the call.
func (s *Service) Send(ctx context.Context, user string, msg dispatch.Message) (*dispatch.Outcome, error) {
	tokens, err := s.registry.ListTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: user %s", dispatch.ErrNoRecipients, user)
	}

	tokens = slices.Clone(tokens)
	slices.Sort(tokens)

	outcome := &dispatch.Outcome{
		DispatchID: uuid.NewString(),
		Results:    make([]dispatch.TokenResult, 0, len(tokens)),
	}
	logger := s.logger.With("user", user, "dispatch_id", outcome.DispatchID)

	for batch := range slices.Chunk(tokens, s.cfg.MaxBatchSize) {
		results, err := s.gateway.SendMulticast(ctx, batch, msg)
		if err == nil && len(results) != len(batch) {
			err = fmt.Errorf("gateway returned %d results for %d tokens", len(results), len(batch))
		}
		if err != nil {
			logger.Error("Gateway call failed", "delivered_before_failure", outcome.SuccessCount(), "err", err)
			if !errors.Is(err, dispatch.ErrGatewayUnavailable) {
				err = fmt.Errorf("%w: %w", dispatch.ErrGatewayUnavailable, err)
			}
			return nil, err
		}
		for i, r := range results {
			// the gateway's view of the token is authoritative only by position
			r.Token = batch[i]
			outcome.Results = append(outcome.Results, r)
		}
	}

	if failed := outcome.Failed(); len(failed) > 0 {
		logger.Warn("List of tokens that caused failures", "failed_tokens", failed, "success", outcome.SuccessCount())
	} else {
		logger.Info("Dispatched", "tokens", len(tokens))
	}

	if s.cfg.PruneInvalidTokens {
		s.prune(ctx, logger, user, outcome.Invalid())
	}

	return outcome, nil
}

func (s *Service) prune(ctx context.Context, logger *slog.Logger, user string, invalid []string) {
	if len(invalid) == 0 {
		return
	}
	logger.Info("Cleaning up invalid tokens", "count", len(invalid))
	for _, t := range invalid {
		if _, err := s.registry.Unregister(ctx, user, t); err != nil {
			logger.Warn("Failed to delete invalid token", "token", t, "err", err)
		}
	}
}
