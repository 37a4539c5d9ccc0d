package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// NewProcessor creates the stage that hands each decoded request to the sender.
// A user without devices is acknowledged and dropped; any other failure is
// returned to the pipeline, which decides on redelivery.
func NewProcessor(sender dispatch.Sender, logger *slog.Logger) messagepipeline.StreamProcessor[SendRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *SendRequest) error {
		procLogger := logger.With(
			"user", request.UserID,
			"pubsub_msg_id", original.ID,
		)

		outcome, err := sender.Send(ctx, request.UserID, request.Message)
		if errors.Is(err, dispatch.ErrNoRecipients) {
			procLogger.Info("No devices registered for user; dropping message.")
			return nil
		}
		if err != nil {
			procLogger.Error("Dispatch failed", "err", err)
			return err
		}

		procLogger.Info("Dispatched",
			"dispatch_id", outcome.DispatchID,
			"success", outcome.SuccessCount(),
			"failure", outcome.FailureCount(),
		)
		return nil
	}
}
