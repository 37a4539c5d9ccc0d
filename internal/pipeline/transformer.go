// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the asynchronous send path: messages published to
// Pub/Sub are decoded and handed to the fan-out service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// SendRequest is the payload of one queued send.
type SendRequest struct {
	UserID  string           `json:"user_id"`
	Message dispatch.Message `json:"message"`
}

// SendRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a SendRequest.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*SendRequest, bool, error) {
	var req SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true so the StreamingService can handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if req.UserID == "" {
		return nil, true, fmt.Errorf("send request in message %s has no user_id", msg.ID)
	}
	return &req, false, nil
}
