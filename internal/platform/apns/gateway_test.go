// --- File: internal/platform/apns/gateway_test.go ---
package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// MockAPNSClient definition repeated here for internal test visibility
type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) Push(n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func forToken(t string) interface{} {
	return mock.MatchedBy(func(n *apns2.Notification) bool { return n.DeviceToken == t })
}

func TestSendMulticast_Internal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	msg := dispatch.Message{
		Notification: &dispatch.Notification{Title: "Hello iOS"},
		Data:         map[string]string{"msg_id": "123"},
	}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		gateway := newGateway(mockClient, "com.test.app", logger)

		mockClient.On("Push", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app"
		})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		results, err := gateway.SendMulticast(ctx, []string{"token-1"}, msg)

		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
		mockClient.AssertExpectations(t)
	})

	t.Run("Bad Device Token is marked invalid", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		gateway := newGateway(mockClient, "com.test.app", logger)

		mockClient.On("Push", forToken("good")).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)
		mockClient.On("Push", forToken("bad")).Return(&apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}, nil)

		results, err := gateway.SendMulticast(ctx, []string{"good", "bad"}, msg)

		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[0].Success)
		assert.False(t, results[1].Success)
		assert.True(t, results[1].Invalid)
		assert.Equal(t, "bad", results[1].Token)
	})

	t.Run("Configuration rejection is a failure but not invalid", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		gateway := newGateway(mockClient, "com.test.app", logger)

		mockClient.On("Push", mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonTopicDisallowed,
		}, nil)

		results, err := gateway.SendMulticast(ctx, []string{"token-1"}, msg)

		require.NoError(t, err)
		assert.False(t, results[0].Success)
		assert.False(t, results[0].Invalid)
		assert.Error(t, results[0].Err)
	})

	t.Run("Single transport failure is per token", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		gateway := newGateway(mockClient, "com.test.app", logger)

		mockClient.On("Push", forToken("A")).Return(nil, errors.New("stream reset"))
		mockClient.On("Push", forToken("B")).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		results, err := gateway.SendMulticast(ctx, []string{"A", "B"}, msg)

		require.NoError(t, err)
		assert.False(t, results[0].Success)
		assert.True(t, results[1].Success)
	})

	t.Run("Transport failure on every token is GatewayUnavailable", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		gateway := newGateway(mockClient, "com.test.app", logger)

		mockClient.On("Push", mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := gateway.SendMulticast(ctx, []string{"A", "B"}, msg)

		require.ErrorIs(t, err, dispatch.ErrGatewayUnavailable)
		mockClient.AssertNumberOfCalls(t, "Push", 2)
	})

	t.Run("Bad P8 key fails fast", func(t *testing.T) {
		_, err := NewGateway(Config{P8KeyContent: "not a key"}, logger)
		require.Error(t, err)
	})
}
