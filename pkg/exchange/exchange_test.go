package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulogger-ai/ulogger-upload/pkg/channel"
	"github.com/ulogger-ai/ulogger-upload/pkg/clierror"
	"github.com/ulogger-ai/ulogger-upload/pkg/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		CustomerID:    42,
		ApplicationID: 7,
		DeviceType:    "stm32h7",
		Version:       "1.4.2",
		GitHash:       "abc1234",
		Branch:        "main",
		FileName:      "firmware.axf",
		FileSize:      2048,
	}
}

// respond marshals an UploadResponse for injection.
func respond(t *testing.T, resp UploadResponse) []byte {
	t.Helper()
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	return data
}

func TestNewUploadRequest(t *testing.T) {
	req, err := NewUploadRequest(testConfig())
	require.NoError(t, err)

	assert.Equal(t, int64(42), req.CustomerID)
	assert.Equal(t, int64(7), req.ApplicationID)
	assert.Equal(t, "firmware.axf", req.FileName)
	assert.Equal(t, int64(2048), req.FileSize)
	assert.GreaterOrEqual(t, req.UploadID, int64(0))

	other, err := NewUploadRequest(testConfig())
	require.NoError(t, err)
	assert.NotEqual(t, req.UploadID, other.UploadID, "each invocation gets a fresh correlation id")
}

func TestTopics(t *testing.T) {
	req := &UploadRequest{UploadID: 12345, CustomerID: 42, DeviceType: "stm32h7"}

	assert.Equal(t, "upload/v0/firmware/42/stm32h7", req.RequestTopic())
	assert.Equal(t, "upload/v0/42/12345", req.ResponseTopic())
}

func TestExecute_SubscribeBeforePublish(t *testing.T) {
	t.Log("The response subscription must be active before the request is published")
	ch := channel.NewMock()
	req := &UploadRequest{UploadID: 1, CustomerID: 42, DeviceType: "stm32h7"}
	ch.Inject(channel.Message{Topic: req.ResponseTopic(), Payload: respond(t, UploadResponse{
		UploadID:     1,
		PresignedURL: "https://s3.example.com/axf?sig=abc",
	})})

	ex := New(ch, quietLogger())
	_, err := ex.Execute(context.Background(), req, time.Second)
	require.NoError(t, err)

	calls := ch.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "subscribe:upload/v0/42/1", calls[0])
	assert.Equal(t, "publish:upload/v0/firmware/42/stm32h7", calls[1])
}

func TestExecute_Fulfilled(t *testing.T) {
	ch := channel.NewMock()
	req := &UploadRequest{UploadID: 99, CustomerID: 42, DeviceType: "stm32h7", Version: "1.0.0"}
	ch.Inject(channel.Message{Topic: req.ResponseTopic(), Payload: respond(t, UploadResponse{
		UploadID:     99,
		PresignedURL: "https://s3.example.com/firmware.axf?sig=abc",
	})})

	ex := New(ch, quietLogger())
	resp, err := ex.Execute(context.Background(), req, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "https://s3.example.com/firmware.axf?sig=abc", resp.PresignedURL)
	assert.Equal(t, StateFulfilled, ex.State())

	// The published payload must round-trip to the same request.
	published := ch.Published()
	require.Len(t, published, 1)
	var echoed UploadRequest
	require.NoError(t, json.Unmarshal(published[0].Payload, &echoed))
	assert.Equal(t, *req, echoed)
}

func TestExecute_MismatchedCorrelationIDIgnored(t *testing.T) {
	t.Log("A response with the wrong upload id must not resolve the wait; a later correct one must")
	ch := channel.NewMock()
	req := &UploadRequest{UploadID: 7, CustomerID: 42, DeviceType: "stm32h7"}

	ch.Inject(channel.Message{Topic: req.ResponseTopic(), Payload: respond(t, UploadResponse{
		UploadID:     8, // someone else's matrix build
		PresignedURL: "https://s3.example.com/other",
	})})
	go func() {
		time.Sleep(100 * time.Millisecond)
		ch.Inject(channel.Message{Topic: req.ResponseTopic(), Payload: respond(t, UploadResponse{
			UploadID:     7,
			PresignedURL: "https://s3.example.com/mine",
		})})
	}()

	ex := New(ch, quietLogger())
	resp, err := ex.Execute(context.Background(), req, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "https://s3.example.com/mine", resp.PresignedURL)
	assert.Equal(t, int64(7), resp.UploadID)
	assert.Equal(t, StateFulfilled, ex.State())
}

func TestExecute_UndecodableResponseIgnored(t *testing.T) {
	ch := channel.NewMock()
	req := &UploadRequest{UploadID: 5, CustomerID: 42, DeviceType: "stm32h7"}

	ch.Inject(channel.Message{Topic: req.ResponseTopic(), Payload: []byte("not json")})
	ch.Inject(channel.Message{Topic: req.ResponseTopic(), Payload: respond(t, UploadResponse{
		UploadID:     5,
		PresignedURL: "https://s3.example.com/ok",
	})})

	ex := New(ch, quietLogger())
	resp, err := ex.Execute(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/ok", resp.PresignedURL)
}

func TestExecute_TimedOut(t *testing.T) {
	t.Log("With no response at all, the exchange fails with TIMED_OUT at the deadline")
	ch := channel.NewMock()
	req := &UploadRequest{UploadID: 3, CustomerID: 42, DeviceType: "stm32h7"}

	ex := New(ch, quietLogger())
	start := time.Now()
	_, err := ex.Execute(context.Background(), req, 150*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, clierror.CodeTimedOut, clierror.ErrorCode(err))
	assert.Equal(t, StateTimedOut, ex.State())
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "must not report timeout early")
	assert.Less(t, elapsed, time.Second, "must report timeout near the deadline")
}

func TestExecute_Rejected(t *testing.T) {
	tests := []struct {
		name string
		resp UploadResponse
	}{
		{"explicit error field", UploadResponse{UploadID: 11, Error: "unknown application_id"}},
		{"error status", UploadResponse{UploadID: 11, Status: "error", PresignedURL: "https://s3.example.com/x"}},
		{"no presigned url", UploadResponse{UploadID: 11, Status: "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := channel.NewMock()
			req := &UploadRequest{UploadID: 11, CustomerID: 42, DeviceType: "stm32h7"}
			ch.Inject(channel.Message{Topic: req.ResponseTopic(), Payload: respond(t, tt.resp)})

			ex := New(ch, quietLogger())
			_, err := ex.Execute(context.Background(), req, time.Second)

			require.Error(t, err)
			assert.Equal(t, clierror.CodeRejected, clierror.ErrorCode(err))
			assert.Equal(t, StateRejected, ex.State())
		})
	}
}

func TestExecute_SubscribeFailure(t *testing.T) {
	injected := errors.New("broker refused subscription")
	ch := channel.NewMock(channel.WithSubscribeError(injected))
	req := &UploadRequest{UploadID: 2, CustomerID: 42, DeviceType: "stm32h7"}

	ex := New(ch, quietLogger())
	_, err := ex.Execute(context.Background(), req, time.Second)

	require.ErrorIs(t, err, injected)
	assert.Empty(t, ch.Published(), "nothing may be published after a failed subscribe")
	assert.Equal(t, StateIdle, ex.State())
}

func TestExecute_PublishFailure(t *testing.T) {
	injected := errors.New("broker refused publish")
	ch := channel.NewMock(channel.WithPublishError(injected))
	req := &UploadRequest{UploadID: 2, CustomerID: 42, DeviceType: "stm32h7"}

	ex := New(ch, quietLogger())
	_, err := ex.Execute(context.Background(), req, time.Second)

	require.ErrorIs(t, err, injected)
	assert.Equal(t, StateSubscribed, ex.State())
}

func TestExecute_ContextCancelled(t *testing.T) {
	ch := channel.NewMock()
	req := &UploadRequest{UploadID: 4, CustomerID: 42, DeviceType: "stm32h7"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	ex := New(ch, quietLogger())
	_, err := ex.Execute(ctx, req, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
