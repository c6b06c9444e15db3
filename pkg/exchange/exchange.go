// Package exchange implements the one-shot request/await/fulfill
// protocol that turns an upload request into a presigned upload URL.
//
// The exchange is a small state machine:
//
//	Idle -> Subscribed -> Published -> (Fulfilled | TimedOut | Rejected)
//
// Subscription to the correlation-scoped response topic always precedes
// the request publish, so a response cannot arrive before anyone is
// listening. A random per-invocation upload id correlates the request
// with its response on the shared pub/sub namespace; responses carrying
// any other id are discarded without ending the wait. There is no
// internal retry: a timeout is terminal, and re-running the pipeline
// step is the retry mechanism.
package exchange

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ulogger-ai/ulogger-upload/pkg/channel"
	"github.com/ulogger-ai/ulogger-upload/pkg/clierror"
	"github.com/ulogger-ai/ulogger-upload/pkg/config"
)

// State identifies where the exchange is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateSubscribed
	StatePublished
	StateFulfilled
	StateTimedOut
	StateRejected
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StatePublished:
		return "published"
	case StateFulfilled:
		return "fulfilled"
	case StateTimedOut:
		return "timed_out"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// UploadRequest is the payload published to the request topic. Immutable
// after construction; the upload id doubles as the correlation id.
type UploadRequest struct {
	UploadID      int64  `json:"upload_id"`
	CustomerID    int64  `json:"customer_id"`
	ApplicationID int64  `json:"application_id"`
	DeviceType    string `json:"device_type"`
	Version       string `json:"version_number"`
	GitHash       string `json:"git_hash"`
	Branch        string `json:"branch"`
	FileName      string `json:"file_name"`
	FileSize      int64  `json:"file_size"`
}

// UploadResponse is the broker-side answer. Exactly one is consumed per
// invocation.
type UploadResponse struct {
	UploadID     int64  `json:"upload_id"`
	PresignedURL string `json:"presigned_url"`
	Status       string `json:"status,omitempty"`
	Error        string `json:"error,omitempty"`
}

// rejected reports whether the response is an explicit broker-side
// denial. A correlated response without a usable upload URL counts: the
// platform answered and declined.
func (r *UploadResponse) rejected() bool {
	if r.Error != "" {
		return true
	}
	if r.Status != "" && r.Status != "ok" && r.Status != "success" {
		return true
	}
	return r.PresignedURL == ""
}

// detail returns the denial text for diagnostics.
func (r *UploadResponse) detail() string {
	switch {
	case r.Error != "":
		return r.Error
	case r.Status != "":
		return fmt.Sprintf("status %q", r.Status)
	default:
		return "response carried no presigned URL"
	}
}

// NewUploadRequest builds the request for one invocation, generating a
// fresh random correlation id.
func NewUploadRequest(cfg *config.Config) (*UploadRequest, error) {
	id, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return nil, clierror.InternalError(fmt.Errorf("generate upload id: %w", err))
	}
	return &UploadRequest{
		UploadID:      id.Int64(),
		CustomerID:    cfg.CustomerID,
		ApplicationID: cfg.ApplicationID,
		DeviceType:    cfg.DeviceType,
		Version:       cfg.Version,
		GitHash:       cfg.GitHash,
		Branch:        cfg.Branch,
		FileName:      cfg.FileName,
		FileSize:      cfg.FileSize,
	}, nil
}

// RequestTopic is the well-known topic that routes the request to the
// platform's upload handler.
func (r *UploadRequest) RequestTopic() string {
	return fmt.Sprintf("upload/v0/firmware/%d/%s", r.CustomerID, r.DeviceType)
}

// ResponseTopic is the correlation-scoped topic the response arrives on.
func (r *UploadRequest) ResponseTopic() string {
	return fmt.Sprintf("upload/v0/%d/%d", r.CustomerID, r.UploadID)
}

// Exchange runs the request/response protocol over a connected channel.
type Exchange struct {
	ch    channel.Channel
	log   *slog.Logger
	state State
}

// New creates an Exchange in the Idle state.
func New(ch channel.Channel, log *slog.Logger) *Exchange {
	if log == nil {
		log = slog.Default()
	}
	return &Exchange{ch: ch, log: log}
}

// State returns the current lifecycle state.
func (e *Exchange) State() State {
	return e.state
}

// Execute performs the single request/response exchange: subscribe,
// publish, then block until a correlated response or the timeout. The
// returned response always carries a presigned URL; every other outcome
// is an error.
func (e *Exchange) Execute(ctx context.Context, req *UploadRequest, timeout time.Duration) (*UploadResponse, error) {
	responseTopic := req.ResponseTopic()
	if err := e.ch.Subscribe(responseTopic); err != nil {
		return nil, fmt.Errorf("subscribe response topic: %w", err)
	}
	e.state = StateSubscribed
	e.log.Debug("subscribed to response topic", "topic", responseTopic)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, clierror.InternalError(fmt.Errorf("encode upload request: %w", err))
	}
	if err := e.ch.Publish(req.RequestTopic(), payload); err != nil {
		return nil, fmt.Errorf("publish upload request: %w", err)
	}
	e.state = StatePublished
	e.log.Info("upload request published",
		"topic", req.RequestTopic(), "upload_id", req.UploadID, "timeout", timeout)

	var resp UploadResponse
	_, err = e.ch.AwaitMessage(ctx, timeout, func(msg channel.Message) bool {
		var candidate UploadResponse
		if jsonErr := json.Unmarshal(msg.Payload, &candidate); jsonErr != nil {
			e.log.Warn("undecodable message on response topic", "topic", msg.Topic, "error", jsonErr)
			return false
		}
		if candidate.UploadID != req.UploadID {
			e.log.Debug("ignoring response with mismatched upload id", "got", candidate.UploadID, "want", req.UploadID)
			return false
		}
		resp = candidate
		return true
	})
	if err != nil {
		if errors.Is(err, channel.ErrAwaitTimeout) {
			e.state = StateTimedOut
			return nil, clierror.ResponseTimeout(timeout)
		}
		return nil, fmt.Errorf("await upload response: %w", err)
	}

	if resp.rejected() {
		e.state = StateRejected
		return nil, clierror.RequestRejected(resp.detail())
	}

	e.state = StateFulfilled
	e.log.Info("upload response received", "upload_id", resp.UploadID)
	return &resp, nil
}
