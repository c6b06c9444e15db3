// Package transfer moves the artifact bytes to the presigned upload URL.
//
// The transfer is one PUT: the file is streamed from disk as the request
// body so memory use stays bounded for large firmware images, and any
// non-2xx status is a terminal transfer error. Authentication is
// whatever the presigned URL embeds; no extra headers beyond the content
// type are sent.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/ulogger-ai/ulogger-upload/pkg/clierror"
)

const contentType = "application/octet-stream"

// errorBodyLimit caps how much of a failure response is quoted in the
// diagnostic.
const errorBodyLimit = 512

// Uploader performs the artifact PUT.
type Uploader struct {
	client *http.Client
	log    *slog.Logger
}

// New creates an Uploader. A nil client uses http.DefaultClient; the
// caller's context bounds the transfer, not a client timeout, so large
// artifacts on slow links are not cut off arbitrarily.
func New(client *http.Client, log *slog.Logger) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Uploader{client: client, log: log}
}

// Put streams the file at filePath to url in a single PUT. size must be
// the file's byte length; it becomes the Content-Length so object
// storage can validate the upload. Success is any 2xx status.
func (u *Uploader) Put(ctx context.Context, url, filePath string, size int64) error {
	f, err := os.Open(filePath)
	if err != nil {
		return clierror.TransferFailed(fmt.Sprintf("open artifact: %v", err))
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return clierror.TransferFailed(fmt.Sprintf("build request: %v", err))
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	u.log.Info("uploading artifact", "file", filePath, "bytes", size)
	resp, err := u.client.Do(req)
	if err != nil {
		return clierror.TransferFailed(fmt.Sprintf("transport failure: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return clierror.TransferFailed(fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, snippet))
	}

	u.log.Info("artifact stored", "status", resp.StatusCode)
	return nil
}
