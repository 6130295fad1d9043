// Package upload sends canonical payloads to the remote ingestion endpoint.
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
)

// DefaultTimeout bounds a single upload when the caller does not set one.
const DefaultTimeout = 5 * time.Minute

// maxErrorBody caps how much of a rejected response is kept for the log.
const maxErrorBody = 512

// StatusError is returned when the endpoint answers with anything other than
// 200 or 201.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint rejected payload: %s", e.Status)
	}
	return fmt.Sprintf("endpoint rejected payload: %s - %s", e.Status, e.Body)
}

// Uploader posts payload files to a single endpoint. It never retries.
type Uploader struct {
	endpoint   string
	httpClient *http.Client
}

// New creates an uploader for endpoint. A zero timeout means DefaultTimeout.
func New(endpoint string, timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Uploader{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Upload streams the payload file as the raw request body.
func (u *Uploader) Upload(ctx context.Context, p models.Payload) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	size := p.Size
	if size <= 0 {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat payload: %w", err)
		}
		size = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, f)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", p.ContentType)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}
