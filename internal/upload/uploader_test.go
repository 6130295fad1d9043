package upload

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/intake/internal/fixture"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	method        string
	contentType   string
	contentLength int64
	body          []byte
}

func recordingServer(t *testing.T, status int, reply string) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		mu.Lock()
		reqs = append(reqs, received{
			method:        r.Method,
			contentType:   r.Header.Get("Content-Type"),
			contentLength: r.ContentLength,
			body:          body,
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), reqs...)
	}
}

func TestUploadStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"created", http.StatusCreated, false},
		{"accepted is not success", http.StatusAccepted, true},
		{"bad request", http.StatusBadRequest, true},
		{"server error", http.StatusInternalServerError, true},
	}

	data := fixture.DICOM("1")
	path := fixture.WriteFile(t, t.TempDir(), "x.dcm", data)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reqs := recordingServer(t, tt.status, "nope")
			u := New(srv.URL+"/instances", time.Second)

			err := u.Upload(context.Background(), models.Payload{
				Path:        path,
				ContentType: models.ContentTypeDICOM,
				Size:        int64(len(data)),
			})
			if tt.wantErr {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr), "want StatusError, got %v", err)
				assert.Equal(t, tt.status, statusErr.StatusCode)
				assert.Equal(t, "nope", statusErr.Body)
			} else {
				require.NoError(t, err)
			}

			got := reqs()
			require.Len(t, got, 1, "exactly one attempt, no retries")
			assert.Equal(t, http.MethodPost, got[0].method)
			assert.Equal(t, models.ContentTypeDICOM, got[0].contentType)
			assert.Equal(t, int64(len(data)), got[0].contentLength)
			assert.Equal(t, data, got[0].body)
		})
	}
}

func TestUploadSizeFromFile(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, "")
	data := fixture.Zip([]fixture.Entry{{Name: "a", Data: []byte("alpha")}})
	path := fixture.WriteFile(t, t.TempDir(), "p.zip", data)

	err := New(srv.URL, 0).Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeZip})
	require.NoError(t, err)

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, int64(len(data)), got[0].contentLength)
	assert.Equal(t, models.ContentTypeZip, got[0].contentType)
}

func TestUploadTruncatesErrorBody(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusBadGateway, strings.Repeat("x", 4*maxErrorBody))
	path := fixture.WriteFile(t, t.TempDir(), "x.dcm", fixture.DICOM("2"))

	err := New(srv.URL, time.Second).Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeDICOM})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Len(t, statusErr.Body, maxErrorBody)
	assert.Contains(t, statusErr.Error(), "502")
}

func TestUploadConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	path := fixture.WriteFile(t, t.TempDir(), "x.dcm", fixture.DICOM("3"))
	err = New("http://"+addr, time.Second).Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeDICOM})
	require.Error(t, err)

	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr), "transport failure is not a status error")
}

func TestUploadMissingPayload(t *testing.T) {
	srv, reqs := recordingServer(t, http.StatusOK, "")
	err := New(srv.URL, time.Second).Upload(context.Background(), models.Payload{Path: "/does/not/exist", ContentType: models.ContentTypeZip})
	require.Error(t, err)
	assert.Empty(t, reqs(), "nothing is sent when the payload cannot be read")
}

func TestUploadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	path := fixture.WriteFile(t, t.TempDir(), "x.dcm", fixture.DICOM("4"))
	err := New(srv.URL, 50*time.Millisecond).Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeDICOM})
	require.Error(t, err)
}
