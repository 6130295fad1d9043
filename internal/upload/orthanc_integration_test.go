//go:build integration

package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/intake/internal/fixture"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var orthancURL string

// TestMain starts a throwaway Orthanc server for the upload tests.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "orthancteam/orthanc:24.12.1",
			ExposedPorts: []string{"8042/tcp"},
			Env: map[string]string{
				"ORTHANC__AUTHENTICATION_ENABLED": "false",
				"VERBOSE_STARTUP":                 "false",
			},
			WaitingFor: wait.ForHTTP("/system").WithPort("8042/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Orthanc container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8042")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}
	orthancURL = fmt.Sprintf("http://%s:%s", host, port.Port())

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestOrthancAcceptsDICOM(t *testing.T) {
	path := fixture.WriteFile(t, t.TempDir(), "x.dcm", fixture.DICOM("101"))
	u := New(orthancURL+"/instances", 30*time.Second)

	err := u.Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeDICOM})
	require.NoError(t, err)

	// Uploading the same instance twice is still a success.
	err = u.Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeDICOM})
	require.NoError(t, err)
}

func TestOrthancAcceptsZip(t *testing.T) {
	data := fixture.Zip([]fixture.Entry{
		{Name: "study/1.dcm", Data: fixture.DICOM("201")},
		{Name: "study/2.dcm", Data: fixture.DICOM("202")},
	})
	path := fixture.WriteFile(t, t.TempDir(), "study.zip", data)

	err := New(orthancURL+"/instances", 30*time.Second).Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeZip})
	require.NoError(t, err)
}

func TestOrthancRejectsGarbage(t *testing.T) {
	path := fixture.WriteFile(t, t.TempDir(), "x.dcm", fixture.Opaque(7))

	err := New(orthancURL+"/instances", 30*time.Second).Upload(context.Background(), models.Payload{Path: path, ContentType: models.ContentTypeDICOM})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "want StatusError, got %v", err)
	assert.NotEqual(t, http.StatusOK, statusErr.StatusCode)
}
