package serve

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/config"
)

func TestStartListener_ServesPlaintextAndShutsDownCleanly(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	lis, err := startListener("test", config.ListenerConfig{Port: 0, EnablePlainText: true}, handler)
	require.NoError(t, err)
	require.NotNil(t, lis.Addr)

	resp, err := http.Get("http://" + lis.Addr.String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, lis.Close(ctx))
}

func TestStartListener_DefaultsToPlaintextWhenNeitherModeEnabled(t *testing.T) {
	lis, err := startListener("test", config.ListenerConfig{Port: 0}, http.NotFoundHandler())
	require.NoError(t, err)
	defer lis.Close(context.Background())

	resp, err := http.Get("http://" + lis.Addr.String() + "/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartListener_RejectsMissingTLSCertificate(t *testing.T) {
	_, err := startListener("test", config.ListenerConfig{
		Port:        0,
		EnableTLS:   true,
		TLSCertFile: "/nonexistent/cert.pem",
		TLSKeyFile:  "/nonexistent/key.pem",
	}, http.NotFoundHandler())
	require.Error(t, err)
}
