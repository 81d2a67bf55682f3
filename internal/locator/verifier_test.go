package locator

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverPort(t *testing.T, server *httptest.Server) int {
	t.Helper()
	addr, ok := server.Listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

func TestHTTPVerifierResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{name: "empty JSON object", status: http.StatusOK, body: `{}`, want: true},
		{name: "JSON error body", status: http.StatusUnauthorized, body: `{"code":"unauthenticated","message":"invalid CSRF token"}`, want: true},
		{name: "HTML error page", status: http.StatusOK, body: `<html><body>Not Found</body></html>`, want: false},
		{name: "empty body", status: http.StatusOK, body: ``, want: false},
		{name: "truncated JSON", status: http.StatusOK, body: `{"user":`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			v := NewHTTPVerifier()
			assert.Equal(t, tt.want, v.Verify(context.Background(), serverPort(t, server), "token"))
		})
	}
}

func TestHTTPVerifierRequestShape(t *testing.T) {
	var (
		gotMethod  string
		gotPath    string
		gotHeaders http.Header
		gotBody    []byte
	)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer server.Close()

	v := NewHTTPVerifier()
	require.True(t, v.Verify(context.Background(), serverPort(t, server), "0a1b-2c3d"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, ProbePath, gotPath)
	assert.Equal(t, "0a1b-2c3d", gotHeaders.Get(CSRFTokenHeader))
	assert.Equal(t, ConnectProtocolVersion, gotHeaders.Get(ConnectProtocolHeader))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.JSONEq(t, string(probeRequestBody), string(gotBody))
}

func TestHTTPVerifierTransportFailures(t *testing.T) {
	t.Run("nothing listening", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())

		assert.False(t, NewHTTPVerifier().Verify(context.Background(), port, "token"))
	})

	t.Run("plain HTTP server", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{}`)
		}))
		defer server.Close()

		assert.False(t, NewHTTPVerifier().Verify(context.Background(), serverPort(t, server), "token"))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			_, _ = io.WriteString(w, `{}`)
		}))
		defer server.Close()
		defer close(release)

		v := NewHTTPVerifier(WithProbeTimeout(50 * time.Millisecond))
		assert.False(t, v.Verify(context.Background(), serverPort(t, server), "token"))
	})
}
