package locator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Wire constants of the language server's Connect API.
const (
	ProbePath                 = "/exa.language_server_pb.LanguageServerService/GetUnleashData"
	ConnectProtocolHeader     = "Connect-Protocol-Version"
	ConnectProtocolVersion    = "1"
	CSRFTokenHeader           = "X-Codeium-Csrf-Token"
	DefaultProbeTimeout       = 3 * time.Second
	DefaultProbeHost          = "127.0.0.1"
	maxProbeResponseBodyBytes = 1 << 20
)

// probeRequestBody is the minimal request the endpoint accepts.
var probeRequestBody = []byte(`{"wrapper_data":{}}`)

// Verifier confirms that a port belongs to the language server.
type Verifier interface {
	Verify(ctx context.Context, port int, csrfToken string) bool
}

// HTTPVerifierOption configures an HTTPVerifier.
type HTTPVerifierOption func(*HTTPVerifier)

// WithProbeTimeout bounds each probe request.
func WithProbeTimeout(d time.Duration) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		if d > 0 {
			v.client.Timeout = d
		}
	}
}

// WithProbeHost overrides the loopback host probed.
func WithProbeHost(host string) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		if host != "" {
			v.host = host
		}
	}
}

// WithProbeTransport sets the transport used for probes.
func WithProbeTransport(transport http.RoundTripper) HTTPVerifierOption {
	return func(v *HTTPVerifier) {
		v.client.Transport = transport
	}
}

// HTTPVerifier probes a port with a single Connect request over TLS.
type HTTPVerifier struct {
	client *http.Client
	host   string
}

var _ Verifier = (*HTTPVerifier)(nil)

// NewHTTPVerifier creates a verifier for loopback language server ports.
// Certificate checks are disabled: the server presents a self-signed certificate.
func NewHTTPVerifier(opts ...HTTPVerifierOption) *HTTPVerifier {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	transport.Proxy = nil

	v := &HTTPVerifier{
		client: &http.Client{
			Timeout:   DefaultProbeTimeout,
			Transport: transport,
		},
		host: DefaultProbeHost,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether the port answered the probe with a JSON body.
// The status code is ignored: a JSON error from the right service still counts.
func (v *HTTPVerifier) Verify(ctx context.Context, port int, csrfToken string) bool {
	url := "https://" + net.JoinHostPort(v.host, strconv.Itoa(port)) + ProbePath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(probeRequestBody))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ConnectProtocolHeader, ConnectProtocolVersion)
	req.Header.Set(CSRFTokenHeader, csrfToken)

	resp, err := v.client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "probe request failed", "port", port, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeResponseBodyBytes))
	if err != nil {
		slog.DebugContext(ctx, "probe response unreadable", "port", port, "error", err)
		return false
	}

	if !json.Valid(body) {
		slog.DebugContext(ctx, "probe response is not JSON", "port", port, "status", resp.StatusCode)
		return false
	}
	return true
}
