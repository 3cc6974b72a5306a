// Package proxy dispatches authorized requests to downstream services,
// composing the retry executor and circuit breaker registry around the
// actual network call.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commercekit/gateway/internal/observability"
	"github.com/commercekit/gateway/internal/retry"
)

// Target describes one downstream service.
type Target struct {
	// BaseURL is the service root; the inbound path is appended.
	BaseURL *url.URL

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Policy is the service's retry policy.
	Policy retry.Policy
}

// ErrUnknownService is returned for a service name without a target.
type ErrUnknownService struct {
	Name string
}

func (e *ErrUnknownService) Error() string {
	return fmt.Sprintf("unknown downstream service %q", e.Name)
}

// maxBufferedBody bounds how much request body is buffered for retry
// replay.
const maxBufferedBody = 10 << 20 // 10 MiB

// hopHeaders are stripped from proxied requests and responses.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder proxies requests to configured targets.
type Forwarder struct {
	targets  map[string]*Target
	executor *retry.Executor
	client   *http.Client
	logger   observability.Logger
}

// ForwarderOption is a functional option for the forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the logger.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) { f.logger = logger }
}

// WithHTTPClient sets the HTTP client used for downstream calls. Attempt
// timeouts come from each target's configuration, not the client.
func WithHTTPClient(client *http.Client) ForwarderOption {
	return func(f *Forwarder) { f.client = client }
}

// NewForwarder creates a forwarder for the given targets.
func NewForwarder(targets map[string]*Target, executor *retry.Executor, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		targets:  targets,
		executor: executor,
		client:   &http.Client{},
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward proxies the inbound request to the named service and writes the
// downstream response to w. Transport-level failures after the retry
// budget, and circuit-open rejections, are returned as errors for the
// handler to map; downstream statuses (including 5xx after exhausted
// retries) are written through as-is.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, serviceName string) error {
	target, ok := f.targets[serviceName]
	if !ok {
		return &ErrUnknownService{Name: serviceName}
	}

	// Buffer the body once so every retry attempt can replay it.
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBufferedBody))
		if err != nil {
			return fmt.Errorf("reading request body: %w", err)
		}
	}

	outURL := *target.BaseURL
	outURL.Path = singleJoin(target.BaseURL.Path, r.URL.Path)
	outURL.RawQuery = r.URL.RawQuery

	var resp *http.Response
	fn := func(ctx context.Context) (int, error) {
		if resp != nil {
			// Drop the previous attempt's response before retrying.
			resp.Body.Close()
			resp = nil
		}

		attemptCtx, cancel := context.WithTimeout(ctx, target.Timeout)
		req, err := http.NewRequestWithContext(attemptCtx, r.Method, outURL.String(), bytes.NewReader(body))
		if err != nil {
			cancel()
			return 0, err
		}
		copyProxyHeaders(req.Header, r)

		got, err := f.client.Do(req)
		if err != nil {
			cancel()
			return 0, err
		}

		// The body must outlive the attempt context only on the final
		// (successful or propagated) response; buffer it now so cancel
		// can run before returning.
		buffered, err := bufferResponse(got)
		cancel()
		if err != nil {
			return 0, err
		}

		resp = buffered
		return resp.StatusCode, nil
	}

	status, err := f.executor.Execute(r.Context(), serviceName, target.Policy, fn)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}

	f.logger.Debug("proxied request",
		observability.String("service", serviceName),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Int("status", status))

	return writeResponse(w, resp)
}

// copyProxyHeaders copies end-to-end headers and appends forwarding
// metadata.
func copyProxyHeaders(dst http.Header, r *http.Request) {
	for key, values := range r.Header {
		dst[key] = append([]string(nil), values...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		dst.Set("X-Forwarded-For", prior+", "+clientIP(r))
	} else {
		dst.Set("X-Forwarded-For", clientIP(r))
	}
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// bufferResponse reads the downstream body fully so the response can be
// written after the attempt context is released.
func bufferResponse(resp *http.Response) (*http.Response, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func writeResponse(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		header[key] = values
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	_, err := io.Copy(w, resp.Body)
	return err
}

func singleJoin(a, b string) string {
	switch {
	case a == "" || a == "/":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	default:
		return a + b
	}
}
