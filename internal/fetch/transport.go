package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/datacol/colfetch/internal/httpx"
)

// maxResponseBodyBytes limits the size of fetched responses.
const maxResponseBodyBytes = 10 * 1024 * 1024 // 10 MB

// Response is the raw transport result before decoding.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport issues the underlying call for one request. Implementations
// classify every failure into the fetch error taxonomy before returning;
// the orchestrator makes retry decisions on the classified kind alone.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the net/http-backed Transport.
type HTTPTransport struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithUserAgent sets the User-Agent header for all requests.
func WithUserAgent(ua string) TransportOption {
	return func(t *HTTPTransport) {
		t.userAgent = ua
	}
}

// WithMaxBodyBytes caps the response body size.
func WithMaxBodyBytes(n int64) TransportOption {
	return func(t *HTTPTransport) {
		t.maxBodyBytes = n
	}
}

// NewHTTPTransport creates a transport backed by the given client. A nil
// client falls back to the shared tuned default.
func NewHTTPTransport(client *http.Client, opts ...TransportOption) *HTTPTransport {
	if client == nil {
		client = httpx.NewDefaultClient()
	}

	t := &HTTPTransport{
		client:       client,
		maxBodyBytes: maxResponseBodyBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send issues the HTTP call with the request's timeout and classifies
// the outcome: 2xx succeeds, 429 and 5xx are transient, other statuses
// are permanent.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	rawURL, err := req.urlString()
	if err != nil {
		return nil, permanentErr("transport", 0, err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), rawURL, body)
	if err != nil {
		return nil, permanentErr("transport", 0, err)
	}

	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifySendError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
	if err != nil {
		// A failure mid-body is a connection-level fault, not a bad request.
		return nil, transientErr("transport", resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       raw,
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transientErr("transport", resp.StatusCode,
			fmt.Errorf("upstream returned status %d", resp.StatusCode))
	default:
		return nil, permanentErr("transport", resp.StatusCode,
			fmt.Errorf("upstream returned status %d", resp.StatusCode))
	}
}

// classifySendError buckets a net/http client error. Timeouts and
// connection-level faults are transient; cancellation and structural
// errors (malformed URL, unsupported scheme, TLS failure) are permanent.
func classifySendError(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return permanentErr("transport", 0, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transientErr("transport", 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientErr("transport", 0, err)
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return transientErr("transport", 0, err)
	}

	return permanentErr("transport", 0, err)
}
