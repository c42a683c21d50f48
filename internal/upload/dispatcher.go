package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gac1u21/harcapture/internal/config"
)

// ContentType is sent with every frame
const ContentType = "text/plain; charset=utf-8"

// Endpoint selects the server route a frame is posted to
type Endpoint int

const (
	EndpointPredict Endpoint = iota
	EndpointLabelUpload
)

func (e Endpoint) String() string {
	switch e {
	case EndpointPredict:
		return "predict"
	case EndpointLabelUpload:
		return "label_upload"
	default:
		return "unknown"
	}
}

// TransportError means no HTTP response was received (connection refused, DNS, timeout)
type TransportError struct {
	Endpoint Endpoint
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s upload failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Message is the text shown to the user
func (e *TransportError) Message() string {
	return e.Err.Error()
}

// RejectedError means the server answered with a non-2xx status
type RejectedError struct {
	Endpoint   Endpoint
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s upload rejected: %d %s", e.Endpoint, e.StatusCode, e.Message)
}

// Dispatcher posts encoded frames to the HAR server. Each call is a single attempt.
type Dispatcher struct {
	baseURL     string
	predictPath string
	labelPath   string

	predictClient *http.Client
	labelClient   *http.Client
}

// New creates a dispatcher. Label uploads get the longer timeout because
// labelled payloads are stored server side before the reply.
func New(cfg config.ServerConfig) *Dispatcher {
	return &Dispatcher{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		predictPath:   cfg.PredictPath,
		labelPath:     cfg.LabelPath,
		predictClient: newClient(cfg.PredictTimeout),
		labelClient:   newClient(cfg.LabelTimeout),
	}
}

// newClient applies the timeout to the connect, request write and response wait phases
func newClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: timeout}).DialContext
		transport.ResponseHeaderTimeout = timeout
	}
	client := &http.Client{Transport: transport}
	if timeout > 0 {
		client.Timeout = 3 * timeout
	}
	return client
}

// URL returns the full URL for an endpoint
func (d *Dispatcher) URL(endpoint Endpoint) string {
	if endpoint == EndpointLabelUpload {
		return d.baseURL + d.labelPath
	}
	return d.baseURL + d.predictPath
}

// Send posts the frame and returns the response body verbatim on a 2xx status
func (d *Dispatcher) Send(ctx context.Context, frame string, endpoint Endpoint) (string, error) {
	client := d.predictClient
	if endpoint == EndpointLabelUpload {
		client = d.labelClient
	}

	target := d.URL(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(frame))
	if err != nil {
		return "", &TransportError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", ContentType)

	start := time.Now()
	slog.Debug("Uploading frame", "endpoint", endpoint, "url", target, "size", humanize.Bytes(uint64(len(frame))))

	resp, err := client.Do(req)
	if err != nil {
		return "", &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RejectedError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    statusMessage(resp),
		}
	}

	slog.Debug("Upload completed", "endpoint", endpoint, "status", resp.StatusCode, "elapsed", time.Since(start))
	return string(body), nil
}

// statusMessage returns the reason phrase, e.g. "Internal Server Error"
func statusMessage(resp *http.Response) string {
	msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return msg
}
