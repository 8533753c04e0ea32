package evalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/google/uuid"

	"evalstream/internal/logging"
)

// DefaultStreamPath is the evaluation endpoint path relative to the base URL.
const DefaultStreamPath = "/api/evaluations/stream"

// maxErrorBody caps how much of a failed response body is quoted in errors.
const maxErrorBody = 512

// ErrStatus marks a non-2xx response from the evaluation endpoint.
var ErrStatus = errors.New("unexpected status")

// HTTPDoer abstracts HTTP clients used by the transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// JobSpec describes the evaluation job to submit.
type JobSpec struct {
	DatasetID  string            `json:"dataset_id" yaml:"dataset_id"`
	ModelID    string            `json:"model_id" yaml:"model_id"`
	MaxPrompts int               `json:"max_prompts,omitempty" yaml:"max_prompts,omitempty"`
	Options    map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
	// Credential overrides the client token for this job. It is never serialized.
	Credential string `json:"-" yaml:"-"`
}

// Validate checks that the job names a dataset and a model.
func (j JobSpec) Validate() error {
	var missing []string
	if strings.TrimSpace(j.DatasetID) == "" {
		missing = append(missing, "dataset_id")
	}
	if strings.TrimSpace(j.ModelID) == "" {
		missing = append(missing, "model_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("job spec missing %s", strings.Join(missing, ", "))
	}
	if j.MaxPrompts < 0 {
		return fmt.Errorf("job spec max_prompts must be >= 0")
	}
	return nil
}

// Redacted returns a copy without the credential.
func (j JobSpec) Redacted() JobSpec {
	j.Credential = ""
	return j
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	StreamPath     string
	Token          string
	HeaderTimeout  time.Duration
	ConnectTimeout time.Duration
	UserAgent      string
}

// Client opens streaming evaluation requests.
type Client struct {
	BaseURL    string
	StreamPath string
	Token      string
	UserAgent  string
	HTTP       HTTPDoer
}

// Stream is an open evaluation response body.
type Stream struct {
	Body      io.ReadCloser
	RequestID string
	Status    int
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) { return s.Body.Read(p) }

// Close releases the underlying connection.
func (s *Stream) Close() error { return s.Body.Close() }

// New builds a client with a transport tuned for long-lived streams.
// No overall client timeout is set; the header timeout covers job start.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.HeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = opts.HeaderTimeout
	}
	if opts.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	}
	return NewWithDoer(opts, &http.Client{Transport: transport}), nil
}

// NewWithDoer builds a client over an explicit HTTP doer.
func NewWithDoer(opts Options, doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	path := opts.StreamPath
	if strings.TrimSpace(path) == "" {
		path = DefaultStreamPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Client{
		BaseURL:    strings.TrimRight(opts.BaseURL, "/"),
		StreamPath: path,
		Token:      opts.Token,
		UserAgent:  opts.UserAgent,
		HTTP:       doer,
	}
}

// Open submits the job and returns the streaming body.
// Cancelling ctx aborts the transfer; the caller must Close the stream.
func (c *Client) Open(ctx context.Context, job JobSpec) (*Stream, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	requestID := uuid.NewString()
	logger := logging.Logger().With("request_id", requestID, "dataset", job.DatasetID, "model", job.ModelID)
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			logger.Debug("evaluation endpoint connected", "remote", info.Conn.RemoteAddr().String(), "reused", info.Reused)
		},
		GotFirstResponseByte: func() {
			logger.Debug("evaluation endpoint first byte")
		},
	})

	endpoint := c.BaseURL + c.StreamPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("X-Request-ID", requestID)
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	token := c.Token
	if job.Credential != "" {
		token = job.Credential
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, describeTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		excerpt := strings.TrimSpace(string(body))
		if excerpt == "" {
			return nil, fmt.Errorf("evaluation endpoint %w: %s", ErrStatus, resp.Status)
		}
		return nil, fmt.Errorf("evaluation endpoint %w: %s: %s", ErrStatus, resp.Status, excerpt)
	}
	logger.Info("evaluation stream opened", "status", resp.StatusCode)
	return &Stream{Body: resp.Body, RequestID: requestID, Status: resp.StatusCode}, nil
}

// describeTransportError classifies dial and header timeouts.
func describeTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	message := err.Error()
	if strings.Contains(message, "awaiting headers") {
		return fmt.Errorf("evaluation endpoint header timeout (job start too slow?): %w", err)
	}
	return fmt.Errorf("evaluation endpoint unreachable: %w", err)
}
