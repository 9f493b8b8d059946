// Package upscaling is the HTTP client for the remote image job service.
// Every job of a client shares one status endpoint per service, so results
// are told apart by the filename uploaded with the job.
package upscaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/arcaelas/mcp/internal/config"
	"github.com/arcaelas/mcp/internal/orchestrator"
)

// Sentinel errors for job service failures.
var (
	ErrServiceUnreachable = errors.New("job service unreachable")
	ErrServiceTimeout     = errors.New("job service timeout")
	ErrUnexpectedStatus   = errors.New("job service returned unexpected status")
)

const (
	cookieName     = "client_id"
	maxResultBytes = 64 << 20
)

// Service names the upload and status endpoints of one job kind.
type Service struct {
	Name       string
	UploadPath string
	StatusPath string
}

var (
	BackgroundRemoval = Service{
		Name:       "removebg",
		UploadPath: "/removebg_upload",
		StatusPath: "/removebg_get_status",
	}
	Upscaling = Service{
		Name:       "upscaling",
		UploadPath: "/upscaling_upload",
		StatusPath: "/upscaling_get_status",
	}
)

// HTTPClient holds the connection settings shared by every service.
type HTTPClient struct {
	baseURL  string
	clientID string
	client   *http.Client
}

// NewHTTPClient creates a client that authenticates with clientID. timeout
// bounds each individual request.
func NewHTTPClient(baseURL, clientID string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		clientID: clientID,
		client:   &http.Client{Timeout: timeout},
	}
}

// NewFromConfig creates a client from the upscaling configuration.
func NewFromConfig(cfg config.UpscalingConfig) *HTTPClient {
	return NewHTTPClient(cfg.BaseURL, cfg.ClientID, cfg.CallTimeout)
}

// ForService returns the job client for svc.
func (c *HTTPClient) ForService(svc Service) *JobClient {
	return &JobClient{http: c, svc: svc}
}

// JobClient submits, polls and downloads jobs of a single service.
type JobClient struct {
	http *HTTPClient
	svc  Service
}

// Submit uploads the payload as a multipart form: the file under "image"
// followed by the payload fields in name order.
func (j *JobClient) Submit(ctx context.Context, p orchestrator.Payload) error {
	body, contentType, err := encodeUpload(p)
	if err != nil {
		return fmt.Errorf("encoding upload: %w", err)
	}

	u := j.http.baseURL + j.svc.UploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	j.http.setHeaders(req)

	resp, err := j.http.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: upload status %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Status returns the pending, processing and processed identifiers the
// service currently reports for this client.
func (j *JobClient) Status(ctx context.Context) (orchestrator.StatusSnapshot, error) {
	u := j.http.baseURL + j.svc.StatusPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return orchestrator.StatusSnapshot{}, fmt.Errorf("building request: %w", err)
	}
	j.http.setHeaders(req)

	resp, err := j.http.client.Do(req)
	if err != nil {
		return orchestrator.StatusSnapshot{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return orchestrator.StatusSnapshot{}, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var snap orchestrator.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return orchestrator.StatusSnapshot{}, fmt.Errorf("decoding status response: %w", err)
	}
	return snap, nil
}

// Fetch downloads the result at id and asks the service to drop it
// afterwards. Relative identifiers resolve against the base URL.
func (j *JobClient) Fetch(ctx context.Context, id string) ([]byte, error) {
	u, err := j.http.downloadURL(id)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	j.http.setHeaders(req)

	resp, err := j.http.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
	if err != nil {
		return nil, classifyError(err)
	}
	if len(data) > maxResultBytes {
		return nil, fmt.Errorf("result exceeds %d bytes", maxResultBytes)
	}
	return data, nil
}

func (c *HTTPClient) downloadURL(id string) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	ref, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("parsing result identifier %q: %w", id, err)
	}
	u := base.ResolveReference(ref)
	q := u.Query()
	q.Set("delete_after_download", "")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: cookieName, Value: c.clientID})
}

func encodeUpload(p orchestrator.Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", p.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteField(name, p.Fields[name]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrServiceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrServiceTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrServiceUnreachable, err)
}

var (
	_ orchestrator.Submitter      = (*JobClient)(nil)
	_ orchestrator.StatusProvider = (*JobClient)(nil)
	_ orchestrator.Fetcher        = (*JobClient)(nil)
)
