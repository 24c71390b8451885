package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// DefaultMaxWaitSeconds bounds a wait-for-connection call when the caller
// passes no explicit limit.
const DefaultMaxWaitSeconds = 360

// waitGrace is added on top of max_wait_time so the HTTP timeout never fires
// before the station API gives up on its own polling.
const waitGrace = 30 * time.Second

// Client is the interface for the remote station API. Every call reaches a
// physical device and must not be retried blindly.
type Client interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
	EnableFrequencies(ctx context.Context, ip, model string) (*models.FrequencyEnableResult, error)
	WaitForConnection(ctx context.Context, ip string, maxWaitSeconds int) (*models.ConnectionWaitResult, error)
	FlowStatus(ctx context.Context, ip string) (models.FlowStatus, error)
}

// Credentials are the device login forwarded on analyze.
type Credentials struct {
	Username string
	Password string
}

// HTTPClient implements Client against the station API over HTTP/JSON.
type HTTPClient struct {
	baseURL     string
	credentials Credentials
	timeout     time.Duration
	client      *http.Client
}

// NewHTTPClient creates a station client. timeout applies to every call
// except WaitForConnection, which is bounded by its own max wait.
func NewHTTPClient(baseURL string, creds Credentials, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: creds,
		timeout:     timeout,
		client:      &http.Client{},
	}
}

func (c *HTTPClient) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	body := analyzeRequest{
		IP:       req.DeviceIP,
		MAC:      req.DeviceMAC,
		Username: c.credentials.Username,
		Password: c.credentials.Password,
	}

	var resp analyzeResponse
	if err := c.post(ctx, OpAnalyze, "/analyze", body, c.timeout, &resp); err != nil {
		return nil, err
	}

	ip := resp.IP
	if ip == "" {
		ip = req.DeviceIP
	}
	return &models.AnalysisResult{
		IP:                   ip,
		IdentifiedModel:      resp.IdentifiedModel,
		Status:               resp.Status,
		NeedsFrequencyEnable: resp.NeedsFrequencyEnable,
		LLMAnalysis:          resp.LLMAnalysis,
		DeviceData:           resp.DeviceData,
		Message:              resp.Message,
	}, nil
}

func (c *HTTPClient) EnableFrequencies(ctx context.Context, ip, model string) (*models.FrequencyEnableResult, error) {
	var resp models.FrequencyEnableResult
	body := enableFrequenciesRequest{IP: ip, Model: model}
	if err := c.post(ctx, OpEnableFrequencies, "/enable-frequencies", body, c.timeout, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) WaitForConnection(ctx context.Context, ip string, maxWaitSeconds int) (*models.ConnectionWaitResult, error) {
	if maxWaitSeconds <= 0 {
		maxWaitSeconds = DefaultMaxWaitSeconds
	}

	var resp models.ConnectionWaitResult
	body := waitForConnectionRequest{IP: ip, MaxWaitTime: maxWaitSeconds}
	timeout := time.Duration(maxWaitSeconds)*time.Second + waitGrace
	if err := c.post(ctx, OpWaitForConnection, "/wait-for-connection", body, timeout, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) FlowStatus(ctx context.Context, ip string) (models.FlowStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/flow-status/%s", c.baseURL, url.PathEscape(ip))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	var status models.FlowStatus
	if err := c.do(httpReq, OpFlowStatus, &status); err != nil {
		return nil, err
	}
	if status == nil {
		status = models.FlowStatus{}
	}
	return status, nil
}

func (c *HTTPClient) post(ctx context.Context, op, path string, body any, timeout time.Duration, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	return c.do(httpReq, op, out)
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused; the body carries no contract.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Status: statusText(resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	return nil
}

// statusText strips the numeric code from resp.Status ("502 Bad Gateway" -> "Bad Gateway").
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// --- station API wire types ---

type analyzeRequest struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type analyzeResponse struct {
	IP                   string              `json:"ip"`
	Status               string              `json:"status"`
	IdentifiedModel      string              `json:"identified_model"`
	NeedsFrequencyEnable bool                `json:"needs_frequency_enable"`
	LLMAnalysis          *models.LLMAnalysis `json:"llm_analysis"`
	DeviceData           map[string]any      `json:"device_data"`
	Message              string              `json:"message"`
}

type enableFrequenciesRequest struct {
	IP    string `json:"ip"`
	Model string `json:"model"`
}

type waitForConnectionRequest struct {
	IP          string `json:"ip"`
	MaxWaitTime int    `json:"max_wait_time"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
