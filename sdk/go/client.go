package qualitygatesdk

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
)

// Client is a minimal Qualitygate HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// Column declares a dataset column; Type is numeric, string or timestamp.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CheckRequest carries an inline dataset. Columns may be omitted to let the server infer them.
type CheckRequest struct {
	Columns []Column         `json:"columns,omitempty"`
	Rows    []map[string]any `json:"rows"`
	Force   bool             `json:"force,omitempty"`
	Save    *bool            `json:"save,omitempty"`
}

// Alert represents a single finding (partial).
type Alert struct {
	MonitorName     string   `json:"monitor_name"`
	Severity        string   `json:"severity"`
	Message         string   `json:"message"`
	AffectedColumns []string `json:"affected_columns"`
	MetricValue     *float64 `json:"metric_value"`
	Timestamp       string   `json:"timestamp"`
}

// MonitorResult represents one monitor's outcome.
type MonitorResult struct {
	MonitorName string             `json:"monitor_name"`
	Passed      bool               `json:"passed"`
	Metrics     map[string]float64 `json:"metrics"`
	Alerts      []Alert            `json:"alerts"`
	Error       string             `json:"error,omitempty"`
}

// Report represents a data quality report.
type Report struct {
	RunID              string                   `json:"run_id"`
	Timestamp          string                   `json:"timestamp"`
	DatasetFingerprint string                   `json:"dataset_fingerprint"`
	MonitorResults     map[string]MonitorResult `json:"monitor_results"`
	OverallPassed      bool                     `json:"overall_passed"`
	MaxSeverity        string                   `json:"max_severity"`
}

// Decision is the gate verdict for a report.
type Decision struct {
	Admitted  bool   `json:"admitted"`
	Reason    string `json:"reason"`
	ReportRef string `json:"report_ref"`
	Override  bool   `json:"override"`
}

type CheckResponse struct {
	Report       Report   `json:"report"`
	Decision     Decision `json:"decision"`
	ReportPath   string   `json:"report_path,omitempty"`
	PersistError string   `json:"persist_error,omitempty"`
}

type ReportSummary struct {
	RunID              string   `json:"run_id"`
	Timestamp          string   `json:"timestamp"`
	DatasetFingerprint string   `json:"dataset_fingerprint"`
	OverallPassed      bool     `json:"overall_passed"`
	MaxSeverity        string   `json:"max_severity"`
	FailingMonitors    []string `json:"failing_monitors"`
	Path               string   `json:"path"`
}

type StoredReport struct {
	Path   string `json:"path"`
	Report Report `json:"report"`
}

type GateResponse struct {
	RunID    string   `json:"run_id"`
	Path     string   `json:"path"`
	Decision Decision `json:"decision"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health returns the server status map.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

// RunCheck runs the configured monitors on an inline dataset.
func (c *Client) RunCheck(ctx context.Context, req CheckRequest) (CheckResponse, error) {
	var resp CheckResponse
	err := c.do(ctx, http.MethodPost, "checks", req, &resp)
	return resp, err
}

// ListReports returns stored reports, newest first. limit <= 0 returns all of them.
func (c *Client) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	endpoint := "reports"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []ReportSummary `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetReport fetches a stored report; runID may be "latest".
func (c *Client) GetReport(ctx context.Context, runID string) (StoredReport, error) {
	var resp StoredReport
	err := c.do(ctx, http.MethodGet, "reports/"+url.PathEscape(runID), nil, &resp)
	return resp, err
}

// Gate evaluates the gate for a stored report; runID may be "latest".
func (c *Client) Gate(ctx context.Context, runID string, force bool) (GateResponse, error) {
	var resp GateResponse
	body := map[string]any{"force": force}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("reports/%s/gate", url.PathEscape(runID)), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
