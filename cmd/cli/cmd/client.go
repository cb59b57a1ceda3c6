package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"loadplane/pkg/api"
)

// LoadClient handles API calls to the loadplane controller.
type LoadClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewLoadClient creates a new client with the given base URL and token.
func NewLoadClient(baseURL, token string) *LoadClient {
	return &LoadClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a request and decodes a 2xx body into out when out is non-nil.
func (c *LoadClient) do(method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	httpReq, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func scenarioPath(testID string, parts ...string) string {
	return "/scenarios/" + url.PathEscape(testID) + strings.Join(parts, "")
}

// ListScenarios sends GET /scenarios, optionally filtered by tags.
func (c *LoadClient) ListScenarios(tags []string) ([]api.ScenarioSummary, error) {
	query := url.Values{}
	if len(tags) > 0 {
		query.Set("tags", strings.Join(tags, ","))
	}
	var result api.ListScenariosResponse
	if err := c.do(http.MethodGet, "/scenarios", query, nil, &result); err != nil {
		return nil, err
	}
	return result.Scenarios, nil
}

// CreateTest sends POST /scenarios. The raw scenario is returned as written
// by the engine.
func (c *LoadClient) CreateTest(req api.CreateTestRequest) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.do(http.MethodPost, "/scenarios", nil, req, &result)
	return result, err
}

// ScheduleTest sends POST /scenarios/schedule.
func (c *LoadClient) ScheduleTest(req api.CreateTestRequest) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.do(http.MethodPost, "/scenarios/schedule", nil, req, &result)
	return result, err
}

// GetTest sends GET /scenarios/{id}.
func (c *LoadClient) GetTest(testID string, history, latest bool) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("history", strconv.FormatBool(history))
	query.Set("latest", strconv.FormatBool(latest))
	var result json.RawMessage
	err := c.do(http.MethodGet, scenarioPath(testID), query, nil, &result)
	return result, err
}

// DeleteTest sends DELETE /scenarios/{id}.
func (c *LoadClient) DeleteTest(testID string) (string, error) {
	var result string
	err := c.do(http.MethodDelete, scenarioPath(testID), nil, nil, &result)
	return result, err
}

// CancelTest sends POST /scenarios/{id}/cancel.
func (c *LoadClient) CancelTest(testID string) (string, error) {
	var result string
	err := c.do(http.MethodPost, scenarioPath(testID, "/cancel"), nil, nil, &result)
	return result, err
}

// RunsOptions filters GET /scenarios/{id}/runs.
type RunsOptions struct {
	Limit     int
	Latest    bool
	NextToken string
	Start     string
	End       string
}

// GetTestRuns sends GET /scenarios/{id}/runs.
func (c *LoadClient) GetTestRuns(testID string, opts RunsOptions) (*api.TestRunsResponse, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Latest {
		query.Set("latest", "true")
	}
	if opts.NextToken != "" {
		query.Set("next_token", opts.NextToken)
	}
	if opts.Start != "" {
		query.Set("start_timestamp", opts.Start)
	}
	if opts.End != "" {
		query.Set("end_timestamp", opts.End)
	}
	var result api.TestRunsResponse
	if err := c.do(http.MethodGet, scenarioPath(testID, "/runs"), query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteTestRuns sends DELETE /scenarios/{id}/runs.
func (c *LoadClient) DeleteTestRuns(testID string, runIDs []string) (int, error) {
	req := api.DeleteTestRunsRequest{TestRunIDs: make([]json.RawMessage, 0, len(runIDs))}
	for _, id := range runIDs {
		raw, _ := json.Marshal(id)
		req.TestRunIDs = append(req.TestRunIDs, raw)
	}
	var result api.DeleteTestRunsResponse
	if err := c.do(http.MethodDelete, scenarioPath(testID, "/runs"), nil, req, &result); err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// SetBaseline sends PUT /scenarios/{id}/baseline.
func (c *LoadClient) SetBaseline(testID, testRunID string) (*api.BaselineResponse, error) {
	var result api.BaselineResponse
	err := c.do(http.MethodPut, scenarioPath(testID, "/baseline"), nil, api.SetBaselineRequest{TestRunID: testRunID}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBaseline sends GET /scenarios/{id}/baseline.
func (c *LoadClient) GetBaseline(testID string, includeResults bool) (*api.BaselineResponse, error) {
	query := url.Values{}
	if includeResults {
		query.Set("include_results", "true")
	}
	var result api.BaselineResponse
	if err := c.do(http.MethodGet, scenarioPath(testID, "/baseline"), query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearBaseline sends DELETE /scenarios/{id}/baseline.
func (c *LoadClient) ClearBaseline(testID string) (*api.BaselineResponse, error) {
	var result api.BaselineResponse
	if err := c.do(http.MethodDelete, scenarioPath(testID, "/baseline"), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCapacity sends GET /capacity.
func (c *LoadClient) GetCapacity() (api.CapacityResponse, error) {
	var result api.CapacityResponse
	err := c.do(http.MethodGet, "/capacity", nil, nil, &result)
	return result, err
}

// ListTasks sends GET /tasks.
func (c *LoadClient) ListTasks() ([]api.RegionTasks, error) {
	var result []api.RegionTasks
	err := c.do(http.MethodGet, "/tasks", nil, nil, &result)
	return result, err
}

// StackInfo sends GET /stack-info.
func (c *LoadClient) StackInfo() (*api.StackInfo, error) {
	var result api.StackInfo
	if err := c.do(http.MethodGet, "/stack-info", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Region is one entry of GET /regions.
type Region struct {
	Region         string `json:"region"`
	TaskCluster    string `json:"taskCluster"`
	TaskDefinition string `json:"taskDefinition"`
	AvailableTasks int    `json:"dltAvailableTasks"`
}

// ListRegions sends GET /regions.
func (c *LoadClient) ListRegions() ([]Region, error) {
	var result struct {
		Regions []Region `json:"regions"`
	}
	if err := c.do(http.MethodGet, "/regions", nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Regions, nil
}
