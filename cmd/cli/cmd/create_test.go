package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loadplane/pkg/api"
)

const requestFile = `{
  "testName": "checkout",
  "testType": "simple",
  "testTaskConfigs": [{"region": "us-east-1", "taskCount": 2, "concurrency": "5"}],
  "testScenario": {"execution": [{"ramp-up": "1m", "hold-for": "5m"}]}
}`

func writeRequest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCreateCommand_Success(t *testing.T) {
	var captured api.CreateTestRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/scenarios" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]string{
			"testId":    "T1",
			"testRunId": "run-1",
			"status":    "running",
		})
	}))
	defer server.Close()

	output := execute(t, server.URL, "create", "-f", writeRequest(t, requestFile), "--name", "checkout v2")

	if !strings.Contains(output, "Test launched") || !strings.Contains(output, "T1") || !strings.Contains(output, "run-1") {
		t.Errorf("unexpected output: %s", output)
	}
	if captured.TestName != "checkout v2" {
		t.Errorf("expected --name to override the file, got %q", captured.TestName)
	}
	if len(captured.TestTaskConfigs) != 1 || captured.TestTaskConfigs[0].TaskCount != "2" {
		t.Errorf("unexpected task configs: %+v", captured.TestTaskConfigs)
	}
}

func TestCreateCommand_MissingFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	createCmd.Flags().Set("file", "")
	output := execute(t, server.URL, "create")
	if !strings.Contains(output, "--file is required") {
		t.Errorf("expected missing file error, got: %s", output)
	}
}

func TestCreateCommand_UnknownField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	path := writeRequest(t, `{"testName": "x", "taskCount": 3}`)
	output := execute(t, server.URL, "create", "-f", path)
	if !strings.Contains(output, "failed to parse") {
		t.Errorf("expected parse error, got: %s", output)
	}
}

func TestCreateCommand_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{
			Error:  "no stored infrastructure configuration for region us-east-1",
			Code:   "InvalidInfrastructureConfiguration",
			Status: http.StatusBadRequest,
		})
	}))
	defer server.Close()

	output := execute(t, server.URL, "create", "-f", writeRequest(t, requestFile))
	if !strings.Contains(output, "InvalidInfrastructureConfiguration") || !strings.Contains(output, "us-east-1") {
		t.Errorf("expected API error details, got: %s", output)
	}
}

func TestScheduleCommand_CronOverride(t *testing.T) {
	var captured api.CreateTestRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scenarios/schedule" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]string{
			"testId":  "T2",
			"status":  "scheduled",
			"nextRun": "2026-11-01 02:00:00",
		})
	}))
	defer server.Close()

	output := execute(t, server.URL, "schedule", "-f", writeRequest(t, requestFile),
		"--cron", "0 2 * * ? *", "--expiry", "2026-12-31")

	if captured.CronValue != "0 2 * * ? *" || captured.CronExpiryDate != "2026-12-31" {
		t.Errorf("cron flags not applied: %+v", captured)
	}
	if !strings.Contains(output, "Test scheduled") || !strings.Contains(output, "2026-11-01 02:00:00") {
		t.Errorf("unexpected output: %s", output)
	}
}
