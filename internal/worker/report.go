package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"loadplane/internal/workflow"
	"loadplane/pkg/api"

	"github.com/avast/retry-go"
)

// report sends the run's outcome to the controller. Server errors are
// retried; a rejection by the controller is final.
func (a *Agent) report(ctx context.Context, in workflow.Input, out outcome) error {
	body, err := json.Marshal(api.CompleteRunRequest{
		Status:  string(out.Status),
		Results: out.Results,
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/internal/scenarios/%s/runs/%s/result",
		a.config.ControllerURL, url.PathEscape(in.TestID), url.PathEscape(in.TestRunID))

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+a.config.InternalSecret)

			resp, err := a.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode < http.StatusMultipleChoices:
				return nil
			case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("controller returned status %d", resp.StatusCode)
			default:
				return retry.Unrecoverable(fmt.Errorf("controller rejected result: status %d", resp.StatusCode))
			}
		},
		retry.Attempts(a.config.ReportAttempts),
		retry.Delay(a.config.PollInterval),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Warn("result report failed", "test_id", in.TestID, "attempt", n+1, "error", err)
		}),
	)
}
