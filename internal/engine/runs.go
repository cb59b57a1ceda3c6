package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"loadplane/internal/apperr"
	"loadplane/internal/pager"
	"loadplane/internal/store"
	"loadplane/pkg/api"

	"github.com/avast/retry-go"
)

// Run listing limits.
const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// RunsQuery selects a page of a scenario's runs.
type RunsQuery struct {
	// Limit is 1-100; 0 means 20.
	Limit int
	// Latest returns only the newest run, without a cursor.
	Latest bool
	// NextToken resumes a previous listing.
	NextToken string
	// StartTimestamp and EndTimestamp bound the run start time
	// (RFC 3339 or "2006-01-02 15:04:05").
	StartTimestamp string
	EndTimestamp   string
}

// GetTestRuns lists a scenario's runs, newest first.
func (e *Engine) GetTestRuns(ctx context.Context, testID string, q RunsQuery) (_ *api.TestRunsResponse, err error) {
	ctx, span, _ := e.begin(ctx, "GetTestRuns", testID)
	defer end(span, &err)

	if _, err := e.getScenario(ctx, testID); err != nil {
		return nil, err
	}

	limit := q.Limit
	switch {
	case q.Latest:
		limit = 1
	case limit == 0:
		limit = defaultRunsLimit
	case limit < 1 || limit > maxRunsLimit:
		return nil, apperr.InvalidParameter("limit must be between 1 and %d, got %d", maxRunsLimit, limit)
	}

	query := store.RunQuery{TestID: testID, Limit: limit}
	if !q.Latest && q.NextToken != "" {
		key, err := decodeToken(q.NextToken, testID)
		if err != nil {
			return nil, err
		}
		query.StartAfter = key
	}
	if query.From, err = timestamp("start_timestamp", q.StartTimestamp); err != nil {
		return nil, err
	}
	if query.To, err = timestamp("end_timestamp", q.EndTimestamp); err != nil {
		return nil, err
	}

	page, err := e.history.QueryTestRuns(ctx, query)
	if err != nil {
		return nil, err
	}
	resp := &api.TestRunsResponse{
		TestRuns:   summarize(page.Runs),
		Pagination: api.TestRunsPagination{Limit: limit},
	}
	if page.LastKey != nil && !q.Latest {
		token, err := encodeToken(page.LastKey)
		if err != nil {
			return nil, err
		}
		resp.Pagination.NextToken = &token
	}
	return resp, nil
}

func summarize(runs []store.TestRun) []api.TestRunSummary {
	out := make([]api.TestRunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, api.TestRunSummary{
			TestRunID: r.TestRunID,
			Status:    string(r.Status),
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
			Results:   r.Results,
		})
	}
	return out
}

func encodeToken(key *store.RunKey) (string, error) {
	b, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// decodeToken parses a next_token. Tokens that do not decode to a key of
// testID are rejected rather than restarting the listing.
func decodeToken(token, testID string) (*store.RunKey, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, apperr.InvalidParameter("invalid next_token: not base64")
	}
	var key store.RunKey
	if err := json.Unmarshal(b, &key); err != nil {
		return nil, apperr.InvalidParameter("invalid next_token: not a pagination key")
	}
	if key.TestID != testID || key.StartTime == "" || key.TestRunID == "" {
		return nil, apperr.InvalidParameter("invalid next_token: key does not belong to testId '%s'", testID)
	}
	if _, err := store.ParseTime(key.StartTime); err != nil {
		return nil, apperr.InvalidParameter("invalid next_token: bad startTime")
	}
	return &key, nil
}

// timestamp normalises a range filter to the store's time layout.
func timestamp(name, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return store.FormatTime(t), nil
	}
	if t, err := store.ParseTime(v); err == nil {
		return store.FormatTime(t), nil
	}
	return "", apperr.InvalidParameter("invalid %s %q", name, v)
}

// DeleteTestRuns deletes the listed runs of a scenario and returns how many
// were removed. Entries that are not strings, are not valid run IDs or do
// not exist are skipped.
func (e *Engine) DeleteTestRuns(ctx context.Context, testID string, rawIDs []json.RawMessage) (_ int, err error) {
	ctx, span, log := e.begin(ctx, "DeleteTestRuns", testID)
	defer end(span, &err)

	var ids []string
	for _, raw := range rawIDs {
		var id string
		if json.Unmarshal(raw, &id) != nil || validateID("testRunId", id) != nil {
			continue
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := e.getScenario(ctx, testID); err != nil {
		return 0, err
	}

	deleted := 0
	for _, batch := range pager.Chunk(ids, store.MaxBatchDelete) {
		n, err := e.deleteBatch(ctx, testID, batch)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	log.InfoContext(ctx, "test runs deleted", "requested", len(ids), "deleted", deleted)
	return deleted, nil
}

// unprocessedError reports runs the store could not delete in one attempt.
type unprocessedError struct {
	ids []string
}

func (u *unprocessedError) Error() string {
	return fmt.Sprintf("%d runs left unprocessed: %v", len(u.ids), u.ids)
}

// deleteBatch deletes up to MaxBatchDelete runs, retrying unprocessed runs
// with a linearly growing delay until none remain or attempts run out.
func (e *Engine) deleteBatch(ctx context.Context, testID string, ids []string) (int, error) {
	remaining := ids
	deleted := 0
	err := retry.Do(
		func() error {
			d, unprocessed, err := e.history.DeleteTestRuns(ctx, testID, remaining)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			deleted += len(d)
			remaining = unprocessed
			if len(remaining) > 0 {
				return &unprocessedError{ids: remaining}
			}
			return nil
		},
		retry.Attempts(e.deleteAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return time.Duration(n+1) * e.deleteBackoff
		}),
		retry.OnRetry(func(n uint, err error) {
			e.metrics.HistoryBatchRetried(ctx)
			e.logger.WarnContext(ctx, "retrying unprocessed run deletes", "test_id", testID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return deleted, apperr.Internal("delete test runs of "+testID, err)
	}
	return deleted, nil
}
