package handlers

import (
	"net/http"
	"strconv"

	"loadplane/internal/engine"
	"loadplane/pkg/api"
)

// GetTestRuns handles GET /scenarios/{id}/runs.
func (h *Handlers) GetTestRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := engine.RunsQuery{
		Latest:         queryBool(q.Get("latest"), false),
		NextToken:      q.Get("next_token"),
		StartTimestamp: q.Get("start_timestamp"),
		EndTimestamp:   q.Get("end_timestamp"),
	}
	if v := q.Get("limit"); v != "" {
		// An explicit limit is never defaulted; 0 is out of range.
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			h.httpError(w, "limit must be an integer between 1 and 100", "InvalidParameter", http.StatusBadRequest)
			return
		}
		query.Limit = limit
	}

	res, err := h.engine.GetTestRuns(r.Context(), r.PathValue("id"), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, res)
}

// DeleteTestRuns handles DELETE /scenarios/{id}/runs.
// Unknown or malformed run ids are skipped.
func (h *Handlers) DeleteTestRuns(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteTestRunsRequest
	if !h.decode(w, r, &req) {
		return
	}

	n, err := h.engine.DeleteTestRuns(r.Context(), r.PathValue("id"), req.TestRunIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.DeleteTestRunsResponse{DeletedCount: n})
}

// SetBaseline handles PUT /scenarios/{id}/baseline.
func (h *Handlers) SetBaseline(w http.ResponseWriter, r *http.Request) {
	var req api.SetBaselineRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.engine.SetBaseline(r.Context(), r.PathValue("id"), req.TestRunID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, res)
}

// GetBaseline handles GET /scenarios/{id}/baseline.
func (h *Handlers) GetBaseline(w http.ResponseWriter, r *http.Request) {
	include := queryBool(r.URL.Query().Get("include_results"), false)

	res, err := h.engine.GetBaseline(r.Context(), r.PathValue("id"), include)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, res)
}

// ClearBaseline handles DELETE /scenarios/{id}/baseline.
func (h *Handlers) ClearBaseline(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ClearBaseline(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, res)
}
