package handlers

import (
	"net/http"

	"loadplane/internal/logger"
	"loadplane/pkg/api"
)

// InternalSchedule handles POST /internal/schedule.
// Schedule rules deliver their stored request here when they fire.
func (h *Handlers) InternalSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTestRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.TestID == "" {
		h.httpError(w, "testId is required", "InvalidParameter", http.StatusBadRequest)
		return
	}

	ctx := logger.WithTestID(r.Context(), req.TestID)
	sc, err := h.engine.Trigger(ctx, req)
	if err != nil {
		h.fail(w, r.WithContext(ctx), err)
		return
	}
	h.respondJson(w, http.StatusOK, sc)
}

// InternalCompleteRun handles PUT /internal/scenarios/{id}/runs/{runId}/result.
// Called by the workflow backend when a run ends.
func (h *Handlers) InternalCompleteRun(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteRunRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.CompleteTestRun(r.Context(), r.PathValue("id"), r.PathValue("runId"), req); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
