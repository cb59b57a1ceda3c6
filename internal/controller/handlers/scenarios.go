package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"loadplane/internal/engine"
	"loadplane/pkg/api"
)

// ListTests handles GET /scenarios.
// An optional comma separated tags parameter keeps scenarios carrying all of them.
func (h *Handlers) ListTests(w http.ResponseWriter, r *http.Request) {
	var tags []string
	for _, t := range strings.Split(r.URL.Query().Get("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	items, err := h.engine.ListTests(r.Context(), tags)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ListScenariosResponse{Scenarios: items})
}

// CreateTest handles POST /scenarios.
// It launches a run, creating the scenario when the testId is new.
func (h *Handlers) CreateTest(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTestRequest
	if !h.decode(w, r, &req) {
		return
	}

	sc, err := h.engine.CreateTest(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, sc)
}

// ScheduleTest handles POST /scenarios/schedule.
func (h *Handlers) ScheduleTest(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTestRequest
	if !h.decode(w, r, &req) {
		return
	}

	sc, err := h.engine.ScheduleTest(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, sc)
}

// GetTest handles GET /scenarios/{id}.
// A running test carries its live tasks; otherwise history=true adds the runs.
func (h *Handlers) GetTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := engine.GetOptions{
		History: queryBool(q.Get("history"), true),
		Latest:  queryBool(q.Get("latest"), false),
	}

	details, err := h.engine.GetTest(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, details)
}

// DeleteTest handles DELETE /scenarios/{id}.
func (h *Handlers) DeleteTest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.DeleteTest(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, res)
}

// CancelTest handles POST /scenarios/{id}/cancel.
// It only signals the cancellation; tasks stop asynchronously.
func (h *Handlers) CancelTest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CancelTest(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, res)
}

// ListTasks handles GET /tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.engine.ListTasks(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, tasks)
}

// GetCapacity handles GET /capacity.
func (h *Handlers) GetCapacity(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.GetAccountCapacityDetails(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, report)
}

// queryBool parses a boolean query value, falling back to def when absent or
// unparsable.
func queryBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
