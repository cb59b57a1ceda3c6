package handlers

import (
	"net/http"

	"loadplane/internal/store"
)

// ListRegions handles GET /regions.
func (h *Handlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.engine.ListRegions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]any{"regions": regions})
}

// StackInfo handles GET /stack-info.
func (h *Handlers) StackInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.StackInfo(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, info)
}

// InternalPutRegion handles PUT /internal/regions.
// Called by the provisioning pipeline after a regional stack is deployed.
func (h *Handlers) InternalPutRegion(w http.ResponseWriter, r *http.Request) {
	var cfg store.InfraConfig
	if !h.decode(w, r, &cfg) {
		return
	}

	if err := h.engine.PutRegion(r.Context(), cfg); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
