package api

import (
	"net/http"

	"github.com/joescharf/tamv/internal/metrics"
	"github.com/joescharf/tamv/internal/models"
	"github.com/joescharf/tamv/internal/store"
)

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := s.dash.Snapshot(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type layerEntry struct {
	models.LayerInfo
	Progress int `json:"progress"`
	Modules  int `json:"modules"`
}

func (s *Server) listLayers(w http.ResponseWriter, r *http.Request) {
	mods, err := s.store.ListModules(r.Context(), store.ModuleFilter{})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	grid := metrics.LayerProgressMap(mods)
	out := make([]layerEntry, 0, len(grid))
	for _, e := range grid {
		out = append(out, layerEntry{LayerInfo: e.Layer.Info(), Progress: e.Progress, Modules: e.Modules})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := models.ParseLayer(r.PathValue("layer"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	detail, err := s.dash.LayerDetail(r.Context(), layer)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway probe not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.gateway.Status(r.Context()))
}
