package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mbus/internal/audit"
	"github.com/nerrad567/gray-logic-mbus/internal/datasource"
)

type createDataSourceRequest struct {
	XID     string            `json:"xid"`
	Name    string            `json:"name"`
	Type    datasource.Type   `json:"type"`
	Enabled bool              `json:"enabled"`
	Config  datasource.Config `json:"config,omitempty"`
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleListDataSources returns every data source with its runtime state.
func (s *Server) handleListDataSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.dataSources.List(r.Context())
	if err != nil {
		s.logger.Error("list data sources failed", "error", err)
		writeInternalError(w, "failed to list data sources")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data_sources": sources,
		"count":        len(sources),
	})
}

// handleGetDataSource returns one data source with its runtime state.
func (s *Server) handleGetDataSource(w http.ResponseWriter, r *http.Request) {
	xid := chi.URLParam(r, "xid")

	ds, err := s.dataSources.Get(r.Context(), xid)
	if err != nil {
		if errors.Is(err, datasource.ErrNotFound) {
			writeNotFound(w, "data source not found")
			return
		}
		s.logger.Error("get data source failed", "xid", xid, "error", err)
		writeInternalError(w, "failed to get data source")
		return
	}

	running, err := s.dataSources.IsRunning(r.Context(), xid)
	if err != nil {
		writeInternalError(w, "failed to get data source status")
		return
	}

	writeJSON(w, http.StatusOK, datasource.Status{DataSource: *ds, Running: running})
}

// handleCreateDataSource registers a new data source.
func (s *Server) handleCreateDataSource(w http.ResponseWriter, r *http.Request) {
	var req createDataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ds := &datasource.DataSource{
		XID:     req.XID,
		Name:    req.Name,
		Type:    req.Type,
		Enabled: req.Enabled,
		Config:  req.Config,
	}
	if err := s.dataSources.Create(r.Context(), ds); err != nil {
		switch {
		case errors.Is(err, datasource.ErrInvalid):
			writeValidation(w, err.Error())
		case errors.Is(err, datasource.ErrExists):
			writeConflict(w, "data source xid already exists")
		default:
			s.logger.Error("create data source failed", "error", err)
			writeInternalError(w, "failed to create data source")
		}
		return
	}

	s.audit.Record(audit.ActionCreate, audit.EntityDataSource, ds.XID, callerID(r.Context()), map[string]any{
		"type": string(ds.Type),
	})

	writeJSON(w, http.StatusCreated, ds)
}

// handleSetDataSourceEnabled enables or disables a data source. Disabling
// is how an operator frees the bus for a scan.
func (s *Server) handleSetDataSourceEnabled(w http.ResponseWriter, r *http.Request) {
	xid := chi.URLParam(r, "xid")

	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeBadRequest(w, `body must be {"enabled": true|false}`)
		return
	}

	if err := s.dataSources.SetEnabled(r.Context(), xid, *req.Enabled); err != nil {
		if errors.Is(err, datasource.ErrNotFound) {
			writeNotFound(w, "data source not found")
			return
		}
		s.logger.Error("set data source enabled failed", "xid", xid, "error", err)
		writeInternalError(w, "failed to update data source")
		return
	}

	action := audit.ActionDisable
	if *req.Enabled {
		action = audit.ActionEnable
	}
	s.audit.Record(action, audit.EntityDataSource, xid, callerID(r.Context()), nil)

	s.handleGetDataSource(w, r)
}
