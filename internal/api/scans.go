package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mbus/internal/audit"
	"github.com/nerrad567/gray-logic-mbus/internal/bridges/mbus"
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

// scanBasePath is where scan resources live; Location headers point below it.
const scanBasePath = "/api/v1/mbus-data-sources/scan"

// handleCreateScan validates a scan request and starts it.
//
// Query parameters:
//   - expiry: milliseconds the finished scan is kept (default from config)
//   - timeout: milliseconds the scan may run (default from config)
//
// Responds 201 with a Location header and the initial snapshot. The scan
// runs in the background; poll the Location or subscribe on the WebSocket.
func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	expiry, err := millisParam(r, "expiry")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	timeout, err := millisParam(r, "timeout")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	req, err := mbus.DecodeScanRequest(body)
	if err != nil {
		writeScanRequestError(w, err)
		return
	}
	if err := s.scanner.Prepare(req); err != nil {
		writeScanRequestError(w, err)
		return
	}

	// A running data source owns the bus; scanning alongside it would
	// corrupt both. Checked once here, not re-checked during the scan.
	if xid := req.Conn().DataSourceXID; xid != "" {
		running, err := s.dataSources.IsRunning(ctx, xid)
		if err != nil {
			s.logger.Error("data source status lookup failed", "xid", xid, "error", err)
			writeInternalError(w, "failed to check data source status")
			return
		}
		if running {
			writeConflict(w, fmt.Sprintf("data source %s is running; disable it before scanning", xid))
			return
		}
	}

	work, err := s.scanner.Work(req)
	if err != nil {
		writeScanRequestError(w, err)
		return
	}

	userID := callerID(ctx)
	res, err := s.scans.Create(ctx, resource.CreateOptions{
		Type:    mbus.ResourceType,
		OwnerID: userID,
		Expiry:  expiry,
		Timeout: timeout,
	}, s.runner.Factory(work))
	if err != nil {
		switch {
		case errors.Is(err, resource.ErrLimitReached), errors.Is(err, resource.ErrUnavailable):
			s.logger.Warn("scan rejected at capacity", "error", err)
		case !errors.Is(err, resource.ErrValidation):
			s.logger.Error("scan creation failed", "error", err)
		}
		writeResourceError(w, err)
		return
	}

	s.audit.Record(audit.ActionCreate, audit.EntityScan, res.ID(), userID, map[string]any{
		"request_type":    req.Type(),
		"data_source_xid": req.Conn().DataSourceXID,
		"address":         req.Conn().Address(),
	})
	s.logger.Info("scan started",
		"resource_id", res.ID(),
		"request_type", req.Type(),
		"address", req.Conn().Address(),
		"user_id", userID,
	)

	w.Header().Set("Location", scanBasePath+"/"+res.ID())
	writeJSON(w, http.StatusCreated, res.Snapshot())
}

// handleListScans returns the scans the caller may view, oldest first.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFromContext(r.Context())

	all := s.scans.List(mbus.ResourceType)
	scans := make([]resource.Snapshot[mbus.ScanResult], 0, len(all))
	for _, res := range all {
		if res.VisibleTo(viewer) {
			scans = append(scans, res.Snapshot())
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scans": scans,
		"count": len(scans),
	})
}

// handleGetScan returns one scan's current snapshot.
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	res, ok := s.visibleScan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Snapshot())
}

// handleCancelScan cancels a scan and, with ?remove=true, removes it.
// Cancelling a finished scan leaves its status unchanged.
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	remove := false
	if v := r.URL.Query().Get("remove"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "remove must be true or false")
			return
		}
		remove = b
	}

	res, ok := s.visibleScan(w, r)
	if !ok {
		return
	}

	userID := callerID(r.Context())
	if res.Cancel() {
		s.audit.Record(audit.ActionCancel, audit.EntityScan, res.ID(), userID, nil)
		s.logger.Info("scan cancelled", "resource_id", res.ID(), "user_id", userID)
	}

	snap := res.Snapshot()
	if remove {
		// A concurrent DELETE or expiry may already have removed it.
		if err := s.scans.Remove(res.ID()); err != nil && !errors.Is(err, resource.ErrNotFound) {
			writeResourceError(w, err)
			return
		}
		s.audit.Record(audit.ActionRemove, audit.EntityScan, res.ID(), userID, nil)
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleDeleteScan removes a finished scan. Running scans give 409.
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	res, ok := s.visibleScan(w, r)
	if !ok {
		return
	}

	if err := s.scans.Remove(res.ID()); err != nil {
		writeResourceError(w, err)
		return
	}
	s.audit.Record(audit.ActionRemove, audit.EntityScan, res.ID(), callerID(r.Context()), nil)

	w.WriteHeader(http.StatusNoContent)
}

// visibleScan loads the scan named in the URL and applies the owner-or-admin
// rule, writing the error response itself when it returns false.
func (s *Server) visibleScan(w http.ResponseWriter, r *http.Request) (*resource.Resource[mbus.ScanResult], bool) {
	id := chi.URLParam(r, "id")

	res, err := s.scans.Get(id)
	if err != nil {
		writeResourceError(w, err)
		return nil, false
	}
	if res.Type() != mbus.ResourceType {
		writeNotFound(w, "scan not found")
		return nil, false
	}
	if !res.VisibleTo(viewerFromContext(r.Context())) {
		writeResourceError(w, fmt.Errorf("%w: scan %s", resource.ErrAccessDenied, id))
		return nil, false
	}
	return res, true
}

// writeScanRequestError maps request decode and validation failures.
func writeScanRequestError(w http.ResponseWriter, err error) {
	if errors.Is(err, resource.ErrValidation) {
		writeValidation(w, err.Error())
		return
	}
	writeBadRequest(w, err.Error())
}

// millisParam parses an optional non-negative millisecond query parameter.
// Absent or zero means "use the default".
func millisParam(r *http.Request, name string) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number of milliseconds", name)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
