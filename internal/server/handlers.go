package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsforge/buildsync/pkg/audit"
	"github.com/opsforge/buildsync/pkg/ledger"
	"github.com/opsforge/buildsync/pkg/registry"
)

// branchResponse is the API shape of a branch joined with its component.
type branchResponse struct {
	ID            uint   `json:"id"`
	ComponentKey  string `json:"componentKey"`
	ProjectKey    string `json:"projectKey"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	Version       string `json:"version"`
	AutoIncrement string `json:"autoIncrementPolicy"`
	PathPattern   string `json:"pathPattern,omitempty"`
	Description   string `json:"description,omitempty"`
}

// ledgerResponse is the API shape of one version ledger entry.
type ledgerResponse struct {
	BranchID        uint       `json:"branchId"`
	LatestBuild     string     `json:"latestBuild"`
	LastCheckedTime *time.Time `json:"lastCheckedTime,omitempty"`
	LastSuccessTime *time.Time `json:"lastSuccessTime,omitempty"`
	LastStatus      string     `json:"lastStatus"`
	LastError       string     `json:"lastError,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// eventResponse is the API shape of one audit event.
type eventResponse struct {
	ID        string    `json:"id"`
	BranchID  *uint     `json:"branchId,omitempty"`
	Severity  string    `json:"severity"`
	Category  string    `json:"category"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

type eventListResponse struct {
	Items         []eventResponse `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
	TotalSize     int             `json:"totalSize"`
}

func toBranchResponse(t registry.SyncTarget) branchResponse {
	return branchResponse{
		ID:            t.Branch.ID,
		ComponentKey:  t.Component.Key,
		ProjectKey:    t.Component.ProjectKey,
		Name:          t.Branch.Name,
		Status:        string(t.Branch.Status),
		Version:       t.Branch.Version.String(),
		AutoIncrement: string(t.Branch.AutoIncrement),
		PathPattern:   t.Branch.PathPattern,
		Description:   t.Branch.Description,
	}
}

func toLedgerResponse(e ledger.Entry) ledgerResponse {
	return ledgerResponse{
		BranchID:        e.BranchID,
		LatestBuild:     e.Ref().String(),
		LastCheckedTime: e.LastCheckedTime,
		LastSuccessTime: e.LastSuccessTime,
		LastStatus:      e.LastStatus,
		LastError:       e.LastError,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toEventResponse(e audit.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		BranchID:  e.BranchID,
		Severity:  string(e.Severity),
		Category:  string(e.Category),
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only when the database answers a ping.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	targets, err := s.registry.ListBranches()
	if err != nil {
		s.logger.Error("list branches failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]branchResponse, 0, len(targets))
	for _, t := range targets {
		items = append(items, toBranchResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleSyncBranch runs one on-demand synchronization attempt and reports the
// resulting ledger entry. Returns 409 when a job for the branch is already in
// flight.
func (s *Server) handleSyncBranch(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	branchID, ok := parseBranchID(w, r)
	if !ok {
		return
	}

	target, err := s.registry.GetTarget(branchID)
	if err != nil {
		s.logger.Error("get branch failed", "error", err, "branchID", branchID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "branch not found")
		return
	}

	if !s.sched.SyncBranch(r.Context(), *target) {
		writeError(w, http.StatusConflict, "synchronization already in progress")
		return
	}

	entry, err := s.ledger.Read(branchID)
	if err != nil {
		s.logger.Error("ledger read failed", "error", err, "branchID", branchID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		// The job never reached the ledger, e.g. shutdown mid-flight.
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
		return
	}
	writeJSON(w, http.StatusOK, toLedgerResponse(*entry))
}

func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.List()
	if err != nil {
		s.logger.Error("list ledger failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]ledgerResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toLedgerResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	branchID, ok := parseBranchID(w, r)
	if !ok {
		return
	}
	entry, err := s.ledger.Read(branchID)
	if err != nil {
		s.logger.Error("ledger read failed", "error", err, "branchID", branchID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "branch has never been synchronized")
		return
	}
	writeJSON(w, http.StatusOK, toLedgerResponse(*entry))
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	var filter audit.ListFilter
	if v := r.URL.Query().Get("branchId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid branchId")
			return
		}
		u := uint(id)
		filter.BranchID = &u
	}
	filter.Severity = r.URL.Query().Get("severity")
	filter.Category = r.URL.Query().Get("category")

	pageSize := 0
	if v := r.URL.Query().Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid pageSize")
			return
		}
		pageSize = n
	}
	pageToken := r.URL.Query().Get("nextPageToken")

	events, nextToken, totalSize, err := s.audit.List(filter, pageSize, pageToken)
	if err != nil {
		s.logger.Error("list audit events failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]eventResponse, 0, len(events))
	for _, e := range events {
		items = append(items, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, eventListResponse{
		Items:         items,
		NextPageToken: nextToken,
		TotalSize:     totalSize,
	})
}

func parseBranchID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "branchID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid branch ID")
		return 0, false
	}
	return uint(id), true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
