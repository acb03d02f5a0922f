package api

import (
	"net/http"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/suppression"
)

type removeDnmResponse struct {
	ID      int64 `json:"dnm_id"`
	Removed bool  `json:"removed"`
}

type checkDnmResponse struct {
	model.Identifiers
	Suppressed bool `json:"suppressed"`
}

func (s *Server) addDnm(w http.ResponseWriter, r *http.Request) {
	var req suppression.AddRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.gate.Add(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// removeDnm soft-deletes an entry. The actor is the removed_by query
// parameter.
func (s *Server) removeDnm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	removed, err := s.gate.Remove(r.Context(), id, r.URL.Query().Get("removed_by"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removeDnmResponse{ID: id, Removed: removed})
}

func (s *Server) listDnm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DnmFilter{
		RadarID:   q.Get("radar_id"),
		Source:    q.Get("source"),
		BlockedBy: q.Get("blocked_by"),
	}
	if queryBool(r, "include_inactive") {
		filter.Visibility = model.IncludeInactive
	}
	var err error
	if filter.LoanID, err = queryID(r, "loan_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.PropertyID, err = queryID(r, "property_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.gate.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.DnmEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) checkDnm(w http.ResponseWriter, r *http.Request) {
	var ids model.Identifiers
	var err error
	if ids.LoanID, err = queryID(r, "loan_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids.PropertyID, err = queryID(r, "property_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if radarID := r.URL.Query().Get("radar_id"); radarID != "" {
		ids.RadarID = &radarID
	}

	suppressed, err := s.gate.IsSuppressed(r.Context(), ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkDnmResponse{Identifiers: ids, Suppressed: suppressed})
}
