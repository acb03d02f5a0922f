package api

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailhaus/internal/model"
	"github.com/sells-group/mailhaus/internal/store"
	"github.com/sells-group/mailhaus/internal/tracker"
)

type submitFileRequest struct {
	Path string `json:"path"`
	tracker.SubmitOptions
}

type submitCriteriaRequest struct {
	Criteria json.RawMessage `json:"criteria"`
	// Total is the expected record count. When omitted the provider is
	// asked for it.
	Total *int `json:"total,omitempty"`
	tracker.SubmitOptions
}

type submitCriteriaResponse struct {
	Unit     *model.IngestionUnit  `json:"unit"`
	Children []model.IngestionUnit `json:"children,omitempty"`
}

func (s *Server) submitFile(w http.ResponseWriter, r *http.Request) {
	var req submitFileRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.tracker.SubmitFile(r.Context(), req.Path, req.SubmitOptions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) submitCriteria(w http.ResponseWriter, r *http.Request) {
	var req submitCriteriaRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := tracker.ValidateCriteria(req.Criteria); err != nil {
		s.writeError(w, r, err)
		return
	}

	var total int
	switch {
	case req.Total != nil:
		total = *req.Total
	case s.radar != nil:
		n, err := s.radar.Count(r.Context(), req.Criteria)
		if err != nil {
			s.writeError(w, r, eris.Wrap(err, "api: count criteria results"))
			return
		}
		total = n
	default:
		s.writeError(w, r, eris.Wrap(errBadRequest, "api: total is required when no provider is configured"))
		return
	}

	u, children, err := s.tracker.SubmitCriteria(r.Context(), req.Criteria, total, req.SubmitOptions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitCriteriaResponse{Unit: u, Children: children})
}

func (s *Server) listUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.UnitFilter{
		Status: model.UnitStatus(q.Get("status")),
		Kind:   model.UnitKind(q.Get("kind")),
	}
	var err error
	if filter.ParentID, err = queryID(r, "parent_id"); err != nil {
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

	units, err := s.tracker.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if units == nil {
		units = []model.IngestionUnit{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) stuckUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.tracker.FindStuck(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if units == nil {
		units = []model.IngestionUnit{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) getUnit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.tracker.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) unitProgress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.tracker.Progress(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) unitLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logs, err := s.tracker.Logs(r.Context(), id, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.UnitLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) resetUnit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.tracker.Reset(r.Context(), id, queryBool(r, "force"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
