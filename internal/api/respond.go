package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/suppression"
	"github.com/sells-group/mailhaus/internal/tracker"
)

var errBadRequest = eris.New("api: bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tracker.ErrNotFound), errors.Is(err, suppression.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrNotResettable):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, tracker.ErrInvalidSubmission),
		errors.Is(err, suppression.ErrNoIdentifier),
		errors.Is(err, suppression.ErrMissingActor),
		errors.Is(err, suppression.ErrMissingSource):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return eris.Wrapf(errBadRequest, "api: invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Wrapf(errBadRequest, "api: invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, eris.Wrapf(errBadRequest, "api: invalid %s %q", name, raw)
	}
	return v, nil
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, eris.Wrapf(errBadRequest, "api: invalid %s %q", name, raw)
	}
	return &v, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}
