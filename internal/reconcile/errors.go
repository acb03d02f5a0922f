package reconcile

import (
	"errors"
	"fmt"

	"github.com/sells-group/mailhaus/internal/provider"
	"github.com/sells-group/mailhaus/internal/store"
)

// Record failure classes.
const (
	ClassMissingIdentifier   = "missing_identifier"
	ClassConstraintViolation = "constraint_violation"
	ClassMalformedDate       = provider.ClassMalformedDate
	ClassTypeCoercion        = provider.ClassTypeCoercion
	ClassPersistence         = "persistence"
)

// RecordError is a failure to reconcile one provider record. It never
// aborts the batch the record belongs to.
type RecordError struct {
	RadarID string
	Class   string
	Err     error
}

func (e *RecordError) Error() string {
	id := e.RadarID
	if id == "" {
		id = "<none>"
	}
	return fmt.Sprintf("reconcile: record %s (%s): %v", id, e.Class, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Classify maps an error to a record failure class.
func Classify(err error) string {
	var re *RecordError
	switch {
	case errors.As(err, &re):
		return re.Class
	case errors.Is(err, provider.ErrMissingIdentifier):
		return ClassMissingIdentifier
	case store.IsConstraintViolation(err):
		return ClassConstraintViolation
	case store.IsDataException(err):
		return ClassTypeCoercion
	default:
		return ClassPersistence
	}
}

func recordError(radarID string, err error) error {
	if err == nil {
		return nil
	}
	var re *RecordError
	if errors.As(err, &re) {
		return err
	}
	return &RecordError{RadarID: radarID, Class: Classify(err), Err: err}
}
