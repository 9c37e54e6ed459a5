package record

import (
	"errors"
	"fmt"
)

var (
	ErrStoreUnavailable   = errors.New("data store unavailable")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrNoRecordForPatient = errors.New("no record for patient")
	ErrAmbiguousIdentity  = errors.New("identity matches more than one patient")
	ErrDuplicateRecord    = errors.New("duplicate record for patient")
	ErrResourceNotFound   = errors.New("sdoh resource not found")
	ErrValidation         = errors.New("validation failed")
	ErrPersistence        = errors.New("failed to persist data")
)

// RowError describes a stored row that could not be decoded.
type RowError struct {
	Dataset   Dataset
	Line      int
	PatientID string
	Err       error
}

func (e *RowError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s line %d: %v", e.Dataset, e.Line, e.Err)
	}
	return fmt.Sprintf("%s row for %s: %v", e.Dataset, e.PatientID, e.Err)
}

// Unwrap makes a RowError match ErrValidation.
func (e *RowError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}
