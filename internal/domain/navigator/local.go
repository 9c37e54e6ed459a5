package navigator

import (
	"context"
	"fmt"

	"github.com/carenav/carenav/internal/domain/record"
)

// Local serves the tools straight from a record.Service. Lookups reject an
// incomplete identity, which the service would read as a bulk request.
type Local struct {
	svc *record.Service
}

func NewLocal(svc *record.Service) *Local {
	return &Local{svc: svc}
}

func (l *Local) FindPatient(ctx context.Context, id record.Identity) (string, error) {
	return l.svc.Resolve(ctx, id)
}

// first returns the patient's single row of a per-patient dataset.
func first[T any](rows []*T, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: got %d rows", record.ErrDuplicateRecord, len(rows))
	}
	return rows[0], nil
}

func (l *Local) Demographics(ctx context.Context, id record.Identity) (*record.Demographics, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return first(l.svc.Demographics(ctx, record.Filter{Identity: id}))
}

func (l *Local) Engagement(ctx context.Context, id record.Identity) (*record.Engagement, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return first(l.svc.Engagement(ctx, record.Filter{Identity: id}))
}

func (l *Local) HRAStatus(ctx context.Context, id record.Identity) (*record.HRAStatus, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return first(l.svc.HRAStatus(ctx, record.Filter{Identity: id}))
}

func (l *Local) Medical(ctx context.Context, id record.Identity) (*record.Medical, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return first(l.svc.Medical(ctx, record.Filter{Identity: id}))
}

func (l *Local) SDOHResources(ctx context.Context, id record.Identity) ([]*record.SDOHResource, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return l.svc.SDOHResources(ctx, record.Filter{Identity: id})
}

func (l *Local) Complete(ctx context.Context, id record.Identity) (*record.CompleteRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return l.svc.Aggregate(ctx, record.Filter{Identity: id})
}

func (l *Local) UpsertResources(ctx context.Context, patientID string, specs []record.ResourceSpec) (*record.UpsertResult, error) {
	return l.svc.UpsertResources(ctx, patientID, specs)
}

func (l *Local) DeleteResources(ctx context.Context, patientID string) (*record.DeleteResult, error) {
	return l.svc.DeleteResources(ctx, patientID)
}
