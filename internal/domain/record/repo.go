package record

import (
	"context"

	"github.com/carenav/carenav/internal/platform/tabular"
)

// Repository reads the five datasets and mutates the SDOH dataset.
//
// List methods return every row when patientID is empty. Rows that cannot
// be decoded are returned as RowErrors instead of failing the call. A
// missing backing table yields ErrStoreUnavailable.
type Repository interface {
	MatchIdentity(ctx context.Context, id Identity) ([]string, error)
	PatientExists(ctx context.Context, patientID string) (bool, error)

	ListDemographics(ctx context.Context, patientID string) ([]*Demographics, []*RowError, error)
	ListMedical(ctx context.Context, patientID string) ([]*Medical, []*RowError, error)
	ListEngagement(ctx context.Context, patientID string) ([]*Engagement, []*RowError, error)
	ListHRAStatus(ctx context.Context, patientID string) ([]*HRAStatus, []*RowError, error)
	ListSDOH(ctx context.Context, patientID string) ([]*SDOHResource, []*RowError, error)

	// UpdateSDOH lets fn edit the SDOH dataset under the dataset's writer
	// lock and writes the result. Nothing is written when fn fails; its
	// error is returned as is. A failed write yields ErrPersistence.
	UpdateSDOH(ctx context.Context, fn func(*SDOHSet) error) error

	Table(ctx context.Context, d Dataset) (*tabular.Table, error)
	Available(ctx context.Context) (map[Dataset]bool, error)
}

// SDOHSet is the SDOH dataset as handed to an UpdateSDOH callback. The
// callback replaces or edits Resources. Unreadable records are written back
// unchanged unless marked Drop.
type SDOHSet struct {
	Resources  []*SDOHResource
	Unreadable []*UnreadableSDOH
}

// UnreadableSDOH is a stored SDOH record with the wrong number of fields,
// identified by whatever leading fields it has.
type UnreadableSDOH struct {
	Line       int
	ResourceID string
	PatientID  string
	Drop       bool
}
