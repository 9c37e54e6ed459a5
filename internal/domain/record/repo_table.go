package record

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carenav/carenav/internal/platform/tabular"
)

var errFieldCount = errors.New("wrong number of fields")

type tableRepo struct {
	store tabular.Store
}

// NewTableRepo returns a Repository over a tabular.Store. Every call reads
// its tables afresh; nothing is cached between calls.
func NewTableRepo(store tabular.Store) Repository {
	return &tableRepo{store: store}
}

func (r *tableRepo) read(ctx context.Context, d Dataset) (*tabular.Table, error) {
	t, err := r.store.Read(ctx, string(d))
	if err != nil {
		if errors.Is(err, tabular.ErrTableAbsent) {
			return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, d)
		}
		return nil, fmt.Errorf("read %s: %w", d, err)
	}
	if len(t.Header) > 0 && !t.HasColumn("patient_id") {
		return nil, fmt.Errorf("%w: %s has no patient_id column", ErrStoreUnavailable, d)
	}
	return t, nil
}

func (r *tableRepo) MatchIdentity(ctx context.Context, id Identity) ([]string, error) {
	t, err := r.read(ctx, DatasetDemographics)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, row := range t.Where(func(row tabular.Row) bool {
		return strings.EqualFold(row["first_name"], id.FirstName) &&
			strings.EqualFold(row["last_name"], id.LastName) &&
			row["date_of_birth"] == id.DateOfBirth
	}) {
		ids = append(ids, row["patient_id"])
	}
	return ids, nil
}

func (r *tableRepo) PatientExists(ctx context.Context, patientID string) (bool, error) {
	t, err := r.read(ctx, DatasetDemographics)
	if err != nil {
		return false, err
	}
	return len(t.Where(func(row tabular.Row) bool { return row["patient_id"] == patientID })) > 0, nil
}

func listRows[T any](ctx context.Context, r *tableRepo, d Dataset, patientID string, decode func(tabular.Row) (*T, error)) ([]*T, []*RowError, error) {
	t, err := r.read(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	var out []*T
	var bad []*RowError
	for _, row := range t.Rows {
		pid := row["patient_id"]
		if patientID != "" && pid != patientID {
			continue
		}
		v, err := decode(row)
		if err != nil {
			bad = append(bad, &RowError{Dataset: d, PatientID: pid, Err: err})
			continue
		}
		out = append(out, v)
	}
	for _, sk := range t.Skipped {
		pid := sk.Field(t.Header, "patient_id")
		if patientID != "" && pid != patientID {
			continue
		}
		bad = append(bad, &RowError{Dataset: d, Line: sk.Line, PatientID: pid, Err: errFieldCount})
	}
	return out, bad, nil
}

func (r *tableRepo) ListDemographics(ctx context.Context, patientID string) ([]*Demographics, []*RowError, error) {
	return listRows(ctx, r, DatasetDemographics, patientID, demographicsFromRow)
}

func (r *tableRepo) ListMedical(ctx context.Context, patientID string) ([]*Medical, []*RowError, error) {
	return listRows(ctx, r, DatasetMedical, patientID, medicalFromRow)
}

func (r *tableRepo) ListEngagement(ctx context.Context, patientID string) ([]*Engagement, []*RowError, error) {
	return listRows(ctx, r, DatasetEngagement, patientID, engagementFromRow)
}

func (r *tableRepo) ListHRAStatus(ctx context.Context, patientID string) ([]*HRAStatus, []*RowError, error) {
	return listRows(ctx, r, DatasetHRAStatus, patientID, hraFromRow)
}

func (r *tableRepo) ListSDOH(ctx context.Context, patientID string) ([]*SDOHResource, []*RowError, error) {
	return listRows(ctx, r, DatasetSDOH, patientID, sdohFromRow)
}

func (r *tableRepo) UpdateSDOH(ctx context.Context, fn func(*SDOHSet) error) error {
	var fnErr error
	err := r.store.Update(ctx, string(DatasetSDOH), func(t *tabular.Table) error {
		set := &SDOHSet{Resources: make([]*SDOHResource, 0, len(t.Rows))}
		originals := make(map[string]tabular.Row, len(t.Rows))
		for _, row := range t.Rows {
			res, _ := sdohFromRow(row)
			set.Resources = append(set.Resources, res)
			originals[res.ResourceID] = row
		}
		for _, sk := range t.Skipped {
			set.Unreadable = append(set.Unreadable, &UnreadableSDOH{
				Line:       sk.Line,
				ResourceID: sk.Field(t.Header, "resource_id"),
				PatientID:  sk.Field(t.Header, "patient_id"),
			})
		}

		if err := fn(set); err != nil {
			fnErr = err
			return err
		}

		for _, col := range SDOHColumns {
			if !t.HasColumn(col) {
				t.Header = append(t.Header, col)
			}
		}
		rows := make([]tabular.Row, 0, len(set.Resources))
		for _, res := range set.Resources {
			row := res.Row()
			// Carry over columns this service does not know about.
			for k, v := range originals[res.ResourceID] {
				if _, ok := row[k]; !ok {
					row[k] = v
				}
			}
			rows = append(rows, row)
		}
		t.Rows = rows

		dropped := make(map[int]bool)
		for _, u := range set.Unreadable {
			if u.Drop {
				dropped[u.Line] = true
			}
		}
		kept := t.Skipped[:0]
		for _, sk := range t.Skipped {
			if !dropped[sk.Line] {
				kept = append(kept, sk)
			}
		}
		t.Skipped = kept
		return nil
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	case errors.Is(err, tabular.ErrTableAbsent):
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, DatasetSDOH)
	default:
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
}

func (r *tableRepo) Table(ctx context.Context, d Dataset) (*tabular.Table, error) {
	return r.read(ctx, d)
}

func (r *tableRepo) Available(ctx context.Context) (map[Dataset]bool, error) {
	out := make(map[Dataset]bool, len(Datasets))
	for _, d := range Datasets {
		ok, err := r.store.Exists(ctx, string(d))
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", d, err)
		}
		out[d] = ok
	}
	return out, nil
}
