package record

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carenav/carenav/internal/platform/tabular"
)

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func writeTable(t *testing.T, s tabular.Store, d Dataset, rows ...tabular.Row) {
	t.Helper()
	tbl := tabular.NewTable(Columns(d)...)
	for _, r := range rows {
		tbl.Append(r)
	}
	if err := s.Write(context.Background(), string(d), tbl); err != nil {
		t.Fatalf("write %s: %v", d, err)
	}
}

func medicalRow(t *testing.T, m *Medical) tabular.Row {
	t.Helper()
	row, err := m.Row()
	if err != nil {
		t.Fatalf("encode medical: %v", err)
	}
	return row
}

// seed writes a small population into s:
//
//	PT001 Michael Brown, every dataset, two referrals
//	PT002 Sarah Johnson, every dataset, one referral, pending HRA
//	PT003 James Wilson, demographics and medical only
//	PT004, PT005 Alex Kim, same identity twice
func seed(t *testing.T, s tabular.Store) {
	t.Helper()
	demo := []*Demographics{
		{PatientID: "PT001", FirstName: "Michael", LastName: "Brown", FullName: "Michael Brown", Gender: "Male",
			Age: intPtr(27), DateOfBirth: "1997-09-15", BloodType: "O+", Email: "michael.brown@example.com",
			Phone: "555-0101", Address: "12 Elm St, Springfield", InsuranceProvider: "Aetna"},
		{PatientID: "PT002", FirstName: "Sarah", LastName: "Johnson", Gender: "Female",
			Age: intPtr(40), DateOfBirth: "1985-03-22", InsuranceProvider: "Cigna"},
		{PatientID: "PT003", FirstName: "James", LastName: "Wilson", Gender: "Male", DateOfBirth: "1960-11-02"},
		{PatientID: "PT004", FirstName: "Alex", LastName: "Kim", DateOfBirth: "1990-01-01"},
		{PatientID: "PT005", FirstName: "alex", LastName: "KIM", DateOfBirth: "1990-01-01"},
	}
	var demoRows []tabular.Row
	for _, d := range demo {
		demoRows = append(demoRows, d.Row())
	}
	writeTable(t, s, DatasetDemographics, demoRows...)

	writeTable(t, s, DatasetMedical,
		medicalRow(t, &Medical{PatientID: "PT001", Allergies: []string{"Penicillin", "Peanuts"}, Conditions: []string{"Asthma"}}),
		medicalRow(t, &Medical{PatientID: "PT002", Conditions: []string{"Hypertension", "Type 2 Diabetes"}, Medications: []string{"Metformin"}}),
		medicalRow(t, &Medical{PatientID: "PT003"}),
	)

	writeTable(t, s, DatasetEngagement,
		(&Engagement{PatientID: "PT001", StartDate: "2024-01-10", EndDate: "2025-01-10", LastVisit: "2024-11-02"}).Row(),
		(&Engagement{PatientID: "PT002", StartDate: "2023-05-01", EndDate: "2024-05-01", LastVisit: "2024-03-15"}).Row(),
	)

	writeTable(t, s, DatasetHRAStatus,
		(&HRAStatus{PatientID: "PT001", Status: HRACompleted, CompletionDate: "2024-05-01",
			RiskScore: intPtr(42), RiskLevel: intPtr(3), NextAssessmentDue: "2025-05-01"}).Row(),
		(&HRAStatus{PatientID: "PT002", Status: HRAPending, NextAssessmentDue: "2024-12-01"}).Row(),
	)

	writeTable(t, s, DatasetSDOH,
		(&SDOHResource{ResourceID: "RS0001", PatientID: "PT001", ResourceType: "Food", Provider: "City Food Bank",
			ReferralDate: "2024-02-01", Status: SDOHReferred}).Row(),
		(&SDOHResource{ResourceID: "RS0002", PatientID: "PT001", ResourceType: "Housing", Provider: "Shelter Alliance",
			ReferralDate: "2024-03-01", Status: SDOHEngaged, Notes: "waitlisted"}).Row(),
		(&SDOHResource{ResourceID: "RS0003", PatientID: "PT002", ResourceType: "Transportation", Provider: "RideCare",
			ReferralDate: "2024-04-01", Status: SDOHCompleted}).Row(),
	)
}

func newSeededMemStore(t *testing.T) *tabular.MemStore {
	t.Helper()
	store := tabular.NewMemStore()
	seed(t, store)
	return store
}

func newTestService(t *testing.T, opts ...Option) (*Service, *tabular.MemStore) {
	t.Helper()
	store := newSeededMemStore(t)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(NewTableRepo(store), opts...), store
}

func sdohRows(t *testing.T, s tabular.Store) []tabular.Row {
	t.Helper()
	tbl, err := s.Read(context.Background(), string(DatasetSDOH))
	if err != nil {
		t.Fatalf("read sdoh: %v", err)
	}
	return tbl.Rows
}

var errDiskFull = errors.New("disk full")

// failingWrites lets reads through and fails every write.
type failingWrites struct {
	tabular.Store
}

func (f failingWrites) Write(ctx context.Context, name string, t *tabular.Table) error {
	return errDiskFull
}

func (f failingWrites) Update(ctx context.Context, name string, fn func(*tabular.Table) error) error {
	t, err := f.Store.Read(ctx, name)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	return errDiskFull
}

// countingWrites counts committed updates.
type countingWrites struct {
	tabular.Store
	writes atomic.Int32
}

func (c *countingWrites) Update(ctx context.Context, name string, fn func(*tabular.Table) error) error {
	committed := false
	err := c.Store.Update(ctx, name, func(t *tabular.Table) error {
		if err := fn(t); err != nil {
			return err
		}
		committed = true
		return nil
	})
	if err == nil && committed {
		c.writes.Add(1)
	}
	return err
}
