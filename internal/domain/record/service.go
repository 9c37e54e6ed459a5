package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/carenav/carenav/internal/platform/tabular"
)

const maxIDAttempts = 32

var errNothingToDelete = errors.New("no resources to delete")

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for skipped rows and mutations.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock used for default referral dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDSource sets the generator for new resource ids.
func WithIDSource(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: zerolog.Nop(),
		now:    time.Now,
		newID:  NewResourceID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewResourceID returns "RS" followed by eight upper-case hex digits.
func NewResourceID() string {
	return "RS" + strings.ToUpper(uuid.NewString()[:8])
}

// -- Identity --

// Resolve maps an identity to exactly one patient_id.
func (s *Service) Resolve(ctx context.Context, id Identity) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	ids, err := s.repo.MatchIdentity(ctx, id)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s %s born %s", ErrPatientNotFound, id.FirstName, id.LastName, id.DateOfBirth)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s %s born %s matches %s",
			ErrAmbiguousIdentity, id.FirstName, id.LastName, id.DateOfBirth, strings.Join(ids, ", "))
	}
}

// patientFor returns the patient selected by f, or "" for every patient.
func (s *Service) patientFor(ctx context.Context, f Filter) (string, error) {
	if f.PatientID != "" {
		return f.PatientID, nil
	}
	if f.Identity.IsZero() {
		return "", nil
	}
	return s.Resolve(ctx, f.Identity)
}

// -- Lookups --

type lister[T any] func(ctx context.Context, patientID string) ([]*T, []*RowError, error)

// lookup lists d for the patient selected by f. With perPatient set, a
// single-patient lookup must find exactly one row.
func lookup[T any](ctx context.Context, s *Service, f Filter, d Dataset, list lister[T], perPatient bool) ([]*T, error) {
	pid, err := s.patientFor(ctx, f)
	if err != nil {
		return nil, err
	}
	rows, bad, err := list(ctx, pid)
	if err != nil {
		return nil, err
	}
	if pid == "" {
		for _, b := range bad {
			s.logger.Warn().Err(b).Str("dataset", string(d)).Msg("skipping malformed row")
		}
		if rows == nil {
			rows = []*T{}
		}
		return rows, nil
	}
	if len(bad) > 0 {
		return nil, bad[0]
	}
	if !perPatient {
		if rows == nil {
			rows = []*T{}
		}
		return rows, nil
	}
	if _, err := exactlyOne(rows, d, pid); err != nil {
		return nil, err
	}
	return rows, nil
}

func exactlyOne[T any](rows []*T, d Dataset, pid string) (*T, error) {
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: no %s row for %s", ErrNoRecordForPatient, d, pid)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s has %d %s rows", ErrDuplicateRecord, pid, len(rows), d)
	}
}

func (s *Service) Demographics(ctx context.Context, f Filter) ([]*Demographics, error) {
	return lookup(ctx, s, f, DatasetDemographics, s.repo.ListDemographics, true)
}

func (s *Service) Medical(ctx context.Context, f Filter) ([]*Medical, error) {
	return lookup(ctx, s, f, DatasetMedical, s.repo.ListMedical, true)
}

func (s *Service) Engagement(ctx context.Context, f Filter) ([]*Engagement, error) {
	return lookup(ctx, s, f, DatasetEngagement, s.repo.ListEngagement, true)
}

func (s *Service) HRAStatus(ctx context.Context, f Filter) ([]*HRAStatus, error) {
	return lookup(ctx, s, f, DatasetHRAStatus, s.repo.ListHRAStatus, true)
}

// SDOHResources returns the referrals selected by f. A patient without
// referrals yields an empty list, not an error.
func (s *Service) SDOHResources(ctx context.Context, f Filter) ([]*SDOHResource, error) {
	return lookup(ctx, s, f, DatasetSDOH, s.repo.ListSDOH, false)
}

// -- Aggregate --

// Aggregate joins every dataset for the patient selected by f. The five
// tables are loaded concurrently and any absent table fails the call.
// Demographics must hold exactly one readable row. Malformed or duplicated
// rows elsewhere blank only their own field and are reported in Errors.
func (s *Service) Aggregate(ctx context.Context, f Filter) (*CompleteRecord, error) {
	if f.All() {
		return nil, fmt.Errorf("%w: patient_id or first_name, last_name and dob are required", ErrValidation)
	}
	pid, err := s.patientFor(ctx, f)
	if err != nil {
		return nil, err
	}

	var (
		demo []*Demographics
		med  []*Medical
		eng  []*Engagement
		hra  []*HRAStatus
		sdoh []*SDOHResource
		bad  [5][]*RowError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		demo, bad[0], err = s.repo.ListDemographics(gctx, pid)
		return err
	})
	g.Go(func() (err error) {
		med, bad[1], err = s.repo.ListMedical(gctx, pid)
		return err
	})
	g.Go(func() (err error) {
		eng, bad[2], err = s.repo.ListEngagement(gctx, pid)
		return err
	})
	g.Go(func() (err error) {
		hra, bad[3], err = s.repo.ListHRAStatus(gctx, pid)
		return err
	})
	g.Go(func() (err error) {
		sdoh, bad[4], err = s.repo.ListSDOH(gctx, pid)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(bad[0]) > 0 {
		return nil, bad[0][0]
	}
	switch len(demo) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, pid)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s has %d demographics rows", ErrDuplicateRecord, pid, len(demo))
	}

	rec := &CompleteRecord{
		Demographics:  demo[0],
		SDOHResources: sdoh,
	}
	report := func(d Dataset, err error) {
		s.logger.Warn().Err(err).Str("dataset", string(d)).Str("patient_id", pid).Msg("omitting field from complete record")
		if rec.Errors == nil {
			rec.Errors = make(map[Dataset]string)
		}
		rec.Errors[d] = err.Error()
	}
	rec.Medical = optionalOne(med, bad[1], DatasetMedical, pid, report)
	rec.Engagement = optionalOne(eng, bad[2], DatasetEngagement, pid, report)
	rec.HRAStatus = optionalOne(hra, bad[3], DatasetHRAStatus, pid, report)
	if len(bad[4]) > 0 {
		report(DatasetSDOH, bad[4][0])
	}
	if rec.SDOHResources == nil {
		rec.SDOHResources = []*SDOHResource{}
	}
	return rec, nil
}

// optionalOne returns the patient's single row of d, or nil when there is
// none. Malformed or duplicated rows are passed to report and yield nil.
func optionalOne[T any](rows []*T, bad []*RowError, d Dataset, pid string, report func(Dataset, error)) *T {
	if len(bad) > 0 {
		report(d, bad[0])
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	v, err := exactlyOne(rows, d, pid)
	if err != nil {
		report(d, err)
	}
	return v
}

// -- SDOH mutation --

// UpsertResources applies a batch of creations and partial updates to the
// patient's referrals. The batch is applied as a whole: if any spec fails
// nothing is written.
func (s *Service) UpsertResources(ctx context.Context, patientID string, specs []ResourceSpec) (*UpsertResult, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one resource is required", ErrValidation)
	}
	for i := range specs {
		if err := validateSpec(i, &specs[i]); err != nil {
			return nil, err
		}
	}

	ok, err := s.repo.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}

	today := s.now().Format(time.DateOnly)
	var result *UpsertResult
	err = s.repo.UpdateSDOH(ctx, func(set *SDOHSet) error {
		result = &UpsertResult{PatientID: patientID, UpdatedIDs: []string{}, CreatedIDs: []string{}}
		taken := make(map[string]bool, len(set.Resources)+len(set.Unreadable))
		owned := make(map[string]*SDOHResource)
		for _, r := range set.Resources {
			taken[r.ResourceID] = true
			if r.PatientID == patientID {
				owned[r.ResourceID] = r
			}
		}
		unreadable := make(map[string]*UnreadableSDOH)
		for _, u := range set.Unreadable {
			if u.ResourceID == "" {
				continue
			}
			taken[u.ResourceID] = true
			if u.PatientID == patientID {
				unreadable[u.ResourceID] = u
			}
		}

		for i := range specs {
			spec := &specs[i]
			if spec.ResourceID != "" {
				r, ok := owned[spec.ResourceID]
				if !ok {
					if u, bad := unreadable[spec.ResourceID]; bad {
						return fmt.Errorf("%w: resources[%d]: %s is stored malformed at %s line %d",
							ErrValidation, i, spec.ResourceID, DatasetSDOH, u.Line)
					}
					return fmt.Errorf("%w: %s for patient %s", ErrResourceNotFound, spec.ResourceID, patientID)
				}
				spec.applyTo(r)
				result.UpdatedIDs = append(result.UpdatedIDs, r.ResourceID)
				continue
			}

			id, err := s.mintID(taken)
			if err != nil {
				return err
			}
			taken[id] = true
			r := &SDOHResource{
				ResourceID:   id,
				PatientID:    patientID,
				ReferralDate: today,
			}
			spec.applyTo(r)
			owned[id] = r
			set.Resources = append(set.Resources, r)
			result.CreatedIDs = append(result.CreatedIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", patientID).
		Strs("updated", result.UpdatedIDs).
		Strs("created", result.CreatedIDs).
		Msg("sdoh resources upserted")
	return result, nil
}

func (s *Service) mintID(taken map[string]bool) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID()
		if id != "" && !taken[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique resource id after %d attempts", maxIDAttempts)
}

func validateSpec(i int, spec *ResourceSpec) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: resources[%d]: %s", ErrValidation, i, fmt.Sprintf(format, args...))
	}
	if spec.ResourceID == "" {
		if value(spec.ResourceType) == "" {
			return invalid("resource_type is required")
		}
		if value(spec.Provider) == "" {
			return invalid("provider is required")
		}
		if value(spec.Status) == "" {
			return invalid("status is required")
		}
	} else {
		if spec.ResourceType != nil && *spec.ResourceType == "" {
			return invalid("resource_type cannot be empty")
		}
		if spec.Provider != nil && *spec.Provider == "" {
			return invalid("provider cannot be empty")
		}
	}
	if spec.Status != nil && !ValidSDOHStatus(*spec.Status) {
		return invalid("invalid status: %s", *spec.Status)
	}
	if spec.ReferralDate != nil {
		if _, err := time.Parse(time.DateOnly, *spec.ReferralDate); err != nil {
			return invalid("referral_date must be YYYY-MM-DD, got %q", *spec.ReferralDate)
		}
	}
	return nil
}

func value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (spec *ResourceSpec) applyTo(r *SDOHResource) {
	if spec.ResourceType != nil {
		r.ResourceType = *spec.ResourceType
	}
	if spec.Provider != nil {
		r.Provider = *spec.Provider
	}
	if spec.ReferralDate != nil {
		r.ReferralDate = *spec.ReferralDate
	}
	if spec.Status != nil {
		r.Status = *spec.Status
	}
	if spec.Notes != nil {
		r.Notes = *spec.Notes
	}
}

// DeleteResources removes every referral of the patient, including stored
// records of theirs that are malformed. A patient without referrals is not
// an error and leaves the table untouched.
func (s *Service) DeleteResources(ctx context.Context, patientID string) (*DeleteResult, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	result := &DeleteResult{PatientID: patientID, DeletedIDs: []string{}}
	err := s.repo.UpdateSDOH(ctx, func(set *SDOHSet) error {
		kept := make([]*SDOHResource, 0, len(set.Resources))
		for _, r := range set.Resources {
			if r.PatientID == patientID {
				result.DeletedIDs = append(result.DeletedIDs, r.ResourceID)
				continue
			}
			kept = append(kept, r)
		}
		dropped := false
		for _, u := range set.Unreadable {
			if u.PatientID == patientID {
				u.Drop, dropped = true, true
				if u.ResourceID != "" {
					result.DeletedIDs = append(result.DeletedIDs, u.ResourceID)
				}
			}
		}
		if len(result.DeletedIDs) == 0 && !dropped {
			return errNothingToDelete
		}
		set.Resources = kept
		return nil
	})
	if err != nil && !errors.Is(err, errNothingToDelete) {
		return nil, err
	}
	result.DeletedCount = len(result.DeletedIDs)

	if result.DeletedCount > 0 {
		s.logger.Info().
			Str("patient_id", patientID).
			Int("deleted", result.DeletedCount).
			Msg("sdoh resources deleted")
	}
	return result, nil
}

// -- Export & health --

// Export returns the raw table behind d.
func (s *Service) Export(ctx context.Context, d Dataset) (*tabular.Table, error) {
	t, err := s.repo.Table(ctx, d)
	if err != nil {
		return nil, err
	}
	if n := len(t.Skipped); n > 0 {
		s.logger.Warn().Str("dataset", string(d)).Int("skipped", n).Msg("export omits malformed records")
	}
	return t, nil
}

// Available reports which datasets have a backing table.
func (s *Service) Available(ctx context.Context) (map[Dataset]bool, error) {
	return s.repo.Available(ctx)
}
