// Package seed generates a synthetic patient population for demos and local
// development. Output is reproducible for a given seed and clock.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/carenav/carenav/internal/domain/record"
	"github.com/carenav/carenav/internal/platform/tabular"
)

// Config controls the size and shape of the generated population.
type Config struct {
	Patients int
	// MaxReferrals bounds the SDOH referrals per patient, drawn from 0..MaxReferrals.
	MaxReferrals int
	Seed         int64
	Now          time.Time
}

func DefaultConfig() Config {
	return Config{Patients: 10, MaxReferrals: 3}
}

// Population holds one generated row set per dataset.
type Population struct {
	Demographics []*record.Demographics
	Medical      []*record.Medical
	Engagement   []*record.Engagement
	HRAStatus    []*record.HRAStatus
	SDOH         []*record.SDOHResource
}

// Value pools for fields with a fixed vocabulary. Names, contact details
// and addresses come from gofakeit.
var (
	genders            = []string{"Male", "Female", "Non-binary", "Other", "Prefer not to say"}
	bloodTypes         = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}
	ethnicities        = []string{"Caucasian", "African American", "Hispanic", "Asian", "Pacific Islander", "Native American", "Mixed", "Other"}
	maritalStatuses    = []string{"Single", "Married", "Divorced", "Widowed", "Separated"}
	insuranceProviders = []string{"Aetna", "Blue Cross", "Cigna", "UnitedHealth", "Humana", "Kaiser", "Medicare", "Medicaid"}

	allergies   = []string{"Penicillin", "Peanuts", "Latex", "Shellfish", "Pollen", "Dust"}
	conditions  = []string{"Hypertension", "Diabetes", "Asthma", "Depression", "Arthritis"}
	medications = []string{"Lisinopril", "Metformin", "Atorvastatin", "Levothyroxine"}

	hraStatuses   = []string{record.HRACompleted, record.HRAPending, record.HRANotStarted, record.HRAExpired}
	resourceTypes = []string{"Housing", "Food", "Transportation", "Education", "Employment", "Financial", "Healthcare Access", "Social Support"}
	sdohStatuses  = []string{record.SDOHReferred, record.SDOHEngaged, record.SDOHCompleted, record.SDOHDeclined, record.SDOHNotEligible}
	providerAreas = []string{"Metro Area", "County", "State", "Federal"}
)

// Generator draws synthetic rows from a seeded faker.
type Generator struct {
	faker *gofakeit.Faker
	now   time.Time
}

// NewGenerator returns a generator for seed. A zero seed draws from a random
// source; a zero now uses the current time.
func NewGenerator(seed int64, now time.Time) *Generator {
	if now.IsZero() {
		now = time.Now()
	}
	return &Generator{faker: gofakeit.New(uint64(seed)), now: now}
}

// sample returns up to max distinct items of pool.
func (g *Generator) sample(pool []string, max int) []string {
	shuffled := append([]string(nil), pool...)
	g.faker.ShuffleStrings(shuffled)
	return shuffled[:g.faker.Number(0, max)]
}

func (g *Generator) daysFromNow(lo, hi int) string {
	return g.now.AddDate(0, 0, g.faker.Number(lo, hi)).Format(time.DateOnly)
}

// id is prefix plus the first 8 hex digits of a uuid drawn from the faker.
func (g *Generator) id(prefix string) string {
	return prefix + strings.ToUpper(g.faker.UUID()[:8])
}

func (g *Generator) Demographics(patientID string) *record.Demographics {
	f := g.faker
	first, last := f.FirstName(), f.LastName()
	age := f.Number(18, 90)
	dob := time.Date(g.now.Year()-age, time.Month(f.Number(1, 12)), f.Number(1, 28), 0, 0, 0, 0, time.UTC)
	return &record.Demographics{
		PatientID:         patientID,
		FirstName:         first,
		LastName:          last,
		FullName:          first + " " + last,
		Gender:            f.RandomString(genders),
		Age:               &age,
		DateOfBirth:       dob.Format(time.DateOnly),
		BloodType:         f.RandomString(bloodTypes),
		Ethnicity:         f.RandomString(ethnicities),
		MaritalStatus:     f.RandomString(maritalStatuses),
		SSN:               fmt.Sprintf("%03d-%02d-%04d", f.Number(100, 999), f.Number(10, 99), f.Number(1000, 9999)),
		Email:             strings.ToLower(strings.ReplaceAll(first+"."+last, " ", "")) + "@example.com",
		Phone:             f.PhoneFormatted(),
		Address:           fmt.Sprintf("%s, %s, %s %s", f.Street(), f.City(), f.StateAbr(), f.Zip()),
		InsuranceProvider: f.RandomString(insuranceProviders),
		PolicyNumber:      f.Numerify("######"),
		GroupNumber:       f.Numerify("####"),
	}
}

func (g *Generator) Medical(patientID string) *record.Medical {
	return &record.Medical{
		PatientID:   patientID,
		Allergies:   g.sample(allergies, 3),
		Conditions:  g.sample(conditions, 2),
		Medications: g.sample(medications, 3),
	}
}

// Engagement spans 10 to 90 days starting within the current year.
func (g *Generator) Engagement(patientID string) *record.Engagement {
	start := time.Date(g.now.Year(), time.Month(g.faker.Number(1, 10)), g.faker.Number(1, 28), 0, 0, 0, 0, time.UTC)
	return &record.Engagement{
		PatientID: patientID,
		StartDate: start.Format(time.DateOnly),
		EndDate:   start.AddDate(0, 0, g.faker.Number(10, 90)).Format(time.DateOnly),
		LastVisit: g.daysFromNow(-365, -1),
	}
}

// HRAStatus only fills the completion fields for a completed assessment.
func (g *Generator) HRAStatus(patientID string) *record.HRAStatus {
	h := &record.HRAStatus{
		PatientID:         patientID,
		Status:            g.faker.RandomString(hraStatuses),
		NextAssessmentDue: g.daysFromNow(30, 365),
	}
	if h.Status == record.HRACompleted {
		score, level := g.faker.Number(0, 100), g.faker.Number(1, 5)
		h.CompletionDate = g.daysFromNow(-180, -1)
		h.RiskScore = &score
		h.RiskLevel = &level
	}
	return h
}

func (g *Generator) SDOHResources(patientID string, max int) []*record.SDOHResource {
	n := g.faker.Number(0, max)
	out := make([]*record.SDOHResource, 0, n)
	for i := 0; i < n; i++ {
		kind := g.faker.RandomString(resourceTypes)
		r := &record.SDOHResource{
			ResourceID:   g.id("RS"),
			PatientID:    patientID,
			ResourceType: kind,
			Provider:     kind + " Services of " + g.faker.RandomString(providerAreas),
			ReferralDate: g.daysFromNow(-90, -1),
			Status:       g.faker.RandomString(sdohStatuses),
		}
		if g.faker.Bool() {
			r.Notes = "Patient referred for " + strings.ToLower(kind) + " assistance"
		}
		out = append(out, r)
	}
	return out
}

// Population generates cfg.Patients patients. Patient ids, resource ids and
// identity triples are unique within the population.
func (g *Generator) Population(cfg Config) *Population {
	p := &Population{}
	ids := make(map[string]bool)
	identities := make(map[string]bool)
	for len(p.Demographics) < cfg.Patients {
		pid := g.id("PT")
		if ids[pid] {
			continue
		}
		d := g.Demographics(pid)
		key := strings.ToLower(d.FirstName + "\x00" + d.LastName + "\x00" + d.DateOfBirth)
		if identities[key] {
			continue
		}
		ids[pid] = true
		identities[key] = true

		p.Demographics = append(p.Demographics, d)
		p.Medical = append(p.Medical, g.Medical(pid))
		p.Engagement = append(p.Engagement, g.Engagement(pid))
		p.HRAStatus = append(p.HRAStatus, g.HRAStatus(pid))
		for _, r := range g.SDOHResources(pid, cfg.MaxReferrals) {
			for ids[r.ResourceID] {
				r.ResourceID = g.id("RS")
			}
			ids[r.ResourceID] = true
			p.SDOH = append(p.SDOH, r)
		}
	}
	return p
}

// Tables encodes the population with the record row codecs.
func (p *Population) Tables() (map[record.Dataset]*tabular.Table, error) {
	out := make(map[record.Dataset]*tabular.Table, len(record.Datasets))
	for _, d := range record.Datasets {
		out[d] = tabular.NewTable(record.Columns(d)...)
	}
	for _, r := range p.Demographics {
		out[record.DatasetDemographics].Append(r.Row())
	}
	for _, r := range p.Medical {
		row, err := r.Row()
		if err != nil {
			return nil, fmt.Errorf("encode medical %s: %w", r.PatientID, err)
		}
		out[record.DatasetMedical].Append(row)
	}
	for _, r := range p.Engagement {
		out[record.DatasetEngagement].Append(r.Row())
	}
	for _, r := range p.HRAStatus {
		out[record.DatasetHRAStatus].Append(r.Row())
	}
	for _, r := range p.SDOH {
		out[record.DatasetSDOH].Append(r.Row())
	}
	return out, nil
}

// Result summarizes a Seed run.
type Result struct {
	Patients  int           `json:"patients"`
	Referrals int           `json:"referrals"`
	Duration  time.Duration `json:"duration"`
}

// Seed generates a population and writes all five tables to store,
// replacing whatever they held.
func Seed(ctx context.Context, store tabular.Store, cfg Config, logger zerolog.Logger) (*Result, error) {
	if cfg.Patients < 1 {
		return nil, fmt.Errorf("patients must be at least 1, got %d", cfg.Patients)
	}
	if cfg.MaxReferrals < 0 {
		return nil, fmt.Errorf("max referrals cannot be negative")
	}
	start := time.Now()

	pop := NewGenerator(cfg.Seed, cfg.Now).Population(cfg)
	tables, err := pop.Tables()
	if err != nil {
		return nil, err
	}
	for _, d := range record.Datasets {
		if err := store.Write(ctx, string(d), tables[d]); err != nil {
			return nil, fmt.Errorf("write %s: %w", d, err)
		}
		logger.Debug().Str("dataset", string(d)).Int("rows", len(tables[d].Rows)).Msg("table written")
	}

	res := &Result{Patients: len(pop.Demographics), Referrals: len(pop.SDOH), Duration: time.Since(start)}
	logger.Info().Int("patients", res.Patients).Int("referrals", res.Referrals).Dur("duration", res.Duration).Msg("demo data generated")
	return res, nil
}
