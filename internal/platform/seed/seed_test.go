package seed

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/carenav/carenav/internal/domain/record"
	"github.com/carenav/carenav/internal/platform/tabular"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestPopulation_Deterministic(t *testing.T) {
	cfg := Config{Patients: 25, MaxReferrals: 3}
	a := NewGenerator(42, now).Population(cfg)
	b := NewGenerator(42, now).Population(cfg)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different populations (-a +b):\n%s", diff)
	}

	c := NewGenerator(43, now).Population(cfg)
	if cmp.Equal(a.Demographics, c.Demographics) {
		t.Error("different seeds produced identical demographics")
	}
}

func TestPopulation_Shape(t *testing.T) {
	pid := regexp.MustCompile(`^PT[0-9A-F]{8}$`)
	rid := regexp.MustCompile(`^RS[0-9A-F]{8}$`)
	pop := NewGenerator(7, now).Population(Config{Patients: 200, MaxReferrals: 3})

	if len(pop.Demographics) != 200 || len(pop.Medical) != 200 || len(pop.Engagement) != 200 || len(pop.HRAStatus) != 200 {
		t.Fatalf("expected one row per patient per dataset")
	}

	perPatient := make(map[string]int)
	for _, d := range pop.Demographics {
		if !pid.MatchString(d.PatientID) {
			t.Errorf("bad patient id %q", d.PatientID)
		}
		if d.FullName != d.FirstName+" "+d.LastName {
			t.Errorf("full name %q does not match parts", d.FullName)
		}
		if _, err := time.Parse(time.DateOnly, d.DateOfBirth); err != nil {
			t.Errorf("bad dob %q", d.DateOfBirth)
		}
		if *d.Age < 18 || *d.Age > 90 {
			t.Errorf("age %d out of range", *d.Age)
		}
		perPatient[d.PatientID] = 0
	}

	for _, h := range pop.HRAStatus {
		completed := h.Status == record.HRACompleted
		if completed != (h.CompletionDate != "") || completed != (h.RiskScore != nil) || completed != (h.RiskLevel != nil) {
			t.Errorf("completion fields must be set iff completed: %+v", h)
		}
		if h.RiskLevel != nil && (*h.RiskLevel < 1 || *h.RiskLevel > 5) {
			t.Errorf("risk level %d out of range", *h.RiskLevel)
		}
	}

	seen := make(map[string]bool)
	for _, r := range pop.SDOH {
		if !rid.MatchString(r.ResourceID) {
			t.Errorf("bad resource id %q", r.ResourceID)
		}
		if seen[r.ResourceID] {
			t.Errorf("duplicate resource id %s", r.ResourceID)
		}
		seen[r.ResourceID] = true
		if !record.ValidSDOHStatus(r.Status) {
			t.Errorf("invalid status %q", r.Status)
		}
		perPatient[r.PatientID]++
	}
	for p, n := range perPatient {
		if n > 3 {
			t.Errorf("%s has %d referrals", p, n)
		}
	}
}

func TestSeed_WritesResolvableTables(t *testing.T) {
	ctx := context.Background()
	store := tabular.NewMemStore()

	res, err := Seed(ctx, store, Config{Patients: 30, MaxReferrals: 3, Seed: 1, Now: now}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.Patients != 30 {
		t.Errorf("expected 30 patients, got %d", res.Patients)
	}

	svc := record.NewService(record.NewTableRepo(store))
	avail, err := svc.Available(ctx)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	for d, ok := range avail {
		if !ok {
			t.Errorf("%s not written", d)
		}
	}

	demo, err := svc.Demographics(ctx, record.Filter{})
	if err != nil {
		t.Fatalf("Demographics: %v", err)
	}
	referrals := 0
	for _, d := range demo {
		id := record.Identity{FirstName: d.FirstName, LastName: d.LastName, DateOfBirth: d.DateOfBirth}
		pid, err := svc.Resolve(ctx, id)
		if err != nil || pid != d.PatientID {
			t.Errorf("Resolve(%+v) = %q, %v", id, pid, err)
			continue
		}
		rec, err := svc.Aggregate(ctx, record.Filter{PatientID: pid})
		if err != nil {
			t.Errorf("Aggregate(%s): %v", pid, err)
			continue
		}
		referrals += len(rec.SDOHResources)
	}
	if referrals != res.Referrals {
		t.Errorf("expected %d referrals, aggregated %d", res.Referrals, referrals)
	}
}

func TestSeed_RejectsBadConfig(t *testing.T) {
	store := tabular.NewMemStore()
	if _, err := Seed(context.Background(), store, Config{Patients: 0}, zerolog.Nop()); err == nil {
		t.Error("expected error for zero patients")
	}
	if _, err := Seed(context.Background(), store, Config{Patients: 1, MaxReferrals: -1}, zerolog.Nop()); err == nil {
		t.Error("expected error for negative referrals")
	}
}

func TestPopulation_NamesAndContactsVary(t *testing.T) {
	pop := NewGenerator(11, now).Population(Config{Patients: 100})

	lasts := map[string]bool{}
	phones := map[string]bool{}
	for _, d := range pop.Demographics {
		lasts[d.LastName] = true
		phones[d.Phone] = true
		if d.Address == "" || strings.Count(d.Address, ",") < 2 {
			t.Errorf("%s: address %q is not street, city, state zip", d.PatientID, d.Address)
		}
		if strings.ContainsAny(d.Email, " ") || !strings.HasSuffix(d.Email, "@example.com") {
			t.Errorf("%s: bad email %q", d.PatientID, d.Email)
		}
	}
	if len(lasts) < 30 {
		t.Errorf("expected a wide spread of last names, got %d distinct", len(lasts))
	}
	if len(phones) < 90 {
		t.Errorf("expected nearly unique phones, got %d distinct", len(phones))
	}
}
