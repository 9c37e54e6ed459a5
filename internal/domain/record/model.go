package record

import (
	"fmt"
	"strconv"

	"github.com/carenav/carenav/internal/platform/tabular"
)

// Dataset names the five backing tables.
type Dataset string

const (
	DatasetDemographics Dataset = "demographics"
	DatasetMedical      Dataset = "medical"
	DatasetEngagement   Dataset = "engagement"
	DatasetHRAStatus    Dataset = "hra_status"
	DatasetSDOH         Dataset = "sdoh_resources"
)

// Datasets lists every dataset in aggregate order.
var Datasets = []Dataset{
	DatasetDemographics,
	DatasetMedical,
	DatasetEngagement,
	DatasetHRAStatus,
	DatasetSDOH,
}

// ParseDataset validates a dataset name.
func ParseDataset(s string) (Dataset, error) {
	for _, d := range Datasets {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: unknown dataset %q", ErrValidation, s)
}

// Column layouts, in file order.
var (
	DemographicsColumns = []string{
		"patient_id", "first_name", "last_name", "full_name", "gender",
		"age", "date_of_birth", "blood_type", "ethnicity", "marital_status",
		"ssn", "email", "phone", "address", "insurance_provider",
		"policy_number", "group_number",
	}
	MedicalColumns    = []string{"patient_id", "allergies", "conditions", "medications"}
	EngagementColumns = []string{"patient_id", "start_date", "end_date", "last_visit"}
	HRAColumns        = []string{"patient_id", "status", "completion_date", "risk_score", "risk_level", "next_assessment_due"}
	SDOHColumns       = []string{"resource_id", "patient_id", "resource_type", "provider", "referral_date", "status", "notes"}
)

// Columns returns the column layout for d.
func Columns(d Dataset) []string {
	switch d {
	case DatasetDemographics:
		return DemographicsColumns
	case DatasetMedical:
		return MedicalColumns
	case DatasetEngagement:
		return EngagementColumns
	case DatasetHRAStatus:
		return HRAColumns
	case DatasetSDOH:
		return SDOHColumns
	}
	return nil
}

// HRA assessment states.
const (
	HRACompleted  = "Completed"
	HRAPending    = "Pending"
	HRANotStarted = "Not Started"
	HRAExpired    = "Expired"
)

// SDOH referral states.
const (
	SDOHReferred    = "Referred"
	SDOHEngaged     = "Engaged"
	SDOHCompleted   = "Completed"
	SDOHDeclined    = "Declined"
	SDOHNotEligible = "Not Eligible"
)

var sdohStatuses = map[string]bool{
	SDOHReferred:    true,
	SDOHEngaged:     true,
	SDOHCompleted:   true,
	SDOHDeclined:    true,
	SDOHNotEligible: true,
}

// ValidSDOHStatus reports whether s is a known SDOH referral status.
func ValidSDOHStatus(s string) bool {
	return sdohStatuses[s]
}

// Identity is the human-given identity used to resolve a patient.
type Identity struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"dob"`
}

// IsZero reports whether no identity field is set.
func (i Identity) IsZero() bool {
	return i.FirstName == "" && i.LastName == "" && i.DateOfBirth == ""
}

// Complete reports whether every identity field is set.
func (i Identity) Complete() bool {
	return i.FirstName != "" && i.LastName != "" && i.DateOfBirth != ""
}

// Validate returns ErrValidation unless every identity field is set.
func (i Identity) Validate() error {
	if !i.Complete() {
		return fmt.Errorf("%w: first_name, last_name and dob are required", ErrValidation)
	}
	return nil
}

// Filter selects rows for a lookup. At most one of PatientID and Identity is
// used; PatientID wins. An empty filter selects every row.
type Filter struct {
	PatientID string
	Identity  Identity
}

// All reports whether the filter selects every row.
func (f Filter) All() bool {
	return f.PatientID == "" && f.Identity.IsZero()
}

// Demographics maps to the demographics table.
type Demographics struct {
	PatientID         string `json:"patient_id"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	FullName          string `json:"full_name,omitempty"`
	Gender            string `json:"gender"`
	Age               *int   `json:"age"`
	DateOfBirth       string `json:"date_of_birth"`
	BloodType         string `json:"blood_type"`
	Ethnicity         string `json:"ethnicity"`
	MaritalStatus     string `json:"marital_status"`
	SSN               string `json:"ssn"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Address           string `json:"address"`
	InsuranceProvider string `json:"insurance_provider"`
	PolicyNumber      string `json:"policy_number"`
	GroupNumber       string `json:"group_number"`
}

// Medical maps to the medical table with list columns decoded.
type Medical struct {
	PatientID   string   `json:"patient_id"`
	Allergies   []string `json:"allergies"`
	Conditions  []string `json:"conditions"`
	Medications []string `json:"medications"`
}

// Engagement maps to the engagement table.
type Engagement struct {
	PatientID string `json:"patient_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	LastVisit string `json:"last_visit"`
}

// HRAStatus maps to the hra_status table. CompletionDate, RiskScore and
// RiskLevel are only set for completed assessments.
type HRAStatus struct {
	PatientID         string `json:"patient_id"`
	Status            string `json:"status"`
	CompletionDate    string `json:"completion_date"`
	RiskScore         *int   `json:"risk_score"`
	RiskLevel         *int   `json:"risk_level"`
	NextAssessmentDue string `json:"next_assessment_due"`
}

// SDOHResource maps to the sdoh_resources table.
type SDOHResource struct {
	ResourceID   string `json:"resource_id"`
	PatientID    string `json:"patient_id"`
	ResourceType string `json:"resource_type"`
	Provider     string `json:"provider"`
	ReferralDate string `json:"referral_date"`
	Status       string `json:"status"`
	Notes        string `json:"notes"`
}

// CompleteRecord is the denormalized join of every dataset for one patient.
// Missing per-patient rows are nil; SDOHResources is never nil. A dataset
// whose rows for the patient are malformed or duplicated is left nil (for
// SDOH, the bad rows are left out) and the reason is put in Errors.
type CompleteRecord struct {
	Demographics  *Demographics      `json:"demographics"`
	Medical       *Medical           `json:"medical"`
	Engagement    *Engagement        `json:"engagement"`
	HRAStatus     *HRAStatus         `json:"hra_status"`
	SDOHResources []*SDOHResource    `json:"sdoh_resources"`
	Errors        map[Dataset]string `json:"errors,omitempty"`
}

// ResourceSpec describes one SDOH change. A spec without ResourceID creates
// a resource; with ResourceID only the non-nil fields are updated.
type ResourceSpec struct {
	ResourceID   string  `json:"resource_id,omitempty"`
	ResourceType *string `json:"resource_type,omitempty"`
	Provider     *string `json:"provider,omitempty"`
	ReferralDate *string `json:"referral_date,omitempty"`
	Status       *string `json:"status,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// UpsertResult reports the ids touched by UpsertResources.
type UpsertResult struct {
	PatientID  string   `json:"patient_id"`
	UpdatedIDs []string `json:"updated_ids"`
	CreatedIDs []string `json:"created_ids"`
}

// DeleteResult reports the resources removed by DeleteResources.
type DeleteResult struct {
	PatientID    string   `json:"patient_id"`
	DeletedCount int      `json:"deleted_count"`
	DeletedIDs   []string `json:"deleted_ids"`
}

// -- Row codecs --

func optionalInt(row tabular.Row, col string, min, max int) (*int, error) {
	v := row[col]
	if v == "" {
		return nil, nil
	}
	// Files written by spreadsheet tools store integers as "42.0".
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return nil, fmt.Errorf("%s: %q is not an integer", col, v)
	}
	n := int(f)
	if n < min || n > max {
		return nil, fmt.Errorf("%s: %d out of range [%d, %d]", col, n, min, max)
	}
	return &n, nil
}

func formatInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func demographicsFromRow(row tabular.Row) (*Demographics, error) {
	age, err := optionalInt(row, "age", 0, 150)
	if err != nil {
		return nil, err
	}
	return &Demographics{
		PatientID:         row["patient_id"],
		FirstName:         row["first_name"],
		LastName:          row["last_name"],
		FullName:          row["full_name"],
		Gender:            row["gender"],
		Age:               age,
		DateOfBirth:       row["date_of_birth"],
		BloodType:         row["blood_type"],
		Ethnicity:         row["ethnicity"],
		MaritalStatus:     row["marital_status"],
		SSN:               row["ssn"],
		Email:             row["email"],
		Phone:             row["phone"],
		Address:           row["address"],
		InsuranceProvider: row["insurance_provider"],
		PolicyNumber:      row["policy_number"],
		GroupNumber:       row["group_number"],
	}, nil
}

// Row encodes d for the demographics table.
func (d *Demographics) Row() tabular.Row {
	return tabular.Row{
		"patient_id":         d.PatientID,
		"first_name":         d.FirstName,
		"last_name":          d.LastName,
		"full_name":          d.FullName,
		"gender":             d.Gender,
		"age":                formatInt(d.Age),
		"date_of_birth":      d.DateOfBirth,
		"blood_type":         d.BloodType,
		"ethnicity":          d.Ethnicity,
		"marital_status":     d.MaritalStatus,
		"ssn":                d.SSN,
		"email":              d.Email,
		"phone":              d.Phone,
		"address":            d.Address,
		"insurance_provider": d.InsuranceProvider,
		"policy_number":      d.PolicyNumber,
		"group_number":       d.GroupNumber,
	}
}

func medicalFromRow(row tabular.Row) (*Medical, error) {
	return &Medical{
		PatientID:   row["patient_id"],
		Allergies:   tabular.DecodeList(row["allergies"]),
		Conditions:  tabular.DecodeList(row["conditions"]),
		Medications: tabular.DecodeList(row["medications"]),
	}, nil
}

// Row encodes m for the medical table.
func (m *Medical) Row() (tabular.Row, error) {
	allergies, err := tabular.EncodeList(m.Allergies)
	if err != nil {
		return nil, fmt.Errorf("allergies: %w", err)
	}
	conditions, err := tabular.EncodeList(m.Conditions)
	if err != nil {
		return nil, fmt.Errorf("conditions: %w", err)
	}
	medications, err := tabular.EncodeList(m.Medications)
	if err != nil {
		return nil, fmt.Errorf("medications: %w", err)
	}
	return tabular.Row{
		"patient_id":  m.PatientID,
		"allergies":   allergies,
		"conditions":  conditions,
		"medications": medications,
	}, nil
}

func engagementFromRow(row tabular.Row) (*Engagement, error) {
	return &Engagement{
		PatientID: row["patient_id"],
		StartDate: row["start_date"],
		EndDate:   row["end_date"],
		LastVisit: row["last_visit"],
	}, nil
}

// Row encodes e for the engagement table.
func (e *Engagement) Row() tabular.Row {
	return tabular.Row{
		"patient_id": e.PatientID,
		"start_date": e.StartDate,
		"end_date":   e.EndDate,
		"last_visit": e.LastVisit,
	}
}

func hraFromRow(row tabular.Row) (*HRAStatus, error) {
	score, err := optionalInt(row, "risk_score", 0, 100)
	if err != nil {
		return nil, err
	}
	level, err := optionalInt(row, "risk_level", 1, 5)
	if err != nil {
		return nil, err
	}
	return &HRAStatus{
		PatientID:         row["patient_id"],
		Status:            row["status"],
		CompletionDate:    row["completion_date"],
		RiskScore:         score,
		RiskLevel:         level,
		NextAssessmentDue: row["next_assessment_due"],
	}, nil
}

// Row encodes h for the hra_status table.
func (h *HRAStatus) Row() tabular.Row {
	return tabular.Row{
		"patient_id":          h.PatientID,
		"status":              h.Status,
		"completion_date":     h.CompletionDate,
		"risk_score":          formatInt(h.RiskScore),
		"risk_level":          formatInt(h.RiskLevel),
		"next_assessment_due": h.NextAssessmentDue,
	}
}

func sdohFromRow(row tabular.Row) (*SDOHResource, error) {
	return &SDOHResource{
		ResourceID:   row["resource_id"],
		PatientID:    row["patient_id"],
		ResourceType: row["resource_type"],
		Provider:     row["provider"],
		ReferralDate: row["referral_date"],
		Status:       row["status"],
		Notes:        row["notes"],
	}, nil
}

// Row encodes r for the sdoh_resources table.
func (r *SDOHResource) Row() tabular.Row {
	return tabular.Row{
		"resource_id":   r.ResourceID,
		"patient_id":    r.PatientID,
		"resource_type": r.ResourceType,
		"provider":      r.Provider,
		"referral_date": r.ReferralDate,
		"status":        r.Status,
		"notes":         r.Notes,
	}
}
