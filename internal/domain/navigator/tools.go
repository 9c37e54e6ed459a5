// Package navigator exposes the patient record operations as tools for a
// care-navigator agent. Every tool identifies the patient by first name,
// last name and date of birth and delegates to a Backend.
package navigator

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/carenav/carenav/internal/domain/record"
	"github.com/carenav/carenav/internal/platform/mcp"
)

const (
	ServerName    = "CARE_NAVIGATOR"
	ServerVersion = "1.0.0"

	defaultTimePeriod = "30days"
)

// Backend is the record surface the tools call. It is implemented in
// process by Local and over HTTP by client.Client.
type Backend interface {
	FindPatient(ctx context.Context, id record.Identity) (string, error)
	Demographics(ctx context.Context, id record.Identity) (*record.Demographics, error)
	Engagement(ctx context.Context, id record.Identity) (*record.Engagement, error)
	HRAStatus(ctx context.Context, id record.Identity) (*record.HRAStatus, error)
	Medical(ctx context.Context, id record.Identity) (*record.Medical, error)
	SDOHResources(ctx context.Context, id record.Identity) ([]*record.SDOHResource, error)
	Complete(ctx context.Context, id record.Identity) (*record.CompleteRecord, error)
	UpsertResources(ctx context.Context, patientID string, specs []record.ResourceSpec) (*record.UpsertResult, error)
	DeleteResources(ctx context.Context, patientID string) (*record.DeleteResult, error)
}

type identityArgs struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DOB       string `json:"dob"`
}

func (a identityArgs) identity() record.Identity {
	return record.Identity{FirstName: a.FirstName, LastName: a.LastName, DateOfBirth: a.DOB}
}

func (a identityArgs) label() string {
	return fmt.Sprintf("%s %s (DOB: %s)", a.FirstName, a.LastName, a.DOB)
}

type engagementArgs struct {
	identityArgs
	TimePeriod string `json:"time_period"`
}

type updateArgs struct {
	identityArgs
	Resources []record.ResourceSpec `json:"resources"`
}

// EngagementMetrics is an engagement row tagged with the requested window.
type EngagementMetrics struct {
	*record.Engagement
	TimePeriod string `json:"time_period"`
}

// SDOHList wraps the referrals returned by get_patient_sdoh_resources.
type SDOHList struct {
	Resources []*record.SDOHResource `json:"resources"`
	Count     int                    `json:"count"`
	Message   string                 `json:"message,omitempty"`
}

// UpdateResult is an upsert result labelled with the patient it touched.
type UpdateResult struct {
	*record.UpsertResult
	Patient string `json:"patient"`
}

// DeleteResult is a delete result labelled with the patient it touched.
type DeleteResult struct {
	*record.DeleteResult
	Patient string `json:"patient"`
}

// Register installs every navigator tool on srv.
func Register(srv *mcp.Server, b Backend) {
	identityTool := func(fn func(context.Context, identityArgs) (interface{}, error)) mcp.HandlerFunc {
		return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var a identityArgs
			if err := mcp.DecodeArgs(raw, &a); err != nil {
				return nil, err
			}
			return fn(ctx, a)
		}
	}

	srv.Register(tool("find_patient", "Find a patient's id from their name and date of birth"),
		identityTool(func(ctx context.Context, a identityArgs) (interface{}, error) {
			pid, err := b.FindPatient(ctx, a.identity())
			if err != nil {
				return nil, err
			}
			return map[string]string{"patient_id": pid}, nil
		}))

	srv.Register(tool("get_patient_demographics",
		"Retrieve basic demographic information for a patient: age, email, phone, address and insurance"),
		identityTool(func(ctx context.Context, a identityArgs) (interface{}, error) {
			return b.Demographics(ctx, a.identity())
		}))

	srv.Register(tool("get_patient_engagement_metrics",
		"Get engagement status for a patient over a specified time period",
		gomcp.WithString("time_period", gomcp.Description("Reporting window, default 30days"))),
		func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var a engagementArgs
			if err := mcp.DecodeArgs(raw, &a); err != nil {
				return nil, err
			}
			if a.TimePeriod == "" {
				a.TimePeriod = defaultTimePeriod
			}
			e, err := b.Engagement(ctx, a.identity())
			if err != nil {
				return nil, err
			}
			return EngagementMetrics{Engagement: e, TimePeriod: a.TimePeriod}, nil
		})

	srv.Register(tool("get_patient_hra_status", "Get a patient's Health Risk Assessment status"),
		identityTool(func(ctx context.Context, a identityArgs) (interface{}, error) {
			return b.HRAStatus(ctx, a.identity())
		}))

	srv.Register(tool("get_patient_medical_conditions", "Get a patient's medical conditions, allergies and medications"),
		identityTool(func(ctx context.Context, a identityArgs) (interface{}, error) {
			return b.Medical(ctx, a.identity())
		}))

	srv.Register(tool("get_patient_sdoh_resources", "Get Social Determinants of Health resources for a patient"),
		identityTool(func(ctx context.Context, a identityArgs) (interface{}, error) {
			res, err := b.SDOHResources(ctx, a.identity())
			if err != nil {
				return nil, err
			}
			out := SDOHList{Resources: res, Count: len(res)}
			if len(res) == 0 {
				out.Resources = []*record.SDOHResource{}
				out.Message = fmt.Sprintf("No SDOH resources found for %s %s", a.FirstName, a.LastName)
			}
			return out, nil
		}))

	srv.Register(tool("get_complete_patient_data",
		"Get complete patient data including demographics, medical, engagement, HRA status and SDOH resources. "+
			"A field whose stored row is malformed or duplicated is null and explained under errors"),
		identityTool(func(ctx context.Context, a identityArgs) (interface{}, error) {
			return b.Complete(ctx, a.identity())
		}))

	srv.Register(tool("update_sdoh_resources",
		"Update or add SDOH resources for a patient. Entries with resource_id update that referral; "+
			"entries without it create one and need resource_type, provider and status",
		gomcp.WithArray("resources",
			gomcp.Required(),
			gomcp.Description("Resources to update or add"),
			gomcp.Items(resourceSchema),
		)),
		func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var a updateArgs
			if err := mcp.DecodeArgs(raw, &a); err != nil {
				return nil, err
			}
			pid, err := b.FindPatient(ctx, a.identity())
			if err != nil {
				return nil, err
			}
			res, err := b.UpsertResources(ctx, pid, a.Resources)
			if err != nil {
				return nil, err
			}
			return UpdateResult{UpsertResult: res, Patient: a.label()}, nil
		})

	srv.Register(tool("delete_patient_sdoh_resources", "Delete all SDOH resources for a specific patient"),
		identityTool(func(ctx context.Context, a identityArgs) (interface{}, error) {
			pid, err := b.FindPatient(ctx, a.identity())
			if err != nil {
				return nil, err
			}
			res, err := b.DeleteResources(ctx, pid)
			if err != nil {
				return nil, err
			}
			return DeleteResult{DeleteResult: res, Patient: a.label()}, nil
		}))
}

var resourceSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"resource_id":   map[string]interface{}{"type": "string", "description": "Existing resource to update"},
		"resource_type": map[string]interface{}{"type": "string", "description": "Type of resource, e.g. Food or Housing"},
		"provider":      map[string]interface{}{"type": "string", "description": "Name of service provider"},
		"status":        map[string]interface{}{"type": "string", "enum": []string{"Referred", "Engaged", "Completed", "Declined", "Not Eligible"}},
		"referral_date": map[string]interface{}{"type": "string", "description": "YYYY-MM-DD, defaults to today"},
		"notes":         map[string]interface{}{"type": "string"},
	},
}

// tool builds a definition whose schema always requires the identity
// triple, followed by any extra properties.
func tool(name, description string, extra ...gomcp.ToolOption) gomcp.Tool {
	opts := []gomcp.ToolOption{
		gomcp.WithDescription(description),
		gomcp.WithString("first_name", gomcp.Required(), gomcp.Description("Patient's first name")),
		gomcp.WithString("last_name", gomcp.Required(), gomcp.Description("Patient's last name")),
		gomcp.WithString("dob", gomcp.Required(), gomcp.Description("Date of birth, YYYY-MM-DD")),
	}
	return gomcp.NewTool(name, append(opts, extra...)...)
}
