// Package client is an HTTP client for the carenav API. It implements the
// navigator tool backend so the tool server can run against a remote API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/carenav/carenav/internal/domain/record"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Unwrap maps the status back to the record error it was produced from
// where that mapping is unambiguous.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return record.ErrValidation
	case http.StatusConflict:
		if strings.HasPrefix(e.Message, record.ErrDuplicateRecord.Error()) {
			return record.ErrDuplicateRecord
		}
		return record.ErrAmbiguousIdentity
	case http.StatusServiceUnavailable:
		return record.ErrStoreUnavailable
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// New returns a client for the API rooted at baseURL, e.g.
// http://127.0.0.1:8000/api. Only GET requests are retried; an upsert is
// not safe to repeat after an unknown outcome.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: hc, logger: logger}
}

func identityQuery(id record.Identity) map[string]string {
	return map[string]string{
		"first_name": id.FirstName,
		"last_name":  id.LastName,
		"dob":        id.DateOfBirth,
	}
}

// do sends req and decodes a successful body into out.
func (c *Client) do(req *resty.Request, method, path string, out interface{}) error {
	var eb errorBody
	resp, err := req.SetError(&eb).Execute(method, path)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("api request failed")
		return fmt.Errorf("api request %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := eb.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		c.logger.Debug().Int("status", resp.StatusCode()).Str("path", path).Str("error", msg).Msg("api error")
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) FindPatient(ctx context.Context, id record.Identity) (string, error) {
	var out struct {
		PatientID string `json:"patient_id"`
	}
	req := c.http.R().SetContext(ctx).SetQueryParams(identityQuery(id))
	if err := c.do(req, http.MethodGet, "/find_patient", &out); err != nil {
		return "", err
	}
	return out.PatientID, nil
}

// getFirst fetches a per-patient dataset and returns its single row.
func getFirst[T any](ctx context.Context, c *Client, path string, id record.Identity) (*T, error) {
	var rows []*T
	req := c.http.R().SetContext(ctx).SetQueryParams(identityQuery(id))
	if err := c.do(req, http.MethodGet, path, &rows); err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s returned no rows", record.ErrNoRecordForPatient, path)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s returned %d rows", record.ErrDuplicateRecord, path, len(rows))
	}
}

func (c *Client) Demographics(ctx context.Context, id record.Identity) (*record.Demographics, error) {
	return getFirst[record.Demographics](ctx, c, "/demographics", id)
}

func (c *Client) Engagement(ctx context.Context, id record.Identity) (*record.Engagement, error) {
	return getFirst[record.Engagement](ctx, c, "/engagement", id)
}

func (c *Client) HRAStatus(ctx context.Context, id record.Identity) (*record.HRAStatus, error) {
	return getFirst[record.HRAStatus](ctx, c, "/hra_status", id)
}

func (c *Client) Medical(ctx context.Context, id record.Identity) (*record.Medical, error) {
	return getFirst[record.Medical](ctx, c, "/medical_conditions", id)
}

// SDOHResources accepts both the list form and the empty-result object the
// API answers with when the patient has no referrals.
func (c *Client) SDOHResources(ctx context.Context, id record.Identity) ([]*record.SDOHResource, error) {
	var raw json.RawMessage
	req := c.http.R().SetContext(ctx).SetQueryParams(identityQuery(id))
	if err := c.do(req, http.MethodGet, "/sdoh_resources", &raw); err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Resources []*record.SDOHResource `json:"resources"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode sdoh response: %w", err)
		}
		if wrapped.Resources == nil {
			return []*record.SDOHResource{}, nil
		}
		return wrapped.Resources, nil
	}
	out := []*record.SDOHResource{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode sdoh response: %w", err)
	}
	return out, nil
}

func (c *Client) Complete(ctx context.Context, id record.Identity) (*record.CompleteRecord, error) {
	var out record.CompleteRecord
	req := c.http.R().SetContext(ctx).SetQueryParams(identityQuery(id))
	if err := c.do(req, http.MethodGet, "/complete", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpsertResources(ctx context.Context, patientID string, specs []record.ResourceSpec) (*record.UpsertResult, error) {
	body := map[string]interface{}{
		"patient_id": patientID,
		"resources":  specs,
	}
	var out record.UpsertResult
	req := c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(body)
	if err := c.do(req, http.MethodPost, "/sdoh_resources/update", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteResources(ctx context.Context, patientID string) (*record.DeleteResult, error) {
	var out record.DeleteResult
	req := c.http.R().SetContext(ctx).SetPathParam("patient_id", patientID)
	if err := c.do(req, http.MethodDelete, "/sdoh_resources/delete/{patient_id}", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
