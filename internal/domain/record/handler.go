package record

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carenav/carenav/internal/platform/export"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/find_patient", h.FindPatient)
	api.GET("/demographics", h.GetDemographics)
	api.GET("/medical_conditions", h.GetMedical)
	api.GET("/engagement", h.GetEngagement)
	api.GET("/hra_status", h.GetHRAStatus)
	api.GET("/sdoh_resources", h.GetSDOHResources)
	api.GET("/complete", h.GetComplete)
	api.GET("/export/:dataset", h.Export)

	api.POST("/sdoh_resources/update", h.UpdateSDOHResources)
	api.DELETE("/sdoh_resources/delete/:patient_id", h.DeleteSDOHResources)
}

// HealthHandler reports which datasets have a backing table. It answers 503
// while any of them is missing.
func (h *Handler) HealthHandler(c echo.Context) error {
	avail, err := h.svc.Available(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	tables := make(map[string]string, len(avail))
	status, code := "healthy", http.StatusOK
	for d, ok := range avail {
		if ok {
			tables[string(d)] = "present"
			continue
		}
		tables[string(d)] = "missing"
		status, code = "degraded", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]interface{}{
		"status": status,
		"tables": tables,
	})
}

// -- Lookups --

func (h *Handler) FindPatient(c echo.Context) error {
	id := identityFromQuery(c)
	if !id.Complete() {
		return errorJSON(c, http.StatusBadRequest, "All parameters (first_name, last_name, dob) are required")
	}
	pid, err := h.svc.Resolve(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"patient_id": pid})
}

func (h *Handler) GetDemographics(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	rows, err := h.svc.Demographics(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetMedical(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	rows, err := h.svc.Medical(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetEngagement(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	rows, err := h.svc.Engagement(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetHRAStatus(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	rows, err := h.svc.HRAStatus(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetSDOHResources(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	rows, err := h.svc.SDOHResources(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	if len(rows) == 0 && !f.All() {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"resources": rows,
			"message":   "No SDOH resources found for " + f.describe(),
		})
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetComplete(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := h.svc.Aggregate(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Export(c echo.Context) error {
	d, err := ParseDataset(c.Param("dataset"))
	if err != nil {
		return h.fail(c, err)
	}
	t, err := h.svc.Export(c.Request().Context(), d)
	if err != nil {
		return h.fail(c, err)
	}
	// Render before committing the status so a failed workbook is still a 500.
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, string(d), t); err != nil {
		h.logger.Error().Err(err).Str("dataset", string(d)).Msg("xlsx export failed")
		return errorJSON(c, http.StatusInternalServerError, "internal server error")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", string(d)+".xlsx"))
	return c.Blob(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
}

// -- Mutations --

type updateRequest struct {
	PatientID string         `json:"patient_id"`
	Resources []ResourceSpec `json:"resources"`
}

func (h *Handler) UpdateSDOHResources(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.UpsertResources(c.Request().Context(), req.PatientID, req.Resources)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteSDOHResources(c echo.Context) error {
	res, err := h.svc.DeleteResources(c.Request().Context(), c.Param("patient_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Helpers --

func identityFromQuery(c echo.Context) Identity {
	return Identity{
		FirstName:   c.QueryParam("first_name"),
		LastName:    c.QueryParam("last_name"),
		DateOfBirth: c.QueryParam("dob"),
	}
}

// filterFromQuery reads patient_id or the identity triple. A partial triple
// is rejected rather than treated as a bulk request.
func filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{
		PatientID: c.QueryParam("patient_id"),
		Identity:  identityFromQuery(c),
	}
	if f.PatientID == "" && !f.Identity.IsZero() && !f.Identity.Complete() {
		return Filter{}, fmt.Errorf("%w: first_name, last_name and dob must be given together", ErrValidation)
	}
	return f, nil
}

func (f Filter) describe() string {
	if f.PatientID != "" {
		return f.PatientID
	}
	return f.Identity.FirstName + " " + f.Identity.LastName
}

// StatusCode maps a service error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrNoRecordForPatient),
		errors.Is(err, ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAmbiguousIdentity),
		errors.Is(err, ErrDuplicateRecord):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	code := StatusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		if !errors.Is(err, ErrPersistence) {
			msg = "internal server error"
		}
	}
	return errorJSON(c, code, msg)
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
