package report

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nutrition/nutrition/internal/platform/auth"
	"github.com/nutrition/nutrition/pkg/pagination"
)

// Handler serves the report query and maintenance API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "nutrition_viewer"))
	read.GET("/reports", h.ListReports)
	read.GET("/reports/export.csv", h.ExportCSV)
	read.GET("/reports/export.xlsx", h.ExportXLSX)
	read.GET("/reports/:id", h.GetReport)

	write := api.Group("", auth.RequireRole("admin", "nutrition_editor"))
	write.POST("/reports/:id/analyze", h.AnalyzeReport)
	write.POST("/reports/:id/cancel", h.CancelReport)
}

// AnalyzeResponse is returned by the analyze endpoint. Error is set when
// the report was stored in a degraded status.
type AnalyzeResponse struct {
	Report *Report `json:"report"`
	Error  string  `json:"error,omitempty"`
}

func (h *Handler) ListReports(c echo.Context) error {
	f, err := filterFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if items == nil {
		items = []*Report{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rp, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) AnalyzeReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rp, err := h.svc.Analyze(c.Request().Context(), id)
	if rp == nil || errors.Is(err, ErrCancelled) {
		return mapError(err)
	}
	resp := AnalyzeResponse{Report: rp}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) CancelReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rp, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) ExportCSV(c echo.Context) error {
	rows, err := h.exportRows(c)
	if err != nil {
		return err
	}
	setAttachment(c, "text/csv", "nutrition_reports.csv")
	c.Response().WriteHeader(http.StatusOK)
	return WriteCSV(c.Response(), rows)
}

func (h *Handler) ExportXLSX(c echo.Context) error {
	rows, err := h.exportRows(c)
	if err != nil {
		return err
	}
	setAttachment(c, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "nutrition_reports.xlsx")
	c.Response().WriteHeader(http.StatusOK)
	return WriteXLSX(c.Response(), rows)
}

func (h *Handler) exportRows(c echo.Context) ([][]string, error) {
	f, err := filterFromContext(c)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rows, err := h.svc.ExportRows(c.Request().Context(), f)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return rows, nil
}

func setAttachment(c echo.Context, contentType, filename string) {
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", filename))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, ErrCancelled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func filterFromContext(c echo.Context) (Filter, error) {
	f := Filter{
		PatientID:  c.QueryParam("patient_id"),
		ReporterID: c.QueryParam("reporter_id"),
		OrderBy:    c.QueryParam("order"),
	}
	if s := c.QueryParam("status"); s != "" {
		st, ok := ParseStatus(s)
		if !ok {
			return f, fmt.Errorf("invalid status: %s", s)
		}
		f.Status = st
	}
	var err error
	if f.CreatedFrom, err = parseDateParam(c.QueryParam("created_from")); err != nil {
		return f, fmt.Errorf("invalid created_from: %w", err)
	}
	if f.CreatedTo, err = parseDateParam(c.QueryParam("created_to")); err != nil {
		return f, fmt.Errorf("invalid created_to: %w", err)
	}
	if _, err := OrderClause(f.OrderBy); err != nil {
		return f, err
	}
	return f, nil
}

// parseDateParam accepts a calendar date or an RFC 3339 timestamp.
func parseDateParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
