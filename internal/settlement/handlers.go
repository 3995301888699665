package settlement

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketplace-settlements/internal/auth"
	"github.com/ksred/marketplace-settlements/pkg/middleware"
	"github.com/ksred/marketplace-settlements/pkg/response"
	"github.com/shopspring/decimal"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// respond maps settlement errors onto the response envelope.
func respond(c *gin.Context, data interface{}, err error) {
	switch {
	case err == nil:
		response.Success(c, data)
	case errors.Is(err, ErrInvalidPeriodLabel),
		errors.Is(err, ErrInvalidPeriod),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrUnsupportedFormat):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrInvalidSettings):
		response.ValidationFailed(c, err.Error())
	case errors.Is(err, ErrPartnerNotFound), errors.Is(err, ErrRunNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrRunInProgress):
		response.StateConflict(c, err.Error())
	case errors.Is(err, ErrForbiddenPartner):
		response.Forbidden(c, err.Error())
	default:
		response.Handle(c, data, err)
	}
}

// authorizePartner lets platform admins see every partner and partner admins
// only their own.
func authorizePartner(c *gin.Context, partnerID string) error {
	switch c.GetString(middleware.RoleKey) {
	case auth.RolePlatformAdmin:
		return nil
	case auth.RolePartnerAdmin:
		if c.GetString(middleware.PartnerIDKey) == partnerID {
			return nil
		}
	}
	return ErrForbiddenPartner
}

// periodLabel reads ?period= and defaults to the previous month.
func (h *GinHandlers) periodLabel(c *gin.Context) string {
	if label := c.Query("period"); label != "" {
		return label
	}
	return PreviousPeriod(h.service.now().In(h.service.calc.cfg.Location)).String()
}

// monthYear reads ?month=&year= and defaults to the previous month.
func (h *GinHandlers) monthYear(c *gin.Context) (int, int, error) {
	fallback := PreviousPeriod(h.service.now().In(h.service.calc.cfg.Location))
	month, year := int(fallback.Month), fallback.Year

	if raw := c.Query("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, ErrInvalidPeriod
		}
		month = m
	}
	if raw := c.Query("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, ErrInvalidPeriod
		}
		year = y
	}
	return month, year, nil
}

func (h *GinHandlers) QuoteFeeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		amount, err := decimal.NewFromString(c.Query("amount"))
		if err != nil {
			response.BadRequest(c, "amount must be a decimal number")
			return
		}

		quote, err := h.service.QuoteFee(amount)
		respond(c, quote, err)
	}
}

func (h *GinHandlers) PartnerSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		partnerID := c.Param("partner_id")
		if err := authorizePartner(c, partnerID); err != nil {
			respond(c, nil, err)
			return
		}

		calc, err := h.service.PartnerSettlement(c.Request.Context(), partnerID, h.periodLabel(c))
		respond(c, calc, err)
	}
}

func (h *GinHandlers) PartnerReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		partnerID := c.Param("partner_id")
		if err := authorizePartner(c, partnerID); err != nil {
			respond(c, nil, err)
			return
		}

		report, err := h.service.PartnerReport(c.Request.Context(), partnerID, h.periodLabel(c))
		respond(c, report, err)
	}
}

func (h *GinHandlers) MonthlySettlementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		month, year, err := h.monthYear(c)
		if err != nil {
			respond(c, nil, err)
			return
		}

		summary, err := h.service.MonthlySettlements(c.Request.Context(), month, year)
		respond(c, summary, err)
	}
}

func (h *GinHandlers) ExportMonthlyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		format, err := ParseExportFormat(c.Query("format"))
		if err != nil {
			respond(c, nil, err)
			return
		}
		month, year, err := h.monthYear(c)
		if err != nil {
			respond(c, nil, err)
			return
		}

		summary, err := h.service.MonthlySettlements(c.Request.Context(), month, year)
		if err != nil {
			respond(c, nil, err)
			return
		}

		var buf bytes.Buffer
		switch format {
		case ExportXLSX:
			err = ExportMonthlyXLSX(&buf, summary)
		default:
			err = ExportMonthlyCSV(&buf, summary)
		}
		if err != nil {
			respond(c, nil, err)
			return
		}

		c.Header("Content-Disposition", `attachment; filename="`+format.Filename(summary)+`"`)
		c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
	}
}

func (h *GinHandlers) ListRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := h.service.Runs(c.Request.Context(), limit)
		respond(c, runs, err)
	}
}

func (h *GinHandlers) GetRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := h.service.Run(c.Request.Context(), c.Param("run_id"))
		respond(c, run, err)
	}
}

func (h *GinHandlers) GetAutomationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := h.service.Status(c.Request.Context())
		respond(c, status, err)
	}
}

func (h *GinHandlers) UpdateAutomationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Fields missing from the body keep their current values.
		settings := h.service.Settings()
		if err := c.ShouldBindJSON(&settings); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.UpdateSettings(settings); err != nil {
			respond(c, nil, err)
			return
		}
		respond(c, h.service.Settings(), nil)
	}
}

// RunNowHandler triggers the monthly batch for the previous month. The run
// outlives a dropped client connection.
func (h *GinHandlers) RunNowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithoutCancel(c.Request.Context())
		run, err := h.service.RunBatch(ctx, h.service.now(), TriggerManual, c.GetHeader(IdempotencyKeyHeader))
		if err == nil && run.Replayed {
			response.OK(c, run)
			return
		}
		respond(c, run, err)
	}
}
