package messaging

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/nutrition/nutrition/internal/domain/report"
	"github.com/nutrition/nutrition/internal/growth"
)

// ReportService is the part of report.Service the handlers use.
type ReportService interface {
	Submit(ctx context.Context, sub report.Submission) (*report.Result, error)
	CancelLatest(ctx context.Context, req report.CancelRequest) (*report.Result, error)
}

// ReportHandler creates a report from "<prefix> report <fields>".
type ReportHandler struct {
	svc    ReportService
	prefix string
	mode   report.Mode
	logger zerolog.Logger
}

func NewReportHandler(svc ReportService, prefix string, mode report.Mode, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, prefix: prefix, mode: mode, logger: logger}
}

func (h *ReportHandler) Keyword() string { return "report" }

func (h *ReportHandler) help() string {
	tmpl := reportHelpTagged
	if h.mode == report.ModePositional {
		tmpl = reportHelpPositional
	}
	return helpText(tmpl, h.prefix, h.Keyword())
}

func (h *ReportHandler) Handle(ctx context.Context, msg Message, args string) Reply {
	if args == "" {
		return Reply{Text: h.help()}
	}

	res, err := h.svc.Submit(ctx, report.Submission{Identity: msg.Identity, Text: args})
	if err != nil {
		return Reply{Text: h.errorReply(err, msg)}
	}

	rp := res.Report
	h.logger.Debug().Str("report_id", rp.ID.String()).Str("status", string(rp.Status)).Msg("report created")
	return Reply{Text: render(reportSuccess, map[string]string{
		"reporter":   reporterName(res.Reporter),
		"patient":    patientName(res.Patient),
		"patient_id": rp.PatientID,
		"weight":     formatMeasurement(rp.Weight),
		"height":     formatMeasurement(rp.Height),
		"muac":       formatMeasurement(rp.MUAC),
		"oedema":     formatOedema(rp.Oedema),
	})}
}

func (h *ReportHandler) errorReply(err error, msg Message) string {
	var pe *report.ParseError
	var ve *report.ValidationError
	var im *growth.InvalidMeasurementError

	switch {
	case errors.As(err, &pe):
		h.logger.Debug().Str("identity", msg.Identity).Str("reason", pe.Reason).Msg("report format error")
		return reportFormatError + h.help()
	case errors.As(err, &ve):
		h.logger.Debug().Str("identity", msg.Identity).Str("field", ve.Field).Msg("report form error")
		return render(formError, map[string]string{"message": ve.Message})
	case errors.As(err, &im):
		h.logger.Info().Str("identity", msg.Identity).Str("indicator", im.Indicator.String()).Msg("invalid measurement")
		return render(invalidMeasurement, map[string]string{"message": im.Message})
	default:
		h.logger.Error().Err(err).Str("identity", msg.Identity).Str("text", msg.Text).Msg("report handling failed")
		return genericError
	}
}

// CancelHandler cancels the newest report of a patient.
type CancelHandler struct {
	svc    ReportService
	prefix string
	logger zerolog.Logger
}

func NewCancelHandler(svc ReportService, prefix string, logger zerolog.Logger) *CancelHandler {
	return &CancelHandler{svc: svc, prefix: prefix, logger: logger}
}

func (h *CancelHandler) Keyword() string { return "cancel" }

func (h *CancelHandler) help() string {
	return helpText(cancelHelp, h.prefix, h.Keyword())
}

func (h *CancelHandler) Handle(ctx context.Context, msg Message, args string) Reply {
	if args == "" {
		return Reply{Text: h.help()}
	}
	patientID, err := report.ParseCancel(args)
	if err != nil {
		return Reply{Text: cancelFormatError + h.help()}
	}

	res, err := h.svc.CancelLatest(ctx, report.CancelRequest{Identity: msg.Identity, PatientID: patientID})
	var ve *report.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve):
		h.logger.Debug().Str("identity", msg.Identity).Str("field", ve.Field).Msg("cancel form error")
		return Reply{Text: render(formError, map[string]string{"message": ve.Message})}
	case errors.Is(err, report.ErrNotFound):
		return Reply{Text: render(noReport, map[string]string{"patient_id": patientID})}
	default:
		h.logger.Error().Err(err).Str("identity", msg.Identity).Str("patient_id", patientID).Msg("cancel failed")
		return Reply{Text: genericError}
	}

	h.logger.Debug().Str("report_id", res.Report.ID.String()).Msg("report cancelled")
	return Reply{Text: render(cancelSuccess, map[string]string{
		"reporter":   reporterName(res.Reporter),
		"patient":    patientName(res.Patient),
		"patient_id": patientID,
	})}
}
