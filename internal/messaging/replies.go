package messaging

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nutrition/nutrition/internal/registry"
)

const (
	unknownValue      = "unknown"
	anonymousReporter = "anonymous"

	reportHelpTagged     = "To create a nutrition report, send: {prefix} {keyword} <patient_id> W <weight in kg> H <height in cm> M <muac in cm> O <oedema Y/N>. Send X for an unknown value."
	reportHelpPositional = "To create a nutrition report, send: {prefix} {keyword} <patient_id> <weight in kg> <height in cm> <muac in cm> <oedema Y/N>. Send X for an unknown value."
	reportSuccess        = "Thanks {reporter}. Nutrition update for {patient} ({patient_id}): weight {weight} kg, height {height} cm, muac {muac} cm, oedema {oedema}."
	reportFormatError    = "Sorry, the system could not understand your report. "
	formError            = "Sorry, an error occurred while processing your message: {message}"
	invalidMeasurement   = "Sorry, one of your measurements is invalid: {message}"
	genericError         = "Sorry, an unexpected error occurred while processing your message. Please contact your system administrator if this continues to occur."

	cancelHelp        = "To cancel the most recent nutrition report, send: {prefix} {keyword} <patient_id>"
	cancelSuccess     = "Thanks {reporter}. The most recent nutrition report for {patient} ({patient_id}) has been cancelled."
	cancelFormatError = "Sorry, the system could not understand whose report you would like to cancel. "
	noReport          = "Sorry, {patient_id} does not have any reports in the system."
)

// render substitutes {name} placeholders.
func render(tmpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func helpText(tmpl, prefix, keyword string) string {
	return strings.TrimSpace(strings.ReplaceAll(render(tmpl, map[string]string{
		"prefix":  strings.ToUpper(prefix),
		"keyword": strings.ToUpper(keyword),
	}), "  ", " "))
}

// reporterName is the registered name, else the registry id. Unregistered
// senders are anonymous.
func reporterName(p *registry.Provider) string {
	switch {
	case p == nil:
		return anonymousReporter
	case p.Name != "":
		return p.Name
	default:
		return p.ID
	}
}

func patientName(p *registry.Patient) string {
	if p == nil || p.Name == "" {
		return unknownValue
	}
	return p.Name
}

func formatMeasurement(d *decimal.Decimal) string {
	if d == nil {
		return unknownValue
	}
	return d.String()
}

func formatOedema(b *bool) string {
	switch {
	case b == nil:
		return unknownValue
	case *b:
		return "Y"
	default:
		return "N"
	}
}
