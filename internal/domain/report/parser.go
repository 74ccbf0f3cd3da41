package report

import (
	"fmt"
	"strings"
)

// Canonical field names.
const (
	FieldPatientID = "patient_id"
	FieldWeight    = "weight"
	FieldHeight    = "height"
	FieldMUAC      = "muac"
	FieldOedema    = "oedema"
)

// PositionalFields is the token order of a positional report.
var PositionalFields = []string{FieldPatientID, FieldWeight, FieldHeight, FieldMUAC, FieldOedema}

var tagAliases = map[string]string{
	"h": FieldHeight, "ht": FieldHeight, "height": FieldHeight,
	"w": FieldWeight, "wt": FieldWeight, "weight": FieldWeight,
	"m": FieldMUAC, "muac": FieldMUAC,
	"o": FieldOedema, "oedema": FieldOedema,
}

// Mode selects the report grammar.
type Mode string

const (
	ModeTagged     Mode = "tagged"
	ModePositional Mode = "positional"
)

// ParseError means the message could not be split into fields.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "format error: " + e.Reason
}

// Parser splits report text into raw field tokens. It does not interpret
// the tokens.
type Parser struct {
	Mode Mode
}

func NewParser(mode Mode) *Parser {
	if mode == "" {
		mode = ModeTagged
	}
	return &Parser{Mode: mode}
}

// Parse returns canonical field name to raw token.
func (p *Parser) Parse(text string) (map[string]string, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, &ParseError{Reason: "missing patient identifier"}
	}
	if p.Mode == ModePositional {
		return parsePositional(tokens)
	}
	return parseTagged(tokens)
}

func parsePositional(tokens []string) (map[string]string, error) {
	if len(tokens) != len(PositionalFields) {
		return nil, &ParseError{Reason: fmt.Sprintf("expected %d values, got %d", len(PositionalFields), len(tokens))}
	}
	fields := make(map[string]string, len(tokens))
	for i, name := range PositionalFields {
		fields[name] = tokens[i]
	}
	return fields, nil
}

func parseTagged(tokens []string) (map[string]string, error) {
	rest := tokens[1:]
	if len(rest)%2 != 0 {
		return nil, &ParseError{Reason: fmt.Sprintf("value missing for %q", rest[len(rest)-1])}
	}
	fields := map[string]string{FieldPatientID: tokens[0]}
	for i := 0; i < len(rest); i += 2 {
		name, ok := tagAliases[strings.ToLower(rest[i])]
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("unknown tag %q", rest[i])}
		}
		if _, dup := fields[name]; dup {
			return nil, &ParseError{Reason: fmt.Sprintf("duplicate tag %q", rest[i])}
		}
		fields[name] = rest[i+1]
	}
	return fields, nil
}

// ParseCancel extracts the single patient identifier of a cancel command.
func ParseCancel(text string) (string, error) {
	tokens := strings.Fields(text)
	if len(tokens) != 1 {
		return "", &ParseError{Reason: fmt.Sprintf("expected 1 value, got %d", len(tokens))}
	}
	return tokens[0], nil
}
