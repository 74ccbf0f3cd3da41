// Package registry resolves patients and health workers against the
// external demographic registry.
package registry

import (
	"context"
	"errors"
	"time"
)

// StatusActive is the only status that authorizes reporting.
const StatusActive = "A"

// ErrNotFound is returned when no record matches an identifier.
var ErrNotFound = errors.New("registry: not found")

// Patient is a read-only snapshot of a registry patient.
type Patient struct {
	ID        string     `json:"id" yaml:"id"`
	Status    string     `json:"status" yaml:"status"`
	BirthDate *time.Time `json:"birth_date,omitempty" yaml:"-"`
	Sex       string     `json:"sex,omitempty" yaml:"sex"`
	Name      string     `json:"name,omitempty" yaml:"name"`
}

func (p *Patient) IsActive() bool {
	return p != nil && p.Status == StatusActive
}

// Provider is a read-only snapshot of a registered health worker.
type Provider struct {
	ID     string `json:"id" yaml:"id"`
	Status string `json:"status" yaml:"status"`
	Name   string `json:"name,omitempty" yaml:"name"`
}

func (p *Provider) IsActive() bool {
	return p != nil && p.Status == StatusActive
}

// Gateway is the lookup surface the reporting workflow depends on. Lookups
// by identifier use the source-local id; the returned record carries the
// registry-wide id.
type Gateway interface {
	LookupPatient(ctx context.Context, identifier string) (*Patient, error)
	LookupPatientByGlobalID(ctx context.Context, globalID string) (*Patient, error)
	LookupProvider(ctx context.Context, identifier string) (*Provider, error)
	LookupProviderByGlobalID(ctx context.Context, globalID string) (*Provider, error)
}

const dateLayout = "2006-01-02"

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
