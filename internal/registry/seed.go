package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML layout used to preload a Memory registry.
type Seed struct {
	Patients  []SeedPatient  `yaml:"patients"`
	Providers []SeedProvider `yaml:"providers"`
}

type SeedPatient struct {
	Patient   `yaml:",inline"`
	BirthDate string   `yaml:"birth_date"`
	Aliases   []string `yaml:"aliases"`
}

type SeedProvider struct {
	Provider `yaml:",inline"`
	Aliases  []string `yaml:"aliases"`
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse registry seed %s: %w", path, err)
	}
	return &seed, nil
}

// Apply loads every record and alias in the seed.
func (m *Memory) Apply(seed *Seed) error {
	for _, sp := range seed.Patients {
		p := sp.Patient
		bd, err := parseDate(sp.BirthDate)
		if err != nil {
			return fmt.Errorf("patient %s: birth_date: %w", p.ID, err)
		}
		p.BirthDate = bd
		if err := m.CreatePatient(p); err != nil {
			return err
		}
		for _, alias := range sp.Aliases {
			if err := m.Link(p.ID, alias); err != nil {
				return fmt.Errorf("patient %s: link %s: %w", p.ID, alias, err)
			}
		}
	}
	for _, sp := range seed.Providers {
		if err := m.CreateProvider(sp.Provider); err != nil {
			return err
		}
		for _, alias := range sp.Aliases {
			if err := m.LinkProvider(sp.ID, alias); err != nil {
				return fmt.Errorf("provider %s: link %s: %w", sp.ID, alias, err)
			}
		}
	}
	return nil
}

// NewMemoryFromFile builds a Memory registry from a seed file.
func NewMemoryFromFile(path string) (*Memory, error) {
	seed, err := LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	m := NewMemory()
	if err := m.Apply(seed); err != nil {
		return nil, err
	}
	return m, nil
}
