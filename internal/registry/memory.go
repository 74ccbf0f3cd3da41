package registry

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process registry. Each instance is independent; nothing
// is shared between instances.
type Memory struct {
	mu            sync.RWMutex
	patients      map[string]*Patient
	patientLinks  map[string]string
	providers     map[string]*Provider
	providerLinks map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		patients:      make(map[string]*Patient),
		patientLinks:  make(map[string]string),
		providers:     make(map[string]*Provider),
		providerLinks: make(map[string]string),
	}
}

// CreatePatient stores p under its global id.
func (m *Memory) CreatePatient(p Patient) error {
	if p.ID == "" {
		return fmt.Errorf("patient id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; ok {
		return fmt.Errorf("patient %s already exists", p.ID)
	}
	m.patients[p.ID] = &p
	return nil
}

// UpdatePatient replaces an existing patient record.
func (m *Memory) UpdatePatient(p Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = &p
	return nil
}

func (m *Memory) DeletePatient(globalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patients, globalID)
	for local, global := range m.patientLinks {
		if global == globalID {
			delete(m.patientLinks, local)
		}
	}
}

// Link maps a source-local patient identifier to a global id.
func (m *Memory) Link(globalID, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[globalID]; !ok {
		return ErrNotFound
	}
	m.patientLinks[localID] = globalID
	return nil
}

func (m *Memory) CreateProvider(p Provider) error {
	if p.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID]; ok {
		return fmt.Errorf("provider %s already exists", p.ID)
	}
	m.providers[p.ID] = &p
	return nil
}

func (m *Memory) UpdateProvider(p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID]; !ok {
		return ErrNotFound
	}
	m.providers[p.ID] = &p
	return nil
}

func (m *Memory) DeleteProvider(globalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, globalID)
	for local, global := range m.providerLinks {
		if global == globalID {
			delete(m.providerLinks, local)
		}
	}
}

// LinkProvider maps a source-local provider identifier, typically the
// sender's phone number, to a global id.
func (m *Memory) LinkProvider(globalID, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[globalID]; !ok {
		return ErrNotFound
	}
	m.providerLinks[localID] = globalID
	return nil
}

// LookupPatient resolves a local identifier. An identifier with no link is
// tried as a global id.
func (m *Memory) LookupPatient(_ context.Context, identifier string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := identifier
	if global, ok := m.patientLinks[identifier]; ok {
		id = global
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) LookupPatientByGlobalID(_ context.Context, globalID string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[globalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) LookupProvider(_ context.Context, identifier string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := identifier
	if global, ok := m.providerLinks[identifier]; ok {
		id = global
	}
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) LookupProviderByGlobalID(_ context.Context, globalID string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[globalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}
