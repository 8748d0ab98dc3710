package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"havenhomes/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	builds   map[string]domain.Build
	packs    map[string]map[domain.ContractPack]packState
	settings domain.Settings
}

type packState struct {
	status     domain.PackStatus
	sessionURL string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		builds:   make(map[string]domain.Build),
		packs:    make(map[string]map[domain.ContractPack]packState),
		settings: domain.DefaultSettings(),
	}
}

func (s *MemoryStore) SaveBuild(b domain.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds[b.ID] = b
	return nil
}

func (s *MemoryStore) GetBuild(id string) (domain.Build, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.builds[id]
	return b, ok, nil
}

func (s *MemoryStore) ListBuildsByOwner(ownerID string) ([]domain.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Build, 0)
	for _, b := range s.builds {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sortBuilds(out)
	return out, nil
}

func (s *MemoryStore) ListBuilds() ([]domain.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Build, 0, len(s.builds))
	for _, b := range s.builds {
		out = append(out, b)
	}
	sortBuilds(out)
	return out, nil
}

func (s *MemoryStore) DeleteBuild(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.builds, id)
	delete(s.packs, id)
	return nil
}

func (s *MemoryStore) SetStep(id string, step domain.CheckoutStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[id]
	if !ok {
		return fmt.Errorf("build %s not found", id)
	}
	b.Step = step
	b.UpdatedAt = time.Now().UTC()
	s.builds[id] = b
	return nil
}

func (s *MemoryStore) SetPayment(id string, p domain.PaymentInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[id]
	if !ok {
		return fmt.Errorf("build %s not found", id)
	}
	b.Payment = p
	b.UpdatedAt = time.Now().UTC()
	s.builds[id] = b
	return nil
}

func (s *MemoryStore) SavePackState(buildID string, pack domain.ContractPack, status domain.PackStatus, sessionURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.packs[buildID] == nil {
		s.packs[buildID] = make(map[domain.ContractPack]packState)
	}
	s.packs[buildID][pack] = packState{status: status, sessionURL: sessionURL}
	return nil
}

func (s *MemoryStore) GetPackStates(buildID string) (map[domain.ContractPack]domain.PackStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.ContractPack]domain.PackStatus, len(s.packs[buildID]))
	for pack, state := range s.packs[buildID] {
		out[pack] = state.status
	}
	return out, nil
}

func (s *MemoryStore) GetSettings() (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *MemoryStore) SaveSettings(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = time.Now().UTC()
	s.settings = settings
	return nil
}

func sortBuilds(builds []domain.Build) {
	sort.Slice(builds, func(i, j int) bool {
		return builds[i].CreatedAt.After(builds[j].CreatedAt)
	})
}
