// Package memory provides the in-memory directory store used in development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"groupsync/internal/directory"
	"groupsync/pkg/platform/sentinel"
)

// Store implements directory.Store with maps. Safe for concurrent use.
type Store struct {
	mu              sync.RWMutex
	projects        map[string]*directory.Project
	allocations     map[string]*directory.Allocation
	projectUsers    map[string]map[string]*directory.ProjectUser
	allocationUsers map[string]map[string]*directory.AllocationUser
}

func New() *Store {
	return &Store{
		projects:        make(map[string]*directory.Project),
		allocations:     make(map[string]*directory.Allocation),
		projectUsers:    make(map[string]map[string]*directory.ProjectUser),
		allocationUsers: make(map[string]map[string]*directory.AllocationUser),
	}
}

// Seed helpers for tests and dev bootstrap. Each replaces any existing
// record with the same identity.

func (s *Store) SeedProject(p directory.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.projects[p.ID] = &cp
}

func (s *Store) SeedAllocation(a directory.Allocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.allocations[a.ID] = &cp
}

func (s *Store) SeedProjectUser(u directory.ProjectUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectUsers[u.ProjectID] == nil {
		s.projectUsers[u.ProjectID] = make(map[string]*directory.ProjectUser)
	}
	cp := u
	s.projectUsers[u.ProjectID][u.UserID] = &cp
}

func (s *Store) SeedAllocationUser(u directory.AllocationUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocationUsers[u.AllocationID] == nil {
		s.allocationUsers[u.AllocationID] = make(map[string]*directory.AllocationUser)
	}
	cp := u
	s.allocationUsers[u.AllocationID][u.UserID] = &cp
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*directory.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, sentinel.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetAllocation(ctx context.Context, allocationID string) (*directory.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[allocationID]
	if !ok {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, sentinel.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ProjectGroups(ctx context.Context, projectID, attributeName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, sentinel.ErrNotFound)
	}
	return directory.AttributeValues(p.Attributes, attributeName), nil
}

func (s *Store) AllocationGroups(ctx context.Context, allocationID, attributeName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[allocationID]
	if !ok {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, sentinel.ErrNotFound)
	}
	return directory.AttributeValues(a.Attributes, attributeName), nil
}

func (s *Store) ActiveAllocations(ctx context.Context, projectID string) ([]*directory.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*directory.Allocation
	for _, a := range s.allocations {
		if a.ProjectID == projectID && a.Status == directory.AllocationStatusActive {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ProjectUsers(ctx context.Context, projectID, status string) ([]*directory.ProjectUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*directory.ProjectUser
	for _, u := range s.projectUsers[projectID] {
		if status == "" || u.Status == status {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) AllocationUsers(ctx context.Context, allocationID, status string) ([]*directory.AllocationUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*directory.AllocationUser
	for _, u := range s.allocationUsers[allocationID] {
		if status == "" || u.Status == status {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetProjectUser(ctx context.Context, projectID, userID string) (*directory.ProjectUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.projectUsers[projectID][userID]
	if !ok {
		return nil, fmt.Errorf("project user %s/%s: %w", projectID, userID, sentinel.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetAllocationUser(ctx context.Context, allocationID, userID string) (*directory.AllocationUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.allocationUsers[allocationID][userID]
	if !ok {
		return nil, fmt.Errorf("allocation user %s/%s: %w", allocationID, userID, sentinel.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) OtherProjectGroups(ctx context.Context, userID, attributeName, excludeProjectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for projectID, users := range s.projectUsers {
		if projectID == excludeProjectID {
			continue
		}
		u, ok := users[userID]
		if !ok || u.Status != directory.UserStatusActive {
			continue
		}
		p, ok := s.projects[projectID]
		if !ok || p.Status != directory.ProjectStatusActive {
			continue
		}
		for _, g := range directory.AttributeValues(p.Attributes, attributeName) {
			if _, dup := seen[g]; !dup {
				seen[g] = struct{}{}
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (s *Store) OtherAllocationGroups(ctx context.Context, userID, attributeName, excludeAllocationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for allocationID, users := range s.allocationUsers {
		if allocationID == excludeAllocationID {
			continue
		}
		u, ok := users[userID]
		if !ok || u.Status != directory.UserStatusActive {
			continue
		}
		a, ok := s.allocations[allocationID]
		if !ok || a.Status != directory.AllocationStatusActive {
			continue
		}
		for _, g := range directory.AttributeValues(a.Attributes, attributeName) {
			if _, dup := seen[g]; !dup {
				seen[g] = struct{}{}
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (s *Store) SetProjectUserStatus(ctx context.Context, projectID, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.projectUsers[projectID][userID]
	if !ok {
		return fmt.Errorf("project user %s/%s: %w", projectID, userID, sentinel.ErrNotFound)
	}
	u.Status = status
	return nil
}

func (s *Store) SetAllocationUserStatus(ctx context.Context, allocationID, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.allocationUsers[allocationID][userID]
	if !ok {
		return fmt.Errorf("allocation user %s/%s: %w", allocationID, userID, sentinel.ErrNotFound)
	}
	u.Status = status
	return nil
}

func (s *Store) ProjectsWithGroups(ctx context.Context, attributeName string) ([]*directory.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*directory.Project
	for _, p := range s.projects {
		if p.Status != directory.ProjectStatusActive {
			continue
		}
		if len(directory.AttributeValues(p.Attributes, attributeName)) == 0 {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) AllocationsWithGroups(ctx context.Context, attributeName string) ([]*directory.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*directory.Allocation
	for _, a := range s.allocations {
		if a.Status != directory.AllocationStatusActive {
			continue
		}
		if len(directory.AttributeValues(a.Attributes, attributeName)) == 0 {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}
