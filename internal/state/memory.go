package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discode/discode/internal/common/errors"
)

// MemoryStore implements Store with in-memory maps. It is the default store
// for a single bridge process with config-file provisioning.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]*Project  // by name
	instances map[string]*Instance // by id
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*Project),
		instances: make(map[string]*Instance),
	}
}

// CreateProject adds a project, rejecting duplicates by name.
func (s *MemoryStore) CreateProject(ctx context.Context, project *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[project.Name]; exists {
		return errors.BadRequest("project already exists: " + project.Name)
	}

	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	copied := *project
	s.projects[project.Name] = &copied
	return nil
}

// GetProject retrieves a project by name.
func (s *MemoryStore) GetProject(ctx context.Context, name string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[name]
	if !ok {
		return nil, errors.ProjectNotFound(name)
	}
	copied := *project
	return &copied, nil
}

// ListProjects returns all projects.
func (s *MemoryStore) ListProjects(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Project, 0, len(s.projects))
	for _, project := range s.projects {
		copied := *project
		result = append(result, &copied)
	}
	return result, nil
}

// DeleteProject removes a project and its instances.
func (s *MemoryStore) DeleteProject(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[name]; !ok {
		return errors.ProjectNotFound(name)
	}
	delete(s.projects, name)
	for id, instance := range s.instances {
		if instance.ProjectName == name {
			delete(s.instances, id)
		}
	}
	return nil
}

// TouchProject records user activity on a project.
func (s *MemoryStore) TouchProject(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[name]
	if !ok {
		return errors.ProjectNotFound(name)
	}
	project.LastActive = at
	project.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateInstance adds an instance under an existing project.
func (s *MemoryStore) CreateInstance(ctx context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[instance.ProjectName]; !ok {
		return errors.ProjectNotFound(instance.ProjectName)
	}
	if instance.ID == "" {
		instance.ID = uuid.New().String()
	}
	if _, exists := s.instances[instance.ID]; exists {
		return errors.BadRequest("instance already exists: " + instance.ID)
	}

	now := time.Now().UTC()
	instance.CreatedAt = now
	instance.UpdatedAt = now
	copied := *instance
	s.instances[instance.ID] = &copied
	return nil
}

// GetInstance resolves an instance within a project by id, falling back to
// agent type. Hook envelopes identify instances either way.
func (s *MemoryStore) GetInstance(ctx context.Context, projectName, key string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if instance, ok := s.instances[key]; ok && instance.ProjectName == projectName {
		copied := *instance
		return &copied, nil
	}
	for _, instance := range s.instances {
		if instance.ProjectName == projectName && instance.AgentType == key {
			copied := *instance
			return &copied, nil
		}
	}
	return nil, errors.NotFound("instance", key)
}

// ListInstances returns all instances under a project.
func (s *MemoryStore) ListInstances(ctx context.Context, projectName string) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Instance
	for _, instance := range s.instances {
		if instance.ProjectName == projectName {
			copied := *instance
			result = append(result, &copied)
		}
	}
	return result, nil
}

// DeleteInstance removes an instance by id.
func (s *MemoryStore) DeleteInstance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[id]; !ok {
		return errors.NotFound("instance", id)
	}
	delete(s.instances, id)
	return nil
}

// PrimaryInstance returns the project's primary instance, or its only
// instance when none is flagged.
func (s *MemoryStore) PrimaryInstance(ctx context.Context, projectName string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*Instance
	for _, instance := range s.instances {
		if instance.ProjectName != projectName {
			continue
		}
		if instance.Primary {
			copied := *instance
			return &copied, nil
		}
		candidates = append(candidates, instance)
	}
	if len(candidates) == 1 {
		copied := *candidates[0]
		return &copied, nil
	}
	return nil, errors.NotFound("primary instance", projectName)
}

// ResolveChannel maps a chat channel to its project and instance.
func (s *MemoryStore) ResolveChannel(ctx context.Context, channelID string) (*Project, *Instance, error) {
	s.mu.RLock()
	instanceMatch := (*Instance)(nil)
	for _, instance := range s.instances {
		if instance.ChannelID == channelID {
			copied := *instance
			instanceMatch = &copied
			break
		}
	}
	projectMatch := (*Project)(nil)
	if instanceMatch != nil {
		if project, ok := s.projects[instanceMatch.ProjectName]; ok {
			copied := *project
			projectMatch = &copied
		}
	} else {
		for _, project := range s.projects {
			if project.ChannelID == channelID {
				copied := *project
				projectMatch = &copied
				break
			}
		}
	}
	s.mu.RUnlock()

	if instanceMatch != nil && projectMatch != nil {
		return projectMatch, instanceMatch, nil
	}
	if projectMatch != nil {
		instance, err := s.PrimaryInstance(ctx, projectMatch.Name)
		if err != nil {
			return nil, nil, errors.ChannelUnresolved(projectMatch.Name, "")
		}
		return projectMatch, instance, nil
	}
	return nil, nil, errors.NotFound("channel mapping", channelID)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
