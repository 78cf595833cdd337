// Package memory implements storage.Store in process memory. It backs tests
// and single-process development servers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

const secretPathPrefix = "memory://secrets/"

type versionKey struct{ project, version string }

type entityKey struct {
	project, version string
	kind             types.EntityKind
}

type credKey struct{ tool, uid string }

// MemoryStorage is a mutex-guarded in-memory store. Reads return copies so
// callers never alias stored records.
type MemoryStorage struct {
	mu sync.RWMutex

	projects map[string]*types.Project
	versions map[versionKey]*types.Version
	entities map[entityKey][]*types.Entity
	jobs     map[string]*types.ArchiveJob

	secretPaths map[credKey]string
	authStates  map[credKey]string
	secrets     map[string][][]byte

	now func() time.Time
}

var _ storage.Store = (*MemoryStorage)(nil)

// New creates an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{
		projects:    make(map[string]*types.Project),
		versions:    make(map[versionKey]*types.Version),
		entities:    make(map[entityKey][]*types.Entity),
		jobs:        make(map[string]*types.ArchiveJob),
		secretPaths: make(map[credKey]string),
		authStates:  make(map[credKey]string),
		secrets:     make(map[string][][]byte),
		now:         time.Now,
	}
}

func (m *MemoryStorage) Close() error { return nil }

// PutProject inserts or replaces a project record.
func (m *MemoryStorage) PutProject(p types.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = &p
}

// PutVersion inserts or replaces a version record.
func (m *MemoryStorage) PutVersion(v types.Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.Files = append([]types.VersionFile(nil), v.Files...)
	m.versions[versionKey{v.ProjectID, v.Version}] = &v
}

// PutEntities appends entities to their (project, version, kind) collection,
// replacing any with the same id.
func (m *MemoryStorage) PutEntities(entities ...types.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entities {
		e := cloneEntity(&entities[i])
		key := entityKey{e.ProjectID, e.Version, e.Kind}
		list := m.entities[key]
		replaced := false
		for j, existing := range list {
			if existing.ID == e.ID {
				list[j] = e
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, e)
		}
		m.entities[key] = list
	}
}

func (m *MemoryStorage) CreateProject(_ context.Context, p *types.Project, v *types.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, storage.ErrConflict)
	}
	cp, cv := *p, *v
	cv.ProjectID = cp.ID
	cv.Files = append([]types.VersionFile(nil), v.Files...)
	cp.LatestVersion = cv.Version
	m.projects[cp.ID] = &cp
	m.versions[versionKey{cv.ProjectID, cv.Version}] = &cv
	return nil
}

func (m *MemoryStorage) GetProject(_ context.Context, projectID string) (*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, storage.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStorage) GetVersion(_ context.Context, projectID, version string) (*types.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[versionKey{projectID, version}]
	if !ok {
		return nil, fmt.Errorf("version %s/%s: %w", projectID, version, storage.ErrNotFound)
	}
	cp := *v
	cp.Files = append([]types.VersionFile(nil), v.Files...)
	return &cp, nil
}

func (m *MemoryStorage) UpdateVersion(_ context.Context, projectID, version string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionKey{projectID, version}]
	if !ok {
		return fmt.Errorf("version %s/%s: %w", projectID, version, storage.ErrNotFound)
	}
	cp := *v
	if err := storage.ApplyVersionUpdates(&cp, updates); err != nil {
		return err
	}
	*v = cp
	return nil
}

func (m *MemoryStorage) GetEntities(_ context.Context, projectID, version string, kind types.EntityKind) ([]*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.entities[entityKey{projectID, version, kind}]
	out := make([]*types.Entity, 0, len(list))
	for _, e := range list {
		out = append(out, cloneEntity(e))
	}
	return out, nil
}

func (m *MemoryStorage) GetEntity(_ context.Context, projectID, version string, kind types.EntityKind, id string) (*types.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.findEntity(projectID, version, kind, id)
	if e == nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return cloneEntity(e), nil
}

func (m *MemoryStorage) UpdateEntity(_ context.Context, projectID, version string, kind types.EntityKind, id string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findEntity(projectID, version, kind, id)
	if e == nil {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	cp := cloneEntity(e)
	if err := storage.ApplyEntityUpdates(cp, updates); err != nil {
		return err
	}
	*e = *cp
	return nil
}

func (m *MemoryStorage) findEntity(projectID, version string, kind types.EntityKind, id string) *types.Entity {
	for _, e := range m.entities[entityKey{projectID, version, kind}] {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (m *MemoryStorage) CreateJob(_ context.Context, job *types.ArchiveJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, storage.ErrConflict)
	}
	cp := *job
	now := m.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetJob(_ context.Context, id string) (*types.ArchiveJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStorage) TransitionJob(_ context.Context, id string, from, to types.JobStatus, updates map[string]interface{}) error {
	if err := storage.ValidateJobTransition(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	if j.Status != from {
		return fmt.Errorf("job %s is %s, not %s: %w", id, j.Status, from, storage.ErrConflict)
	}
	cp := *j
	if err := storage.ApplyJobUpdates(&cp, updates); err != nil {
		return err
	}
	cp.Status = to
	cp.UpdatedAt = m.now().UTC()
	*j = cp
	return nil
}

// Jobs returns every job sorted by creation time.
func (m *MemoryStorage) Jobs() []types.ArchiveJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ArchiveJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func (m *MemoryStorage) GetSecretPath(_ context.Context, tool, uid string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secretPaths[credKey{tool, uid}], nil
}

func (m *MemoryStorage) SaveSecretPath(_ context.Context, tool, uid, secretPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secretPaths[credKey{tool, uid}] = secretPath
	return nil
}

func (m *MemoryStorage) SaveAuthState(_ context.Context, tool, uid, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authStates[credKey{tool, uid}] = state
	return nil
}

func (m *MemoryStorage) ConsumeAuthState(_ context.Context, tool, uid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := credKey{tool, uid}
	state := m.authStates[key]
	delete(m.authStates, key)
	return state, nil
}

func (m *MemoryStorage) StoreSecret(_ context.Context, name string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := secretPathPrefix + name
	m.secrets[path] = append(m.secrets[path], append([]byte(nil), payload...))
	return path, nil
}

func (m *MemoryStorage) GetSecret(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.secrets[path]
	if len(versions) == 0 {
		return nil, fmt.Errorf("secret %s: %w", path, storage.ErrNotFound)
	}
	return append([]byte(nil), versions[len(versions)-1]...), nil
}

// SecretVersions returns how many versions the secret at path has.
func (m *MemoryStorage) SecretVersions(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets[path])
}

func cloneEntity(e *types.Entity) *types.Entity {
	cp := *e
	cp.Datasets = append([]string(nil), e.Datasets...)
	return &cp
}
