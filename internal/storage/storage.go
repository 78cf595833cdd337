// Package storage provides the persistence interfaces consumed by the sync
// and archive engines.
//
// Concrete implementations live in the memory and mysql sub-packages.
// This package holds the interfaces and sentinel errors referenced by both
// the implementations and their consumers (tracker, archive, api, etc.).
package storage

import (
	"context"
	"errors"

	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap precondition does not hold.
var ErrConflict = errors.New("conflict")

// ErrUnknownField is returned when an update names a field the store does not
// allow to be written.
var ErrUnknownField = errors.New("unknown field")

// DocumentStore holds projects, versions and their entities.
// Updates are targeted partial-field writes keyed by a stable id; concurrent
// writers of the same record are last-write-wins.
type DocumentStore interface {
	// CreateProject stores p together with its first version v and points
	// p.LatestVersion at it. It returns ErrConflict if the project exists.
	CreateProject(ctx context.Context, p *types.Project, v *types.Version) error
	GetProject(ctx context.Context, projectID string) (*types.Project, error)
	GetVersion(ctx context.Context, projectID, version string) (*types.Version, error)
	UpdateVersion(ctx context.Context, projectID, version string, updates map[string]interface{}) error

	GetEntities(ctx context.Context, projectID, version string, kind types.EntityKind) ([]*types.Entity, error)
	GetEntity(ctx context.Context, projectID, version string, kind types.EntityKind, id string) (*types.Entity, error)
	UpdateEntity(ctx context.Context, projectID, version string, kind types.EntityKind, id string, updates map[string]interface{}) error
}

// JobStore persists archive jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.ArchiveJob) error
	GetJob(ctx context.Context, id string) (*types.ArchiveJob, error)

	// TransitionJob moves a job from one status to another, applying updates
	// in the same write. It returns ErrConflict if the stored status is not
	// from, and an error if from -> to is not a legal transition.
	TransitionJob(ctx context.Context, id string, from, to types.JobStatus, updates map[string]interface{}) error
}

// CredentialIndex maps (tool, uid) to the secret holding that user's tokens,
// and keeps the OAuth state used to validate authorization callbacks.
type CredentialIndex interface {
	// GetSecretPath returns "" and no error when the user is not connected.
	GetSecretPath(ctx context.Context, tool, uid string) (string, error)
	SaveSecretPath(ctx context.Context, tool, uid, secretPath string) error

	SaveAuthState(ctx context.Context, tool, uid, state string) error
	// ConsumeAuthState returns the saved state and deletes it. Returns ""
	// when no state is pending.
	ConsumeAuthState(ctx context.Context, tool, uid string) (string, error)
}

// SecretStore holds versioned opaque secret payloads.
type SecretStore interface {
	// StoreSecret adds payload as a new version of the named secret, creating
	// the secret if needed, and returns its path.
	StoreSecret(ctx context.Context, name string, payload []byte) (string, error)
	// GetSecret returns the latest version of the secret at path.
	GetSecret(ctx context.Context, path string) ([]byte, error)
}

// Store is the union implemented by every backend.
type Store interface {
	DocumentStore
	JobStore
	CredentialIndex
	SecretStore
	Close() error
}

// ValidateJobTransition returns an error when from -> to is not allowed.
func ValidateJobTransition(from, to types.JobStatus) error {
	if !from.CanTransition(to) {
		return errors.New("illegal job transition " + string(from) + " -> " + string(to))
	}
	return nil
}
