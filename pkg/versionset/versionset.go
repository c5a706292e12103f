package versionset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/importoor/pkg/gateway"
	"github.com/ethpandaops/importoor/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// GroupCreationError indicates a version set that could not be created. The
// caller treats it as the item's terminal failure for that attempt.
type GroupCreationError struct {
	APIPath string
	Err     error
}

func (e *GroupCreationError) Error() string {
	return fmt.Sprintf("creating version set %s: %v", e.APIPath, e.Err)
}

func (e *GroupCreationError) Unwrap() error {
	return e.Err
}

// Manager ensures a version set exists for an API path.
type Manager interface {
	// Ensure returns the version set for apiPath, creating it if absent.
	// An existing set is returned unchanged even if its configuration
	// differs. Concurrent and repeated calls for one path issue at most
	// one create.
	Ensure(ctx context.Context, apiPath string) (*gateway.VersionSetRef, error)
}

// manager implements Manager.
type manager struct {
	log     logrus.FieldLogger
	client  gateway.Client
	metrics *metrics.Metrics

	// pathLocks provides per-path locking so concurrent items sharing an
	// API path cannot race the query-then-create sequence.
	pathLocks   map[string]*sync.Mutex
	pathLocksMu sync.Mutex

	// cache holds refs already resolved during this run.
	cache   map[string]*gateway.VersionSetRef
	cacheMu sync.RWMutex
}

// Ensure manager implements Manager.
var _ Manager = (*manager)(nil)

// NewManager creates a version set manager. Metrics may be nil.
func NewManager(log logrus.FieldLogger, client gateway.Client, m *metrics.Metrics) Manager {
	return &manager{
		log:       log.WithField("component", "versionset"),
		client:    client,
		metrics:   m,
		pathLocks: make(map[string]*sync.Mutex),
		cache:     make(map[string]*gateway.VersionSetRef),
	}
}

// Ensure looks up or creates the version set for apiPath.
func (m *manager) Ensure(ctx context.Context, apiPath string) (*gateway.VersionSetRef, error) {
	if ref := m.cached(apiPath); ref != nil {
		return ref, nil
	}

	lock := m.pathLock(apiPath)
	lock.Lock()
	defer lock.Unlock()

	// Another item may have resolved it while we waited for the lock.
	if ref := m.cached(apiPath); ref != nil {
		return ref, nil
	}

	log := m.log.WithField("version_set", apiPath)

	ref, err := m.client.GetVersionSet(ctx, apiPath)

	switch {
	case err == nil:
		log.Debug("Version set already exists")

	case errors.Is(err, gateway.ErrNotFound):
		log.Info("Version set not found, creating")

		// Display name equals the API path, versioning is header-based.
		ref, err = m.client.CreateVersionSet(ctx, apiPath, apiPath)
		if err != nil {
			return nil, &GroupCreationError{APIPath: apiPath, Err: err}
		}

		if m.metrics != nil {
			m.metrics.RecordVersionSetCreated()
		}

		log.Info("Version set created")

	default:
		return nil, fmt.Errorf("querying version set %s: %w", apiPath, err)
	}

	m.cacheMu.Lock()
	m.cache[apiPath] = ref
	m.cacheMu.Unlock()

	return ref, nil
}

// cached returns the ref for apiPath if already resolved this run.
func (m *manager) cached(apiPath string) *gateway.VersionSetRef {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	return m.cache[apiPath]
}

// pathLock returns or creates the mutex for a specific API path.
func (m *manager) pathLock(apiPath string) *sync.Mutex {
	m.pathLocksMu.Lock()
	defer m.pathLocksMu.Unlock()

	if lock, ok := m.pathLocks[apiPath]; ok {
		return lock
	}

	lock := &sync.Mutex{}
	m.pathLocks[apiPath] = lock

	return lock
}
