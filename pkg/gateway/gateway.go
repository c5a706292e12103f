// Package gateway wraps the management API of the target API gateway. The
// four operations consumed by the import pipeline are treated as opaque
// remote calls that may fail transiently.
package gateway

import (
	"context"
	"errors"
)

// ErrNotFound indicates a resource that does not exist in the gateway.
var ErrNotFound = errors.New("gateway: resource not found")

// VersionSetRef identifies a version set in the gateway.
type VersionSetRef struct {
	// ID is the version set identifier, equal to the API path.
	ID string

	// ResourceID is the fully-qualified path to the version set in the
	// target gateway, as required by the API update operation.
	ResourceID string
}

// Client defines the management-plane operations the import pipeline needs.
type Client interface {
	Start(ctx context.Context) error
	Stop() error

	// Version sets.
	GetVersionSet(ctx context.Context, id string) (*VersionSetRef, error)
	CreateVersionSet(ctx context.Context, id, displayName string) (*VersionSetRef, error)

	// APIs. ImportAPI is an idempotent upsert keyed by apiID; reattempting
	// after a partial failure updates the existing resource.
	ImportAPI(ctx context.Context, apiID, displayName, apiPath string, content []byte) error
	UpdateAPI(ctx context.Context, apiID, version, versionSetID string) error
}
