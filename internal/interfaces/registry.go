// Package interfaces collects the small, single-purpose collaborator
// interfaces that sit between a concrete implementation and the code that
// consumes it, so tests can substitute a mock from internal/mocks.
package interfaces

import (
	"context"

	"github.com/ehrlich-b/tangram-go/internal/id"
)

// RegistryClient resolves a published package name and version to the
// content-addressed package id a registry has recorded for it. It is the
// interface internal/resolver.Registry is satisfied against in production;
// internal/registryclient provides the HTTP implementation.
type RegistryClient interface {
	ResolvePackage(ctx context.Context, name, version string) (id.Id, error)
}
