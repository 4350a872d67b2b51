package engine

import "context"

// Spec describes the container a workspace runs in. Port is the host
// port the workspace's HTTP service is published on.
type Spec struct {
	Name   string
	Image  string
	Port   int
	Labels map[string]string
}

// Engine is the container runtime boundary. Create returns an opaque
// handle that the remaining calls operate on.
type Engine interface {
	Create(ctx context.Context, spec Spec) (string, error)
	Start(ctx context.Context, handle string) error
	Stop(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string) error
}
