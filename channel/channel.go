// Package channel defines optional outbound integrations that run alongside
// the HTTP API and relay run outcomes to external systems.
package channel

import "context"

// Channel is a long-running integration. Run blocks until the context is
// canceled or a fatal error occurs.
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}
