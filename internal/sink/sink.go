// Package sink stores persisted records durably. Every backend appends in
// arrival order and reads back in the same order.
package sink

import (
	"context"

	"seismo/pkg/models"
)

// Sink is the durable, append-only record store. Append returns only once
// the record would survive a process crash.
type Sink interface {
	Append(ctx context.Context, rec models.PersistedRecord) error
	ReadAll(ctx context.Context) ([]models.PersistedRecord, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}
