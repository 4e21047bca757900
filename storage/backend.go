package storage

import (
	"context"
	"errors"
)

// errEntityExists is returned by insert when the row is already present.
var errEntityExists = errors.New("entity already exists")

// row is the unit both table backends store: a JSON document addressed by
// partition (user) and row (entity) key. Stamp is the timestamp of the last
// command applied to the row; ETag guards optimistic updates.
type row struct {
	PartitionKey string
	RowKey       string
	Data         []byte
	Stamp        int64
	ETag         string
}

// tableBackend is implemented by the Azure Tables and SQLite stores.
type tableBackend interface {
	// get returns nil without error when the row does not exist.
	get(ctx context.Context, table, pk, rk string) (*row, error)
	// list returns up to limit rows of the partition with a row key greater
	// than after, in row key order. limit <= 0 means no limit.
	list(ctx context.Context, table, pk, after string, limit int) ([]row, error)
	insert(ctx context.Context, table string, r row) error
	upsert(ctx context.Context, table string, r row) error
	// replace overwrites a row only if its ETag still matches. A mismatch is
	// reported as domain.ErrConcurrencyConflict.
	replace(ctx context.Context, table string, r row, etag string) error
	// remove deletes a row. Missing rows are reported as domain.ErrNotFound.
	remove(ctx context.Context, table, pk, rk string) error
	createTable(ctx context.Context, table string) error
}

// QueueMessage is a command envelope taken off the queue.
type QueueMessage struct {
	ID           string
	Receipt      string
	Body         string
	DequeueCount int64
}

type commandQueue interface {
	enqueue(ctx context.Context, body string) error
	// dequeue returns nil without error when the queue is empty.
	dequeue(ctx context.Context) (*QueueMessage, error)
	remove(ctx context.Context, id, receipt string) error
	create(ctx context.Context) error
}
