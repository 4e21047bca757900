package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"devflow/domain"
)

const (
	// DefaultTablePrefix is prepended to every table name.
	DefaultTablePrefix = "devflow"
	// DefaultCommandQueue is used when no queue name is configured.
	DefaultCommandQueue = "devflow-commands"
	defaultPageSize     = 30

	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 128
)

// Config names the tables and queue a Storage uses.
type Config struct {
	TablePrefix  string
	CommandQueue string
	// PageSize is the task page size used when callers pass no limit.
	PageSize int
	// QueueConcurrency bounds parallel bulk writes and sizes the API worker
	// pool. Commands of one batch are always sent sequentially. Zero derives a
	// value from the CPU count.
	QueueConcurrency int
	// VisibilityTimeout is how long a dequeued command stays hidden before it
	// is redelivered. Zero keeps the backend default.
	VisibilityTimeout time.Duration
}

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	tables           tableBackend
	queue            commandQueue
	names            tableNames
	pageSize         int
	queueConcurrency int
}

type tableNames struct {
	tasks       string
	projects    string
	settings    string
	snippets    string
	prompts     string
	templates   string
	reviews     string
	analytics   string
	goals       string
	suggestions string
	insights    string
}

func newTableNames(prefix string) tableNames {
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	return tableNames{
		tasks:       prefix + "Tasks",
		projects:    prefix + "Projects",
		settings:    prefix + "Settings",
		snippets:    prefix + "Snippets",
		prompts:     prefix + "Prompts",
		templates:   prefix + "PromptTemplates",
		reviews:     prefix + "Reviews",
		analytics:   prefix + "Analytics",
		goals:       prefix + "Goals",
		suggestions: prefix + "Suggestions",
		insights:    prefix + "Insights",
	}
}

func (n tableNames) all() []string {
	return []string{
		n.tasks, n.projects, n.settings, n.snippets, n.prompts, n.templates,
		n.reviews, n.analytics, n.goals, n.suggestions, n.insights,
	}
}

// New creates a Storage backed by Azure Tables and an Azure queue.
func New(connStr string, cfg Config) (*Storage, error) {
	if cfg.CommandQueue == "" {
		cfg.CommandQueue = DefaultCommandQueue
	}
	tables, err := newAzureTables(connStr)
	if err != nil {
		return nil, err
	}
	names := newTableNames(cfg.TablePrefix)
	tables.register(names.all()...)
	queue, err := newAzureQueue(connStr, cfg.CommandQueue, cfg.VisibilityTimeout)
	if err != nil {
		return nil, err
	}
	return newStorage(tables, queue, names, cfg), nil
}

// NewSQLite creates a Storage on a database opened with OpenSQLite. The
// command queue lives in the same database.
func NewSQLite(db *sql.DB, cfg Config) *Storage {
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}
	queue := &sqliteQueue{db: db, visibility: visibility, now: time.Now}
	return newStorage(&sqliteTables{db: db}, queue, newTableNames(cfg.TablePrefix), cfg)
}

func newStorage(tables tableBackend, queue commandQueue, names tableNames, cfg Config) *Storage {
	s := &Storage{
		tables:           tables,
		queue:            queue,
		names:            names,
		pageSize:         cfg.PageSize,
		queueConcurrency: cfg.QueueConcurrency,
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultPageSize
	}
	if s.queueConcurrency <= 0 {
		s.queueConcurrency = queueConcurrencyForCPU(runtime.NumCPU())
	}
	return s
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

// CreateAll creates every table and the command queue. Existing ones are
// left alone.
func (s *Storage) CreateAll(ctx context.Context) error {
	for _, name := range s.names.all() {
		if err := s.tables.createTable(ctx, name); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	if err := s.queue.create(ctx); err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	return nil
}

// TableNames lists the tables CreateAll provisions.
func (s *Storage) TableNames() []string { return s.names.all() }

// EnqueueCommands sends the given commands to the command queue one at a
// time, in slice order. The read model drops a command that is older than the
// row it targets, so a batch must never overtake itself on the queue.
func (s *Storage) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	bodies := make([]string, len(cmds))
	for i, cmd := range cmds {
		data, err := json.Marshal(domain.CommandEnvelope{UserID: userID, Command: cmd})
		if err != nil {
			return err
		}
		bodies[i] = string(data)
	}
	for i, b := range bodies {
		if err := s.queue.enqueue(ctx, b); err != nil {
			return fmt.Errorf("enqueue command %d of %d: %w", i+1, len(bodies), err)
		}
	}
	return nil
}

// Dequeue retrieves a single message from the command queue. It returns nil
// when the queue is empty.
func (s *Storage) Dequeue(ctx context.Context) (*QueueMessage, error) {
	return s.queue.dequeue(ctx)
}

// Delete removes a processed message from the queue.
func (s *Storage) Delete(ctx context.Context, id, receipt string) error {
	return s.queue.remove(ctx, id, receipt)
}

// Versioned pairs a stored value with its concurrency tag and the timestamp
// of the last command applied to it.
type Versioned[T any] struct {
	Value T
	ETag  string
	Stamp int64
}

func getVersioned[T any](ctx context.Context, b tableBackend, table, pk, rk string) (*Versioned[T], error) {
	r, err := b.get(ctx, table, pk, rk)
	if err != nil || r == nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", table, rk, err)
	}
	return &Versioned[T]{Value: v, ETag: r.ETag, Stamp: r.Stamp}, nil
}

// saveVersioned inserts when etag is empty and otherwise replaces the row
// only if it still carries etag. Both races surface as
// domain.ErrConcurrencyConflict.
func saveVersioned(ctx context.Context, b tableBackend, table, pk, rk string, v any, stamp int64, etag string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r := row{PartitionKey: pk, RowKey: rk, Data: data, Stamp: stamp}
	if etag == "" {
		err := b.insert(ctx, table, r)
		if errors.Is(err, errEntityExists) {
			return domain.ErrConcurrencyConflict
		}
		return err
	}
	return b.replace(ctx, table, r, etag)
}

func getDoc[T any](ctx context.Context, b tableBackend, table, pk, rk string) (*T, error) {
	v, err := getVersioned[T](ctx, b, table, pk, rk)
	if err != nil || v == nil {
		return nil, err
	}
	return &v.Value, nil
}

func putDoc(ctx context.Context, b tableBackend, table, pk, rk string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.upsert(ctx, table, row{PartitionKey: pk, RowKey: rk, Data: data})
}

func listDocs[T any](ctx context.Context, b tableBackend, table, pk string) ([]T, error) {
	rows, err := b.list(ctx, table, pk, "", 0)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", table, r.RowKey, err)
		}
		out = append(out, v)
	}
	return out, nil
}
