package domain

import "github.com/bytedance/sonic"

// Entity types a command can target.
const (
	EntityTask     = "task"
	EntityProject  = "project"
	EntitySettings = "user-settings"
)

// Command types.
const (
	TaskCreated     = "task-created"
	TaskUpdated     = "task-updated"
	TaskMoved       = "task-moved"
	TaskDeleted     = "task-deleted"
	ProjectCreated  = "project-created"
	ProjectUpdated  = "project-updated"
	ProjectDeleted  = "project-deleted"
	SettingsUpdated = "settings-updated"
)

// Command represents a write request for the domain model.
type Command struct {
	// ID carries the idempotency key when enqueued to the command queue.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityType     string                 `json:"entityType"`
	EntityID       string                 `json:"entityId,omitempty"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}

// NewCommand builds a command with data encoded as JSON.
func NewCommand(entityType, entityID, typ string, data any) (Command, error) {
	cmd := Command{EntityType: entityType, EntityID: entityID, Type: typ}
	if data != nil {
		raw, err := sonic.Marshal(data)
		if err != nil {
			return Command{}, err
		}
		cmd.Data = raw
	}
	return cmd, nil
}
