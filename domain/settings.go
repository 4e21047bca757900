package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Settings represents user configurable options.
type Settings struct {
	BoardLayout   BoardLayout `json:"boardLayout"`
	ShowDoneTasks bool        `json:"displayDoneTasks"`
}

// DefaultSettings are used for users who never saved any.
func DefaultSettings() Settings {
	return Settings{BoardLayout: LayoutFourColumns, ShowDoneTasks: true}
}

// Columns returns the board columns selected by the settings. Hiding done
// tasks drops the done column.
func (s Settings) Columns() []StatusDefinition {
	cols := s.BoardLayout.Columns()
	if s.ShowDoneTasks {
		return cols
	}
	out := cols[:0:0]
	for _, c := range cols {
		if c.Value != StatusDone {
			out = append(out, c)
		}
	}
	return out
}

type SettingsData struct {
	BoardLayout   *BoardLayout `json:"boardLayout,omitempty"`
	ShowDoneTasks *bool        `json:"displayDoneTasks,omitempty"`
}

// ApplySettings applies a settings-updated command on top of current.
func ApplySettings(current Settings, cmd Command) (Settings, error) {
	if cmd.Type != SettingsUpdated {
		return current, fmt.Errorf("%w: unknown settings command %s", ErrValidation, cmd.Type)
	}
	var data SettingsData
	if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
		return current, fmt.Errorf("%w: settings data: %v", ErrValidation, err)
	}
	if data.BoardLayout == nil && data.ShowDoneTasks == nil {
		return current, fmt.Errorf("%w: settings update had no fields", ErrValidation)
	}
	next := current
	if data.BoardLayout != nil {
		if !data.BoardLayout.Valid() {
			return current, fmt.Errorf("%w: board layout %q", ErrValidation, *data.BoardLayout)
		}
		next.BoardLayout = *data.BoardLayout
	}
	if data.ShowDoneTasks != nil {
		next.ShowDoneTasks = *data.ShowDoneTasks
	}
	return next, nil
}
