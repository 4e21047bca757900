package domain

// StatusDefinition describes how a status is presented as a board column.
type StatusDefinition struct {
	Value TaskStatus `json:"value"`
	Label string     `json:"label"`
	Icon  string     `json:"icon"`
	Color string     `json:"color"`
}

// BoardLayout names one of the supported column sets.
type BoardLayout string

const (
	LayoutFourColumns  BoardLayout = "four"
	LayoutThreeColumns BoardLayout = "three"
)

var (
	columnTodo   = StatusDefinition{Value: StatusTodo, Label: "To Do", Icon: "circle", Color: "gray"}
	columnDoing  = StatusDefinition{Value: StatusDoing, Label: "In Progress", Icon: "play", Color: "blue"}
	columnReview = StatusDefinition{Value: StatusReview, Label: "Review", Icon: "eye", Color: "yellow"}
	columnDone   = StatusDefinition{Value: StatusDone, Label: "Done", Icon: "check-circle", Color: "green"}
)

// Columns returns the ordered status definitions for the layout. Unknown
// layouts fall back to the four column board.
func (l BoardLayout) Columns() []StatusDefinition {
	if l == LayoutThreeColumns {
		return []StatusDefinition{columnTodo, columnDoing, columnDone}
	}
	return []StatusDefinition{columnTodo, columnDoing, columnReview, columnDone}
}

func (l BoardLayout) Valid() bool {
	return l == LayoutFourColumns || l == LayoutThreeColumns
}

// DefaultColumns is the four stage board: todo, doing, review, done.
func DefaultColumns() []StatusDefinition {
	return LayoutFourColumns.Columns()
}

// AddAction is the "add a task here" affordance rendered in an empty column.
type AddAction struct {
	Status TaskStatus `json:"status"`
	Label  string     `json:"label"`
}

// Column is one projected status column.
type Column struct {
	StatusDefinition
	Tasks     []Task     `json:"tasks"`
	Count     int        `json:"count"`
	AddAction *AddAction `json:"addAction,omitempty"`
}

// Board is the column projection of a task list.
type Board struct {
	Columns []Column `json:"columns"`
	// Unplaced holds tasks whose status has no column in the layout.
	Unplaced []Task `json:"unplaced,omitempty"`
}

// Column returns the projected column for status.
func (b Board) Column(status TaskStatus) (Column, bool) {
	for _, c := range b.Columns {
		if c.Value == status {
			return c, true
		}
	}
	return Column{}, false
}

// Total returns the number of tasks on the board, including unplaced ones.
func (b Board) Total() int {
	n := len(b.Unplaced)
	for _, c := range b.Columns {
		n += c.Count
	}
	return n
}

// ProjectColumns groups tasks into one column per definition, in the order the
// definitions are given. Tasks keep their relative input order inside a column.
// When a status appears in defs more than once only the first column receives
// its tasks. The input slice is not modified.
func ProjectColumns(tasks []Task, defs []StatusDefinition) Board {
	board := Board{Columns: make([]Column, len(defs))}
	slot := make(map[TaskStatus]int, len(defs))
	for i, def := range defs {
		board.Columns[i] = Column{StatusDefinition: def, Tasks: []Task{}}
		if _, seen := slot[def.Value]; !seen {
			slot[def.Value] = i
		}
	}
	for _, t := range tasks {
		i, ok := slot[t.Status]
		if !ok {
			board.Unplaced = append(board.Unplaced, t)
			continue
		}
		board.Columns[i].Tasks = append(board.Columns[i].Tasks, t)
	}
	for i := range board.Columns {
		col := &board.Columns[i]
		col.Count = len(col.Tasks)
		if col.Count == 0 {
			col.AddAction = &AddAction{Status: col.Value, Label: "Add Task"}
		}
	}
	return board
}

// HasColumn reports whether defs contains a column for status.
func HasColumn(defs []StatusDefinition, status TaskStatus) bool {
	for _, d := range defs {
		if d.Value == status {
			return true
		}
	}
	return false
}
