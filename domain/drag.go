package domain

import (
	"math"
	"strings"
)

// DefaultActivationDistance is how far a pointer must travel after a grab
// before the gesture counts as a drag instead of a click.
const DefaultActivationDistance = 8.0

// DragState is the state of a DragController.
type DragState int

const (
	DragIdle DragState = iota
	DragDragging
)

func (s DragState) String() string {
	if s == DragDragging {
		return "dragging"
	}
	return "idle"
}

// Point is a pointer position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// TargetKind tells what a drop landed on.
type TargetKind string

const (
	TargetNone   TargetKind = "none"
	TargetColumn TargetKind = "column"
	TargetTask   TargetKind = "task"
)

// DropTarget is the element under the pointer when a gesture is released.
// For column targets ID is the column's status value, for task targets it is
// the task ID.
type DropTarget struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

func ColumnTarget(status TaskStatus) DropTarget { return DropTarget{Kind: TargetColumn, ID: string(status)} }
func TaskTarget(id string) DropTarget           { return DropTarget{Kind: TargetTask, ID: id} }
func NoTarget() DropTarget                      { return DropTarget{Kind: TargetNone} }

// ResolveDrop works out the status a drop of dragged onto target asks for.
// A column resolves to its own status; a task resolves to that task's current
// status. The boolean is true only when the resolved status differs from the
// dragged task's current status, which is the only case that warrants a
// status change. When columns is non-empty the resolved status must be one
// of them, whether it came from a column or from the task dropped onto.
func ResolveDrop(tasks []Task, columns []StatusDefinition, dragged Task, target DropTarget) (TaskStatus, bool) {
	var to TaskStatus
	switch target.Kind {
	case TargetColumn:
		s := TaskStatus(strings.TrimSpace(target.ID))
		if !s.Valid() {
			return dragged.Status, false
		}
		if len(columns) > 0 && !HasColumn(columns, s) {
			return dragged.Status, false
		}
		to = s
	case TargetTask:
		if target.ID == dragged.ID {
			return dragged.Status, false
		}
		over, ok := FindTask(tasks, target.ID)
		if !ok {
			return dragged.Status, false
		}
		// a task whose status has no column in the layout is not on screen
		if len(columns) > 0 && !HasColumn(columns, over.Status) {
			return dragged.Status, false
		}
		to = over.Status
	default:
		return dragged.Status, false
	}
	return to, to != dragged.Status
}

// BoardCallbacks are the side effects a board may request. Nil callbacks make
// the corresponding interaction a no-op, which is how a read-only board is
// configured.
type BoardCallbacks struct {
	OnTaskStatusChange func(taskID string, status TaskStatus)
	OnAddTask          func(status TaskStatus)
	OnTaskClick        func(task Task)
}

// DropOutcome classifies how a gesture ended.
type DropOutcome string

const (
	OutcomeMoved     DropOutcome = "moved"
	OutcomeNoChange  DropOutcome = "no-change"
	OutcomeCancelled DropOutcome = "cancelled"
	OutcomeClick     DropOutcome = "click"
	OutcomeIgnored   DropOutcome = "ignored"
)

// DropResult reports what a released gesture resolved to.
type DropResult struct {
	Outcome DropOutcome `json:"outcome"`
	TaskID  string      `json:"taskId,omitempty"`
	From    TaskStatus  `json:"from,omitempty"`
	To      TaskStatus  `json:"to,omitempty"`
}

// DragController interprets pointer gestures over a board as status change
// requests. It never mutates the task list it is given; the owner supplies a
// fresh list through SetTasks after applying a change.
//
// A controller is not safe for concurrent use. Pointer events arrive one at a
// time and only a single gesture may be active.
type DragController struct {
	tasks      []Task
	columns    []StatusDefinition
	callbacks  BoardCallbacks
	activation float64

	state   DragState
	grabbed string
	origin  Point
	preview *Task
}

// NewDragController creates a controller over the given tasks and columns.
func NewDragController(tasks []Task, columns []StatusDefinition, cb BoardCallbacks) *DragController {
	return &DragController{
		tasks:      tasks,
		columns:    columns,
		callbacks:  cb,
		activation: DefaultActivationDistance,
	}
}

// SetActivationDistance overrides the drag threshold. Non-positive values make
// any movement start a drag.
func (d *DragController) SetActivationDistance(v float64) {
	if v < 0 {
		v = 0
	}
	d.activation = v
}

// SetTasks replaces the task list the controller reads from.
func (d *DragController) SetTasks(tasks []Task) { d.tasks = tasks }

// Board projects the current task list.
func (d *DragController) Board() Board { return ProjectColumns(d.tasks, d.columns) }

func (d *DragController) State() DragState { return d.state }

// Preview returns the floating copy of the dragged task while a drag is active.
func (d *DragController) Preview() (Task, bool) {
	if d.preview == nil {
		return Task{}, false
	}
	return *d.preview, true
}

// PointerDown arms a gesture on a task card. It is ignored while another
// gesture is in progress or when the task is unknown.
func (d *DragController) PointerDown(taskID string, at Point) bool {
	if d.state == DragDragging || d.grabbed != "" {
		return false
	}
	if _, ok := FindTask(d.tasks, taskID); !ok {
		return false
	}
	d.grabbed = taskID
	d.origin = at
	return true
}

// PointerMove starts the drag once the pointer has moved at least the
// activation distance from where it was grabbed. It reports whether a drag is
// active after the move.
func (d *DragController) PointerMove(at Point) bool {
	if d.state == DragDragging {
		return true
	}
	if d.grabbed == "" {
		return false
	}
	if d.origin.distance(at) < d.activation {
		return false
	}
	t, ok := FindTask(d.tasks, d.grabbed)
	if !ok {
		d.reset()
		return false
	}
	cp := t.Clone()
	d.preview = &cp
	d.state = DragDragging
	return true
}

// PointerUp ends the gesture. A grab that never became a drag is a click. A
// drag resolves its target with ResolveDrop and requests a status change only
// when the status actually differs. The preview is always cleared.
func (d *DragController) PointerUp(target DropTarget) DropResult {
	defer d.reset()

	if d.grabbed == "" {
		return DropResult{Outcome: OutcomeIgnored}
	}
	current, ok := FindTask(d.tasks, d.grabbed)
	if !ok {
		return DropResult{Outcome: OutcomeCancelled, TaskID: d.grabbed}
	}
	if d.state != DragDragging {
		if d.callbacks.OnTaskClick != nil {
			d.callbacks.OnTaskClick(current)
		}
		return DropResult{Outcome: OutcomeClick, TaskID: current.ID, From: current.Status}
	}
	if target.Kind != TargetColumn && target.Kind != TargetTask {
		return DropResult{Outcome: OutcomeCancelled, TaskID: current.ID, From: current.Status}
	}
	to, changed := ResolveDrop(d.tasks, d.columns, current, target)
	if !changed {
		return DropResult{Outcome: OutcomeNoChange, TaskID: current.ID, From: current.Status, To: to}
	}
	if d.callbacks.OnTaskStatusChange != nil {
		d.callbacks.OnTaskStatusChange(current.ID, to)
	}
	return DropResult{Outcome: OutcomeMoved, TaskID: current.ID, From: current.Status, To: to}
}

// Cancel abandons the active gesture without side effects.
func (d *DragController) Cancel() { d.reset() }

// RequestAdd invokes OnAddTask for a column on the board. It returns false
// when the status has no column or no callback is configured.
func (d *DragController) RequestAdd(status TaskStatus) bool {
	if !HasColumn(d.columns, status) || d.callbacks.OnAddTask == nil {
		return false
	}
	d.callbacks.OnAddTask(status)
	return true
}

func (d *DragController) reset() {
	d.state = DragIdle
	d.grabbed = ""
	d.origin = Point{}
	d.preview = nil
}
