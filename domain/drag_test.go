package domain

import "testing"

type statusCall struct {
	id     string
	status TaskStatus
}

type recorder struct {
	moves  []statusCall
	adds   []TaskStatus
	clicks []string
}

func (r *recorder) callbacks() BoardCallbacks {
	return BoardCallbacks{
		OnTaskStatusChange: func(id string, s TaskStatus) { r.moves = append(r.moves, statusCall{id, s}) },
		OnAddTask:          func(s TaskStatus) { r.adds = append(r.adds, s) },
		OnTaskClick:        func(t Task) { r.clicks = append(r.clicks, t.ID) },
	}
}

func scenarioTasks() []Task {
	return []Task{
		{ID: "1", Title: "one", Status: StatusTodo},
		{ID: "2", Title: "two", Status: StatusDoing},
		{ID: "3", Title: "three", Status: StatusTodo},
	}
}

func drag(t *testing.T, d *DragController, id string) {
	t.Helper()
	if !d.PointerDown(id, Point{X: 0, Y: 0}) {
		t.Fatalf("pointer down on %s rejected", id)
	}
	if !d.PointerMove(Point{X: 10, Y: 0}) {
		t.Fatalf("expected drag to start after passing activation distance")
	}
	if d.State() != DragDragging {
		t.Fatalf("expected dragging state, got %s", d.State())
	}
}

func TestDropOnOtherColumnRequestsStatusChangeOnce(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	drag(t, d, "1")

	res := d.PointerUp(ColumnTarget(StatusDone))
	if res.Outcome != OutcomeMoved || res.To != StatusDone || res.From != StatusTodo {
		t.Fatalf("unexpected result: %#v", res)
	}
	if len(rec.moves) != 1 || rec.moves[0] != (statusCall{"1", StatusDone}) {
		t.Fatalf("expected one status change (1, done), got %#v", rec.moves)
	}
	if d.State() != DragIdle {
		t.Fatalf("expected idle after release")
	}
}

func TestDropOnTaskInSameColumnIsNoOp(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	drag(t, d, "1")

	res := d.PointerUp(TaskTarget("3"))
	if res.Outcome != OutcomeNoChange {
		t.Fatalf("expected no change, got %#v", res)
	}
	if len(rec.moves) != 0 {
		t.Fatalf("expected no callback, got %#v", rec.moves)
	}
}

func TestDropOnOwnColumnIsNoOp(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	drag(t, d, "1")
	d.PointerUp(ColumnTarget(StatusTodo))
	if len(rec.moves) != 0 {
		t.Fatalf("expected no callback, got %#v", rec.moves)
	}
}

func TestDropOnTaskInOtherColumnJoinsThatColumn(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	drag(t, d, "1")

	d.PointerUp(TaskTarget("2"))
	if len(rec.moves) != 1 || rec.moves[0] != (statusCall{"1", StatusDoing}) {
		t.Fatalf("expected one status change (1, doing), got %#v", rec.moves)
	}
}

func TestDropWithoutTargetCancels(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	drag(t, d, "1")
	if _, ok := d.Preview(); !ok {
		t.Fatalf("expected a preview while dragging")
	}

	res := d.PointerUp(NoTarget())
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancellation, got %#v", res)
	}
	if len(rec.moves) != 0 || len(rec.clicks) != 0 {
		t.Fatalf("expected no callbacks, got moves=%v clicks=%v", rec.moves, rec.clicks)
	}
	if d.State() != DragIdle {
		t.Fatalf("expected idle state")
	}
	if _, ok := d.Preview(); ok {
		t.Fatalf("expected preview to be cleared")
	}
}

func TestPreviewIsACopy(t *testing.T) {
	tasks := scenarioTasks()
	tasks[0].Tags = []string{"a"}
	d := NewDragController(tasks, threeColumns(), BoardCallbacks{})
	drag(t, d, "1")
	p, _ := d.Preview()
	p.Tags[0] = "changed"
	if tasks[0].Tags[0] != "a" {
		t.Fatalf("preview shares memory with the task list")
	}
}

func TestPreviewClearedAfterSuccessfulDrop(t *testing.T) {
	d := NewDragController(scenarioTasks(), threeColumns(), BoardCallbacks{})
	drag(t, d, "1")
	d.PointerUp(ColumnTarget(StatusDone))
	if _, ok := d.Preview(); ok {
		t.Fatalf("expected preview to be cleared")
	}
}

func TestReleaseBeforeActivationDistanceIsClick(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	d.PointerDown("2", Point{X: 5, Y: 5})
	if d.PointerMove(Point{X: 8, Y: 9}) {
		t.Fatalf("movement of 5 units should not start a drag")
	}
	res := d.PointerUp(ColumnTarget(StatusDone))
	if res.Outcome != OutcomeClick {
		t.Fatalf("expected click, got %#v", res)
	}
	if len(rec.clicks) != 1 || rec.clicks[0] != "2" {
		t.Fatalf("expected click on 2, got %v", rec.clicks)
	}
	if len(rec.moves) != 0 {
		t.Fatalf("a click must not change status")
	}
}

func TestReadOnlyBoardComputesButDoesNothing(t *testing.T) {
	d := NewDragController(scenarioTasks(), threeColumns(), BoardCallbacks{})
	drag(t, d, "1")
	res := d.PointerUp(ColumnTarget(StatusDone))
	if res.Outcome != OutcomeMoved || res.To != StatusDone {
		t.Fatalf("expected the transition to be resolved, got %#v", res)
	}
	if d.RequestAdd(StatusTodo) {
		t.Fatalf("add should be a no-op without a callback")
	}
}

func TestOnlyOneGestureAtATime(t *testing.T) {
	d := NewDragController(scenarioTasks(), threeColumns(), BoardCallbacks{})
	drag(t, d, "1")
	if d.PointerDown("2", Point{}) {
		t.Fatalf("second grab accepted during an active drag")
	}
	p, _ := d.Preview()
	if p.ID != "1" {
		t.Fatalf("active payload replaced: %s", p.ID)
	}
}

func TestDropOnColumnMissingFromLayoutIsNoOp(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	drag(t, d, "1")
	res := d.PointerUp(ColumnTarget(StatusReview))
	if res.Outcome != OutcomeNoChange || len(rec.moves) != 0 {
		t.Fatalf("expected no-op for a column outside the layout, got %#v", res)
	}
}

func TestDropOnTaskWithoutColumnIsNoOp(t *testing.T) {
	tasks := append(scenarioTasks(), Task{ID: "4", Title: "four", Status: StatusReview})
	rec := &recorder{}
	d := NewDragController(tasks, threeColumns(), rec.callbacks())
	drag(t, d, "1")
	res := d.PointerUp(TaskTarget("4"))
	if res.Outcome != OutcomeNoChange || len(rec.moves) != 0 {
		t.Fatalf("expected no-op for a task outside the layout, got %#v", res)
	}

	got, changed := ResolveDrop(tasks, threeColumns(), tasks[0], TaskTarget("4"))
	if got != StatusTodo || changed {
		t.Fatalf("expected (todo, false), got (%s, %v)", got, changed)
	}
}

func TestTaskRemovedDuringDragCancels(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(scenarioTasks(), threeColumns(), rec.callbacks())
	drag(t, d, "1")
	d.SetTasks(scenarioTasks()[1:])
	res := d.PointerUp(ColumnTarget(StatusDone))
	if res.Outcome != OutcomeCancelled || len(rec.moves) != 0 {
		t.Fatalf("expected cancellation, got %#v", res)
	}
}

func TestRequestAddCallsBackForColumn(t *testing.T) {
	rec := &recorder{}
	d := NewDragController(nil, threeColumns(), rec.callbacks())
	if !d.RequestAdd(StatusDoing) {
		t.Fatalf("expected add to be accepted")
	}
	if d.RequestAdd(StatusReview) {
		t.Fatalf("add accepted for a status without a column")
	}
	if len(rec.adds) != 1 || rec.adds[0] != StatusDoing {
		t.Fatalf("unexpected adds: %v", rec.adds)
	}
}

func TestResolveDrop(t *testing.T) {
	tasks := scenarioTasks()
	dragged := tasks[0]
	cases := []struct {
		name    string
		target  DropTarget
		want    TaskStatus
		changed bool
	}{
		{"column", ColumnTarget(StatusDone), StatusDone, true},
		{"own column", ColumnTarget(StatusTodo), StatusTodo, false},
		{"task other column", TaskTarget("2"), StatusDoing, true},
		{"task same column", TaskTarget("3"), StatusTodo, false},
		{"itself", TaskTarget("1"), StatusTodo, false},
		{"unknown task", TaskTarget("42"), StatusTodo, false},
		{"unknown column", DropTarget{Kind: TargetColumn, ID: "archive"}, StatusTodo, false},
		{"none", NoTarget(), StatusTodo, false},
	}
	for _, tc := range cases {
		got, changed := ResolveDrop(tasks, nil, dragged, tc.target)
		if got != tc.want || changed != tc.changed {
			t.Fatalf("%s: expected (%s, %v), got (%s, %v)", tc.name, tc.want, tc.changed, got, changed)
		}
	}
}
