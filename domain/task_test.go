package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalOmitsEmptyOptionalFields(t *testing.T) {
	task := Task{ID: "t1", Title: "Title", Type: TypeCode, Status: StatusTodo, Priority: PriorityLow}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), "\"status\":\"todo\"") {
		t.Fatalf("expected status field to be present, got %s", payload)
	}
	for _, field := range []string{"dueDate", "estimatedHours", "tags", "projectId"} {
		if strings.Contains(string(payload), field) {
			t.Fatalf("expected %s to be omitted, got %s", field, payload)
		}
	}
}

func TestParseTaskStatus(t *testing.T) {
	if s, err := ParseTaskStatus(" Doing "); err != nil || s != StatusDoing {
		t.Fatalf("expected doing, got %q %v", s, err)
	}
	if _, err := ParseTaskStatus("blocked"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if NormalizeStatus("") != StatusTodo || NormalizeStatus("blocked") != StatusTodo {
		t.Fatalf("unknown statuses should normalise to todo")
	}
}

func TestParsePriorityAcceptsMedium(t *testing.T) {
	if p, err := ParsePriority("medium"); err != nil || p != PriorityMed {
		t.Fatalf("expected med, got %q %v", p, err)
	}
}

func TestNewIDIsTimeOrdered(t *testing.T) {
	a := NewID()
	b := NewID()
	if a >= b {
		t.Fatalf("expected increasing ids, got %s then %s", a, b)
	}
}
