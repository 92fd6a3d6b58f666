package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("task")
	if !strings.HasPrefix(id, "task_") || len(id) != len("task_")+32 {
		t.Fatalf("unexpected id %q", id)
	}
	if bare := NewID(""); len(bare) != 32 || strings.Contains(bare, "_") {
		t.Fatalf("unexpected bare id %q", bare)
	}
	if NewID("task") == NewID("task") {
		t.Fatal("ids must be unique")
	}
}
