package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestComponent(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Component("measure")
	logf("pass %d", 3)

	// a logger swapped after Component was created still receives the line
	var late []string
	SetLogger(func(format string, v ...interface{}) {
		late = append(late, fmt.Sprintf(format, v...))
	})
	logf("pass %d", 4)

	if len(lines) != 1 || lines[0] != "[measure] pass 3" {
		t.Errorf("lines = %q, want [\"[measure] pass 3\"]", lines)
	}
	if len(late) != 1 || late[0] != "[measure] pass 4" {
		t.Errorf("late = %q, want [\"[measure] pass 4\"]", late)
	}
}
