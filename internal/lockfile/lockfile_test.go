package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if want := "pid=" + strconv.Itoa(os.Getpid()) + "\n"; string(content) != want {
		t.Errorf("lock content = %q, want %q", content, want)
	}
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(dir)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected *HeldError, got %v", err)
	}
	if !strings.Contains(held.Holder, "running") {
		t.Errorf("holder should describe the running process, got %q", held.Holder)
	}
	if !strings.Contains(held.Error(), "another SalesPipe instance") {
		t.Errorf("unexpected message %q", held.Error())
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"pid=1234\n", 1234},
		{"host=x\npid=42\n", 42},
		{"pid=abc", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parsePID(tt.in); got != tt.want {
			t.Errorf("parsePID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
