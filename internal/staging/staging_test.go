package staging

import (
	"errors"
	"os"
	"sync"
	"testing"
)

func newDirs(t *testing.T) *Dirs {
	t.Helper()
	dirs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dirs
}

func placeFile(t *testing.T, dirs *Dirs, area Area, name string) {
	t.Helper()
	if err := os.WriteFile(dirs.Path(area, name), []byte("content"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestNewCreatesAllAreas(t *testing.T) {
	dirs := newDirs(t)
	for _, area := range Areas {
		info, err := os.Stat(dirs.Path(area, ""))
		if err != nil {
			t.Fatalf("area %s missing: %v", area, err)
		}
		if !info.IsDir() {
			t.Fatalf("area %s is not a directory", area)
		}
	}
}

func TestRelocateMovesFile(t *testing.T) {
	dirs := newDirs(t)
	placeFile(t, dirs, AreaPending, "doc.pdf")

	dst, err := dirs.Relocate("doc.pdf", AreaPending, AreaProcessing)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if dst != dirs.Path(AreaProcessing, "doc.pdf") {
		t.Fatalf("unexpected destination %s", dst)
	}
	if _, err := os.Stat(dirs.Path(AreaPending, "doc.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("file still present in pending")
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("file not present in processing: %v", err)
	}
}

func TestRelocateMissingSourceIsConflict(t *testing.T) {
	dirs := newDirs(t)
	_, err := dirs.Relocate("ghost.pdf", AreaPending, AreaProcessing)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRelocateInvalidArea(t *testing.T) {
	dirs := newDirs(t)
	_, err := dirs.Relocate("doc.pdf", Area("archive"), AreaProcessing)
	if !errors.Is(err, ErrInvalidArea) {
		t.Fatalf("expected ErrInvalidArea, got %v", err)
	}
}

func TestConcurrentRelocateSingleWinner(t *testing.T) {
	dirs := newDirs(t)
	placeFile(t, dirs, AreaPending, "doc.pdf")

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)
	conflicts := make(chan error, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dirs.Relocate("doc.pdf", AreaPending, AreaProcessing)
			if err == nil {
				wins <- struct{}{}
				return
			}
			conflicts <- err
		}()
	}
	wg.Wait()
	close(wins)
	close(conflicts)

	if got := len(wins); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
	for err := range conflicts {
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("loser saw unexpected error: %v", err)
		}
	}
}

func TestListSkipsDirectoriesAndTempFiles(t *testing.T) {
	dirs := newDirs(t)
	placeFile(t, dirs, AreaPending, "b.pdf")
	placeFile(t, dirs, AreaPending, "a.pdf")
	placeFile(t, dirs, AreaPending, ".placing-123")
	if err := os.Mkdir(dirs.Path(AreaPending, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	names, err := dirs.List(AreaPending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "a.pdf" || names[1] != "b.pdf" {
		t.Fatalf("unexpected listing: %v", names)
	}
}

func TestLocate(t *testing.T) {
	dirs := newDirs(t)
	placeFile(t, dirs, AreaCompleted, "doc.pdf")

	area, err := dirs.Locate("doc.pdf")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if area != AreaCompleted {
		t.Fatalf("expected completed, got %s", area)
	}

	if _, err := dirs.Locate("ghost.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPlaceWritesAtomically(t *testing.T) {
	dirs := newDirs(t)
	dst, err := dirs.Place(AreaPending, "doc.pdf", []byte("payload"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read placed file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content %q", data)
	}

	names, err := dirs.List(AreaPending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "doc.pdf" {
		t.Fatalf("unexpected listing after place: %v", names)
	}
}
