package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Area names the four holding locations a document file can occupy.
type Area string

const (
	AreaPending    Area = "pending"
	AreaProcessing Area = "processing"
	AreaCompleted  Area = "completed"
	AreaFailed     Area = "failed"
)

var Areas = []Area{AreaPending, AreaProcessing, AreaCompleted, AreaFailed}

var (
	// ErrConflict means the file was not present in the source area: another
	// actor already moved it. Callers treat this as "skip, already claimed".
	ErrConflict = errors.New("staging: file already claimed")

	// ErrInvalidArea marks a relocation request outside the fixed area set.
	ErrInvalidArea = errors.New("staging: invalid area")

	// ErrNotFound means the file is in none of the staging areas.
	ErrNotFound = errors.New("staging: file not found")
)

// Dirs maps each staging area onto a directory under a common root.
// Relocate is the single synchronization primitive of the engine: a rename
// either succeeds for exactly one caller or fails with ErrConflict, so no
// two workers can hold the same file in Processing.
type Dirs struct {
	root  string
	paths map[Area]string
}

func New(root string) (*Dirs, error) {
	if root == "" {
		return nil, fmt.Errorf("staging: root directory is required")
	}
	d := &Dirs{root: root, paths: make(map[Area]string, len(Areas))}
	for _, area := range Areas {
		path := filepath.Join(root, string(area))
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("staging: create %s area: %w", area, err)
		}
		d.paths[area] = path
	}
	return d, nil
}

func (d *Dirs) Root() string { return d.root }

// Path returns the location a file has (or would have) inside an area.
func (d *Dirs) Path(area Area, storedName string) string {
	return filepath.Join(d.paths[area], filepath.Base(storedName))
}

func (d *Dirs) valid(area Area) bool {
	_, ok := d.paths[area]
	return ok
}

// Relocate atomically moves storedName from one area to another. It never
// copies: the underlying rename guarantees at most one concurrent caller
// succeeds, the rest observe ErrConflict.
func (d *Dirs) Relocate(storedName string, from, to Area) (string, error) {
	if !d.valid(from) || !d.valid(to) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidArea, from, to)
	}
	src := d.Path(from, storedName)
	dst := d.Path(to, storedName)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s not in %s", ErrConflict, storedName, from)
		}
		return "", fmt.Errorf("staging: relocate %s %s -> %s: %w", storedName, from, to, err)
	}
	return dst, nil
}

// List returns the file names currently present in an area. The snapshot is
// approximate under concurrent relocations, which is all the monitor needs.
func (d *Dirs) List(area Area) ([]string, error) {
	if !d.valid(area) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArea, area)
	}
	entries, err := os.ReadDir(d.paths[area])
	if err != nil {
		return nil, fmt.Errorf("staging: list %s: %w", area, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Locate reports which area currently holds storedName. Used by the retry
// controller to resolve a relocation conflict after a crash mid-finalization.
func (d *Dirs) Locate(storedName string) (Area, error) {
	for _, area := range Areas {
		if _, err := os.Stat(d.Path(area, storedName)); err == nil {
			return area, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, storedName)
}

// Place copies content into an area from outside the staging tree. The file
// is written under a temp name and renamed so a concurrent List never sees
// a partial file. Used by ingest tooling, not by the engine itself.
func (d *Dirs) Place(area Area, storedName string, data []byte) (string, error) {
	if !d.valid(area) {
		return "", fmt.Errorf("%w: %s", ErrInvalidArea, area)
	}
	dst := d.Path(area, storedName)
	tmp, err := os.CreateTemp(d.paths[area], ".placing-*")
	if err != nil {
		return "", fmt.Errorf("staging: place %s: %w", storedName, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("staging: place %s: %w", storedName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("staging: place %s: %w", storedName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("staging: place %s: %w", storedName, err)
	}
	return dst, nil
}
