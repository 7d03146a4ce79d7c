package testlist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
)

const (
	// FileSuffix is appended to a test list id to form its file name.
	FileSuffix = ".test_list.json"
	// ActiveMarker is the file naming the entry test list.
	ActiveMarker = "ACTIVE"
	// DefaultActiveID is used when no ACTIVE marker exists.
	DefaultActiveID = "main"
)

// LoadError wraps a failure to load a single test list
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader reads test-list documents from a public directory and an optional
// private overlay. A document in the private directory shadows a public
// document with the same id.
type Loader struct {
	PublicDir  string
	PrivateDir string
}

// NewLoader creates a Loader. privateDir may be empty.
func NewLoader(publicDir, privateDir string) *Loader {
	return &Loader{PublicDir: publicDir, PrivateDir: privateDir}
}

// dirs returns the search directories, highest precedence first.
func (l *Loader) dirs() []string {
	var out []string
	if l.PrivateDir != "" {
		out = append(out, l.PrivateDir)
	}
	if l.PublicDir != "" {
		out = append(out, l.PublicDir)
	}
	return out
}

// Path returns the file that provides test list id.
func (l *Loader) Path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid test list id %q", id)
	}
	for _, dir := range l.dirs() {
		p := filepath.Join(dir, id+FileSuffix)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", &LoadError{ID: id, Err: os.ErrNotExist}
}

// Load reads and parses one document. Its inherit list is not followed.
func (l *Loader) Load(id string) (*Document, error) {
	path, err := l.Path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //#nosec G304 -- path built from configured test list dirs
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}

	doc, err := ParseDocument(id, data)
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	doc.Path = path
	doc.ModTime = info.ModTime()

	logger.Debug("Loaded test list document %s from %s", id, path)
	return doc, nil
}

// ModTime returns the modification time of the file providing id.
func (l *Loader) ModTime(id string) (time.Time, error) {
	path, err := l.Path(id)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// FindIDs lists every test list id available in either directory, sorted.
func (l *Loader) FindIDs() ([]string, error) {
	seen := make(map[string]bool)
	for _, dir := range l.dirs() {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+FileSuffix))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			seen[strings.TrimSuffix(filepath.Base(m), FileSuffix)] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ActiveID reads the ACTIVE marker. The private marker wins; without any
// marker DefaultActiveID is returned.
func (l *Loader) ActiveID() (string, error) {
	for _, dir := range l.dirs() {
		data, err := os.ReadFile(filepath.Join(dir, ActiveMarker)) //#nosec G304 -- fixed marker file name
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return DefaultActiveID, nil
}

// SetActiveID writes the ACTIVE marker into the highest precedence directory.
func (l *Loader) SetActiveID(id string) error {
	if _, err := l.Path(id); err != nil {
		return err
	}
	dirs := l.dirs()
	if len(dirs) == 0 {
		return fmt.Errorf("no test list directory configured")
	}
	return os.WriteFile(filepath.Join(dirs[0], ActiveMarker), []byte(id+"\n"), 0644)
}

// Watched returns the directories a watcher should observe.
func (l *Loader) Watched() []string {
	return l.dirs()
}

// NotFound reports whether err means a test list file does not exist.
func NotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// wrapLoad attaches the test list id to structural errors.
func wrapLoad(id string, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return &LoadError{ID: id, Err: err}
	}
	return &LoadError{ID: id, Err: core.ErrTestList.WithCause(err)}
}
