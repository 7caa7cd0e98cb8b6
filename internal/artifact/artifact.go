// Package artifact persists files a diagnostic produces and hands back the
// locator recorded in file records.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store creates named artifacts.
type Store interface {
	// Create opens name for writing and returns its locator. The artifact is
	// only complete once the writer has been closed without error.
	Create(name string) (io.WriteCloser, string, error)
}

// PersistError reports that an artifact could not be written.
type PersistError struct {
	Name string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist artifact %q: %v", e.Name, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsPersistError reports whether err is, or wraps, a PersistError.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// WriteFile creates name in s, writes data and closes it. Any failure is
// returned as *PersistError.
func WriteFile(s Store, name string, data []byte) (string, error) {
	w, uri, err := s.Create(name)
	if err != nil {
		return "", &PersistError{Name: name, Err: err}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", &PersistError{Name: name, Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &PersistError{Name: name, Err: err}
	}
	return uri, nil
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

// Dir stores artifacts as files in a directory and returns file:// URIs.
type Dir struct {
	Path string
}

func (d Dir) Create(name string) (io.WriteCloser, string, error) {
	if err := checkName(name); err != nil {
		return nil, "", err
	}
	root := d.Path
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(filepath.Join(root, name))
	if err != nil {
		return nil, "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return nil, "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return f, u.String(), nil
}

// Memory keeps artifacts in memory. The zero value is ready to use.
//
// Thread-safety: Memory is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

type memoryWriter struct {
	m    *Memory
	name string
	buf  bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memoryWriter) Close() error {
	w.m.mu.Lock()
	if w.m.files == nil {
		w.m.files = make(map[string][]byte)
	}
	w.m.files[w.name] = bytes.Clone(w.buf.Bytes())
	w.m.mu.Unlock()
	return nil
}

func (m *Memory) Create(name string) (io.WriteCloser, string, error) {
	if err := checkName(name); err != nil {
		return nil, "", err
	}
	return &memoryWriter{m: m, name: name}, "mem://" + name, nil
}

// Get returns a closed artifact's contents.
func (m *Memory) Get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// Names lists stored artifacts in sorted order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Failing refuses every artifact.
type Failing struct {
	Err error
}

// ErrRefused is the default Failing error.
var ErrRefused = errors.New("artifact store refused write")

func (f Failing) Create(string) (io.WriteCloser, string, error) {
	if f.Err != nil {
		return nil, "", f.Err
	}
	return nil, "", ErrRefused
}
