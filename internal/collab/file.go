package collab

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileSurface shows a document as a plain file on disk. The selection is not
// part of the file and is kept in memory.
type FileSurface struct {
	path string

	mu        sync.Mutex
	selection [2]int
	last      string
	err       error
}

// NewFileSurface returns a surface over path. The file is created on the first
// SetState if it does not exist.
func NewFileSurface(path string) *FileSurface {
	return &FileSurface{path: path}
}

// GetState reads the file. If it cannot be read the last known text is
// returned and the error is kept for Err.
func (f *FileSurface) GetState() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read()
}

// SetState writes the file.
func (f *FileSurface) SetState(st State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.write(st)
}

// Propose writes next only if the file still holds base.
func (f *FileSurface) Propose(base, next State) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.read() != base {
		return false
	}

	f.write(next)

	return true
}

// Err returns the last error reading or writing the file, if any.
func (f *FileSurface) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

func (f *FileSurface) read() State {
	data, err := os.ReadFile(f.path)

	switch {
	case err == nil:
		f.last = string(data)
		f.err = nil
	case errors.Is(err, fs.ErrNotExist):
		f.last = ""
		f.err = nil
	default:
		f.err = fmt.Errorf("read %s: %w", f.path, err)
	}

	return clampState(State{Text: f.last, SelectionStart: f.selection[0], SelectionEnd: f.selection[1]})
}

// write replaces the file through a rename so readers never see it half
// written.
func (f *FileSurface) write(st State) {
	f.selection = [2]int{st.SelectionStart, st.SelectionEnd}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		f.err = fmt.Errorf("write %s: %w", f.path, err)

		return
	}

	_, err = tmp.WriteString(st.Text)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err == nil {
		err = os.Rename(tmp.Name(), f.path)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())
		f.err = fmt.Errorf("write %s: %w", f.path, err)

		return
	}

	f.last = st.Text
	f.err = nil
}
