package dap

import (
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/ctagard/dap-engine/internal/errors"
	"github.com/ctagard/dap-engine/pkg/types"
)

// breakpointSender is the slice of the client the store needs. The DAP
// setBreakpoints request replaces the complete set for one source, so
// this is the only call the store ever makes.
type breakpointSender interface {
	SetBreakpoints(source dap.Source, bps []dap.SourceBreakpoint, timeout time.Duration) ([]dap.Breakpoint, error)
}

// BreakpointStore tracks the breakpoints of one session, keyed by
// (absolute file path, line), and mirrors each file's full ordered set
// to the adapter on every mutation.
//
// The wire protocol cannot express incremental updates: every
// setBreakpoints call replaces the file's whole set. Two concurrent
// mutations of the same file would therefore clobber each other unless
// the second one computes its "current set" after the first one's send
// completes. The per-file lock enforces exactly that.
type BreakpointStore struct {
	sender  breakpointSender
	timeout time.Duration

	mu    sync.Mutex
	files map[string]*fileBreakpoints
}

// fileBreakpoints is one file's ordered set plus its mutation lock.
type fileBreakpoints struct {
	mu   sync.Mutex
	list []types.Breakpoint
}

// NewBreakpointStore creates an empty store that syncs through sender.
func NewBreakpointStore(sender breakpointSender, timeout time.Duration) *BreakpointStore {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &BreakpointStore{
		sender:  sender,
		timeout: timeout,
		files:   make(map[string]*fileBreakpoints),
	}
}

// fileEntry returns the entry for path, creating it if needed.
func (s *BreakpointStore) fileEntry(path string) *fileBreakpoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.files[path]
	if !ok {
		fb = &fileBreakpoints{}
		s.files[path] = fb
	}
	return fb
}

// normalize resolves a source path to an absolute, cleaned form so that
// the same file always maps to the same key.
func normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Set upserts the breakpoint at (file, line) with the given condition
// and re-sends the file's entire set. Setting an existing location
// replaces its condition; it never duplicates the entry. The returned
// breakpoint carries the adapter's verification result.
func (s *BreakpointStore) Set(file string, line int, condition string) (types.Breakpoint, error) {
	path, err := normalize(file)
	if err != nil {
		return types.Breakpoint{}, errors.NotFound("file", file)
	}

	fb := s.fileEntry(path)
	fb.mu.Lock()
	defer fb.mu.Unlock()

	prev := append([]types.Breakpoint(nil), fb.list...)

	updated := false
	for i := range fb.list {
		if fb.list[i].Line == line {
			fb.list[i].Condition = condition
			updated = true
			break
		}
	}
	if !updated {
		fb.list = append(fb.list, types.Breakpoint{Path: path, Line: line, Condition: condition})
	}

	if err := s.syncLocked(path, fb); err != nil {
		// The local set must keep mirroring what the adapter last
		// acknowledged.
		fb.list = prev
		return types.Breakpoint{}, err
	}

	for _, bp := range fb.list {
		if bp.Line == line {
			return bp, nil
		}
	}
	// The adapter moved the breakpoint to another line; report the set
	// as applied with the requested location.
	return types.Breakpoint{Path: path, Line: line, Condition: condition}, nil
}

// Remove drops the breakpoint at (file, line) and re-sends the file's
// remaining set. Removing an unknown location is NOT_FOUND and leaves
// the store and the adapter untouched.
func (s *BreakpointStore) Remove(file string, line int) error {
	path, err := normalize(file)
	if err != nil {
		return errors.NotFound("file", file)
	}

	fb := s.fileEntry(path)
	fb.mu.Lock()
	defer fb.mu.Unlock()

	idx := -1
	for i := range fb.list {
		if fb.list[i].Line == line {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.NotFound("breakpoint", breakpointKey(path, line))
	}

	removed := fb.list[idx]
	fb.list = append(fb.list[:idx], fb.list[idx+1:]...)

	if err := s.syncLocked(path, fb); err != nil {
		// Restore the local set: it must keep mirroring what the
		// adapter last acknowledged.
		fb.list = append(fb.list[:idx], append([]types.Breakpoint{removed}, fb.list[idx:]...)...)
		return err
	}
	return nil
}

// RemoveAll clears every breakpoint present when it is called, sending
// one empty set per file that currently has any. A file added by a
// concurrent Set after the snapshot keeps its breakpoints; each file's
// entry is emptied only under its own lock so the local set never
// stops mirroring what the adapter last acknowledged.
func (s *BreakpointStore) RemoveAll() error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.files))
	for path, fb := range s.files {
		if fb != nil {
			paths = append(paths, path)
		}
	}
	s.mu.Unlock()
	sort.Strings(paths)

	for _, path := range paths {
		fb := s.fileEntry(path)
		fb.mu.Lock()
		if len(fb.list) == 0 {
			fb.mu.Unlock()
			continue
		}
		saved := fb.list
		fb.list = nil
		if err := s.syncLocked(path, fb); err != nil {
			fb.list = saved
			fb.mu.Unlock()
			return err
		}
		fb.mu.Unlock()
	}
	return nil
}

// List returns a snapshot of every file's ordered breakpoints.
func (s *BreakpointStore) List() map[string][]types.Breakpoint {
	s.mu.Lock()
	files := make(map[string]*fileBreakpoints, len(s.files))
	for path, fb := range s.files {
		files[path] = fb
	}
	s.mu.Unlock()

	out := make(map[string][]types.Breakpoint)
	for path, fb := range files {
		fb.mu.Lock()
		if len(fb.list) > 0 {
			out[path] = append([]types.Breakpoint(nil), fb.list...)
		}
		fb.mu.Unlock()
	}
	return out
}

// syncLocked transmits the file's entire current set and folds the
// adapter's answer back into the local entries, matched positionally to
// the sent order. Caller holds fb.mu.
func (s *BreakpointStore) syncLocked(path string, fb *fileBreakpoints) error {
	wire := make([]dap.SourceBreakpoint, len(fb.list))
	for i, bp := range fb.list {
		wire[i] = dap.SourceBreakpoint{Line: bp.Line, Condition: bp.Condition}
	}

	acked, err := s.sender.SetBreakpoints(dap.Source{Path: path}, wire, s.timeout)
	if err != nil {
		return err
	}

	for i := range fb.list {
		if i >= len(acked) {
			break
		}
		fb.list[i].Verified = acked[i].Verified
		fb.list[i].AdapterID = acked[i].Id
		fb.list[i].Message = acked[i].Message
	}
	return nil
}

func breakpointKey(path string, line int) string {
	return path + ":" + strconv.Itoa(line)
}
