// Package breakpoints holds the set of line breakpoints requested during a
// conversation. The registry outlives debug sessions: every new session
// replays a snapshot of it before accepting commands.
package breakpoints

import (
	"strconv"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/ctagard/lldb-agent/internal/errors"
	"github.com/ctagard/lldb-agent/pkg/types"
)

// Registry stores breakpoints in insertion order, keyed by id.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	entries     *linkedhashmap.Map // int -> types.Breakpoint
	nextID      int
	defaultFile string
}

// New creates an empty registry. Breakpoints added without an explicit file
// are attributed to defaultFile.
func New(defaultFile string) *Registry {
	return &Registry{
		entries:     linkedhashmap.New(),
		nextID:      1,
		defaultFile: defaultFile,
	}
}

// Add records a breakpoint at line in the default file
func (r *Registry) Add(line int) (types.Breakpoint, error) {
	return r.AddInFile(r.defaultFile, line)
}

// AddInFile records a breakpoint at line in file. Lines must be strictly positive.
func (r *Registry) AddInFile(file string, line int) (types.Breakpoint, error) {
	if line <= 0 {
		return types.Breakpoint{}, errors.InvalidArgument("line", line, "a positive integer line number")
	}
	if file == "" {
		file = r.defaultFile
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bp := types.Breakpoint{ID: r.nextID, Line: line, File: file}
	r.nextID++
	r.entries.Put(bp.ID, bp)
	return bp, nil
}

// AddFromString parses a line number typed by the operator and records it
func (r *Registry) AddFromString(s string) (types.Breakpoint, error) {
	trimmed := strings.TrimSpace(s)
	line, err := strconv.Atoi(trimmed)
	if err != nil {
		return types.Breakpoint{}, errors.InvalidArgument("line", trimmed, "a positive integer line number").WithCause(err)
	}
	return r.Add(line)
}

// List returns every breakpoint in insertion order
func (r *Registry) List() []types.Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []types.Breakpoint {
	values := r.entries.Values()
	out := make([]types.Breakpoint, 0, len(values))
	for _, v := range values {
		out = append(out, v.(types.Breakpoint))
	}
	return out
}

// Len returns the number of recorded breakpoints
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Size()
}

// Snapshot returns an immutable copy of the registry contents.
// Breakpoints added afterwards are not visible through it.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{items: r.listLocked()}
}

// Snapshot is a point-in-time, read-only view of a Registry
type Snapshot struct {
	items []types.Breakpoint
}

// NewSnapshot builds a snapshot from an explicit list
func NewSnapshot(bps ...types.Breakpoint) Snapshot {
	return Snapshot{items: append([]types.Breakpoint(nil), bps...)}
}

// Breakpoints returns a fresh copy of the snapshot contents in insertion order
func (s Snapshot) Breakpoints() []types.Breakpoint {
	return append([]types.Breakpoint(nil), s.items...)
}

// Len returns the number of breakpoints in the snapshot
func (s Snapshot) Len() int {
	return len(s.items)
}
