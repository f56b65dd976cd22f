package roles

import "sort"

// Baseline is the role required by commands missing from a Table.
const Baseline = RoleUser

// Table maps command names to the minimum role needed to run them.
// A Table is read-only once built.
type Table struct {
	required map[string]Role
	baseline Role
}

// TableOption customizes a Table.
type TableOption func(*Table)

// WithBaseline overrides the role required by commands absent from the table.
func WithBaseline(r Role) TableOption {
	return func(t *Table) {
		if r.Valid() {
			t.baseline = r
		}
	}
}

// NewTable builds a table from the given entries. The map is copied.
func NewTable(entries map[string]Role, opts ...TableOption) *Table {
	t := &Table{
		required: make(map[string]Role, len(entries)),
		baseline: Baseline,
	}
	for name, r := range entries {
		t.required[name] = r
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DefaultTable returns the permission table for the built-in commands.
func DefaultTable() *Table {
	return NewTable(map[string]Role{
		"help":     RoleViewer,
		"whoami":   RoleViewer,
		"status":   RoleViewer,
		"ask":      RoleUser,
		"new":      RoleUser,
		"sessions": RoleAdmin,
		"reset":    RoleAdmin,
	})
}

// RequiredRole returns the role needed to run command. Commands without an
// entry need the table's baseline role.
func (t *Table) RequiredRole(command string) Role {
	if r, ok := t.required[command]; ok {
		return r
	}
	return t.baseline
}

// CheckPermission reports whether user may run command.
func (t *Table) CheckPermission(user User, command string) bool {
	return HasRole(user.Role, t.RequiredRole(command))
}

// Entry is one row of a Table, for display.
type Entry struct {
	Command string
	Role    Role
}

// Entries returns the explicit table rows sorted by command name.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.required))
	for name, r := range t.required {
		out = append(out, Entry{Command: name, Role: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}
