package roles

import (
	"strings"
	"sync/atomic"
)

// Assignments lists which chat users hold which role. Entries are either a
// bare user id, matched on any platform, or "platform:id".
type Assignments struct {
	Admins  []string
	Users   []string
	Viewers []string
	// Default applies to users not listed anywhere. Zero means RoleViewer.
	Default Role
}

type assignmentIndex struct {
	byKey    map[string]Role
	fallback Role
}

func buildIndex(a Assignments) *assignmentIndex {
	idx := &assignmentIndex{
		byKey:    make(map[string]Role),
		fallback: a.Default,
	}
	if !idx.fallback.Valid() {
		idx.fallback = RoleViewer
	}
	// Ascending order so the highest role wins for ids listed twice.
	add := func(ids []string, r Role) {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if prev, ok := idx.byKey[id]; !ok || r > prev {
				idx.byKey[id] = r
			}
		}
	}
	add(a.Viewers, RoleViewer)
	add(a.Users, RoleUser)
	add(a.Admins, RoleAdmin)
	return idx
}

// Directory resolves chat users to roles. It is safe for concurrent use and
// can be swapped wholesale with Replace when configuration reloads.
type Directory struct {
	idx atomic.Pointer[assignmentIndex]
}

// NewDirectory builds a directory from a.
func NewDirectory(a Assignments) *Directory {
	d := &Directory{}
	d.idx.Store(buildIndex(a))
	return d
}

// Replace atomically installs a new set of assignments.
func (d *Directory) Replace(a Assignments) {
	d.idx.Store(buildIndex(a))
}

// RoleFor returns the role of the user id on platform.
func (d *Directory) RoleFor(platform, userID string) Role {
	idx := d.idx.Load()
	if r, ok := idx.byKey[platform+":"+userID]; ok {
		return r
	}
	if r, ok := idx.byKey[userID]; ok {
		return r
	}
	return idx.fallback
}

// Resolve builds a User with its role filled in.
func (d *Directory) Resolve(platform, userID, name string) User {
	return User{
		ID:       userID,
		Name:     name,
		Platform: platform,
		Role:     d.RoleFor(platform, userID),
	}
}
