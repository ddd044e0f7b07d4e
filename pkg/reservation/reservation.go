// Package reservation answers "may I edit this file" questions against the
// reservations peers advertise on their registrations. The core only
// reports conflicts; callers decide policy (reads are never blocked,
// writes surface the blocking agent).
package reservation

import (
	"strings"

	"pimsg/pkg/protocol"
	"pimsg/pkg/registry"
)

// Matches reports whether pattern covers path: exact equality, or the
// pattern names a directory that is a strict prefix component of path.
// "src" matches "src/main.go" but not "srcdir/main.go".
func Matches(pattern, path string) bool {
	pattern = strings.TrimSuffix(pattern, "/")
	path = strings.TrimSuffix(path, "/")
	if pattern == "" || path == "" {
		return false
	}
	if pattern == path {
		return true
	}
	return strings.HasPrefix(path, pattern+"/")
}

// Checker scans peers for conflicting reservations.
type Checker struct {
	reg *registry.Registry
}

// NewChecker creates a Checker over the given registry.
func NewChecker(reg *registry.Registry) *Checker {
	return &Checker{reg: reg}
}

// CheckConflict returns every peer reservation matching path, excluding the
// caller's own. A nil error with no conflicts means the path is clear.
func (c *Checker) CheckConflict(path string) ([]protocol.ConflictInfo, error) {
	peers, err := c.reg.ListActiveAgents(true)
	if err != nil {
		return nil, err
	}
	var conflicts []protocol.ConflictInfo
	for _, peer := range peers {
		for _, res := range peer.Reservations {
			if Matches(res.Pattern, path) {
				conflicts = append(conflicts, protocol.ConflictInfo{
					Agent:   peer.Name,
					Pattern: res.Pattern,
					Reason:  res.Reason,
					Cwd:     peer.Cwd,
					Branch:  peer.GitBranch,
				})
			}
		}
	}
	return conflicts, nil
}

// CheckWrite is CheckConflict shaped for write/edit probes: it returns a
// *protocol.ConflictError when anything matches, nil when the path is clear.
func (c *Checker) CheckWrite(path string) error {
	conflicts, err := c.CheckConflict(path)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &protocol.ConflictError{Path: path, Conflicts: conflicts}
	}
	return nil
}
