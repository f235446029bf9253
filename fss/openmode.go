// Package fss implements the file-system switch (spec §4.6, C6): the
// file-handle table, open-mode compatibility enforcement, and routing of
// operations to registered file-system implementations by type tag.
package fss

// OpenMode is the access mode requested or currently held on a file handle.
type OpenMode int

const (
	Exclusive OpenMode = iota
	SharedReadOnly
	Read
	Write
)

// compat[new][held] reports whether a new open in mode `new` is permitted
// while an existing open in mode `held` is outstanding (spec §4.6's matrix).
var compat = [4][4]bool{
	Exclusive:      {false, false, false, false},
	SharedReadOnly: {false, true, true, false},
	Read:           {false, true, true, true},
	Write:          {false, false, true, true},
}

// Compatible reports whether newMode may be opened while heldMode is held.
func Compatible(newMode, heldMode OpenMode) bool {
	return compat[newMode][heldMode]
}

func (m OpenMode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case SharedReadOnly:
		return "shared-ro"
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}
