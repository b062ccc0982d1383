package roles

import (
	"fmt"
	"strings"
)

// ErrorKind classifies user-correctable setup failures.
type ErrorKind string

const (
	KindUnknownRoleID     ErrorKind = "UnknownRoleId"
	KindUnknownRoleName   ErrorKind = "UnknownRoleName"
	KindAmbiguousRoleName ErrorKind = "AmbiguousRoleName"
	KindPaletteExhausted  ErrorKind = "PaletteExhausted"
)

// Error reports why a reference (or the whole reference list) could not be
// turned into bindings.
type Error struct {
	Kind ErrorKind
	// Ref is the offending identifier as written; empty for PaletteExhausted.
	Ref string
	// Candidates lists the colliding role ids for AmbiguousRoleName.
	Candidates []string
	// Requested and Available are set for PaletteExhausted.
	Requested int
	Available int
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAmbiguousRoleName:
		return fmt.Sprintf("%s(%q: matches roles %s)", e.Kind, e.Ref, strings.Join(e.Candidates, ", "))
	case KindPaletteExhausted:
		return fmt.Sprintf("%s(%d roles requested, at most %d allowed)", e.Kind, e.Requested, e.Available)
	default:
		return fmt.Sprintf("%s(%q)", e.Kind, e.Ref)
	}
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: KindUnknownRoleName}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Ref == "" || t.Ref == e.Ref)
}
