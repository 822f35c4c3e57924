package rulebook

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure so the HTTP layer can map it to a
// status code deterministically. Anything that is not an *Error is an
// internal fault.
type Kind int

const (
	// KindValidation covers malformed expressions, undecodable bodies
	// and unsupported content types.
	KindValidation Kind = iota
	// KindNotFound covers references to absent rule or rulebook ids.
	KindNotFound
	// KindConflict covers duplicate ids on create and deletion of a
	// rule that is still referenced by a rulebook.
	KindConflict
)

// Error is the closed set of tagged business failures returned by the
// Store, the compiler and the when-clause validator.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// NotFound reports an absent entity, naming the missing id.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s '%s' not found", entity, id)}
}

// AlreadyExists reports a duplicate id on create.
func AlreadyExists(entity, id string) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf("%s '%s' already exists", entity, id)}
}

// StillReferenced reports a rule delete blocked by rulebook membership.
func StillReferenced(id string) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf("rule '%s' is still referenced by a rulebook", id)}
}

// Invalid reports a validation failure.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err and whether err is a tagged business
// failure at all.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsNotFound reports whether err is a tagged not-found failure.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

// IsConflict reports whether err is a tagged conflict failure.
func IsConflict(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindConflict
}

// IsValidation reports whether err is a tagged validation failure.
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}
