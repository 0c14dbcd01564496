package rules

import (
	"errors"
	"fmt"
	"strings"
)

// MaxFieldPathLength is the longest field path accepted in a rule
const MaxFieldPathLength = 500

// AllowedPathPrefixes lists the input namespaces a rule may read from
var AllowedPathPrefixes = []string{
	"input.checklist",
	"input.questionnaire",
	"input.attachments",
	"input.fields",
}

// disallowedPathChars are rejected because field paths are interpolated into expressions
const disallowedPathChars = ";&|`$!{}<>"

// PathErrorKind classifies why a field path was rejected
type PathErrorKind string

const (
	TooLong          PathErrorKind = "TooLong"
	DisallowedPrefix PathErrorKind = "DisallowedPrefix"
	DisallowedChar   PathErrorKind = "DisallowedChar"
)

var (
	ErrTooLong          = errors.New("field path too long")
	ErrDisallowedPrefix = errors.New("field path prefix not allowed")
	ErrDisallowedChar   = errors.New("field path contains a disallowed character")
)

// FieldPathError reports a rejected field path. It unwraps to the sentinel of its Kind.
type FieldPathError struct {
	Path string
	Kind PathErrorKind
	Char rune
}

func (e *FieldPathError) Error() string {
	switch e.Kind {
	case TooLong:
		return fmt.Sprintf("%v: %d characters exceeds maximum of %d", ErrTooLong, len(e.Path), MaxFieldPathLength)
	case DisallowedChar:
		return fmt.Sprintf("%v: %q in %q", ErrDisallowedChar, e.Char, e.Path)
	default:
		return fmt.Sprintf("%v: %q (must start with one of %s)", ErrDisallowedPrefix, e.Path, strings.Join(AllowedPathPrefixes, ", "))
	}
}

func (e *FieldPathError) Unwrap() error {
	switch e.Kind {
	case TooLong:
		return ErrTooLong
	case DisallowedChar:
		return ErrDisallowedChar
	default:
		return ErrDisallowedPrefix
	}
}

// ValidateFieldPath checks a field path against the length limit, the character denylist and
// the allowed prefixes, in that order. It returns a *FieldPathError or nil.
func ValidateFieldPath(path string) error {
	if len(path) > MaxFieldPathLength {
		return &FieldPathError{Path: path, Kind: TooLong}
	}
	if i := strings.IndexAny(path, disallowedPathChars); i >= 0 {
		return &FieldPathError{Path: path, Kind: DisallowedChar, Char: rune(path[i])}
	}
	for _, prefix := range AllowedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return nil
		}
	}
	return &FieldPathError{Path: path, Kind: DisallowedPrefix}
}

// LeafKind is the scalar type of a built-in input property
type LeafKind int

const (
	LeafUnknown LeafKind = iota
	LeafBool
	LeafNumber
)

var leafKinds = map[string]LeafKind{
	"isCompleted":          LeafBool,
	"isRequired":           LeafBool,
	"hasAttachment":        LeafBool,
	"completedCount":       LeafNumber,
	"totalCount":           LeafNumber,
	"completionPercentage": LeafNumber,
	"fileCount":            LeafNumber,
	"totalSize":            LeafNumber,
	"totalScore":           LeafNumber,
}

// FieldLeafKind reports the type of the property a path ends in. Paths under input.fields
// hold author data and are always LeafUnknown.
func FieldLeafKind(path string) LeafKind {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "input.fields") {
		return LeafUnknown
	}
	// totalScore["q1"] is typed by its map name
	for strings.HasSuffix(path, "]") {
		i := strings.LastIndex(path, "[")
		if i < 0 {
			return LeafUnknown
		}
		path = path[:i]
	}
	leaf := path[strings.LastIndex(path, ".")+1:]
	return leafKinds[leaf]
}
