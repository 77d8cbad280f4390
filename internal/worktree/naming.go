package worktree

import (
	"regexp"
	"strings"

	"tmcore/internal/errors"
)

// MaxNameLength bounds a worktree name.
const MaxNameLength = 100

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateName accepts a single directory name made of letters, digits,
// dots, dashes and underscores.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.NameInvalid(name, "name is empty")
	case name == "." || name == "..":
		return errors.NameInvalid(name, "name is a relative directory reference")
	case len(name) > MaxNameLength:
		return errors.NameInvalid(name, "name is longer than 100 characters")
	case strings.ContainsAny(name, "/\\"):
		return errors.NameInvalid(name, "name contains a path separator")
	case strings.ContainsRune(name, 0):
		return errors.NameInvalid(name, "name contains a NUL byte")
	case strings.Contains(name, ".."):
		return errors.NameInvalid(name, "name contains a traversal sequence")
	case !namePattern.MatchString(name):
		return errors.NameInvalid(name, "name may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}
