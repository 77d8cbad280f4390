package worktree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tmcore/internal/errors"
)

func TestValidateName(t *testing.T) {
	valid := []string{"a", "feature-1", "v1.2.3", "under_score", ".hidden", strings.Repeat("x", MaxNameLength)}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := map[string]string{
		"":                                   "empty",
		".":                                  "relative directory",
		"..":                                 "relative directory",
		strings.Repeat("x", MaxNameLength+1): "longer than",
		"a/b":                                "separator",
		`a\b`:                                "separator",
		"a\x00b":                             "NUL",
		"a..b":                               "traversal",
		"tab\there":                          "may only contain",
		"ünïcode":                            "may only contain",
	}
	for name, msg := range invalid {
		err := ValidateName(name)
		assert.ErrorIs(t, err, errors.ErrNameInvalid, "%q", name)
		assert.Contains(t, err.Error(), msg, "%q", name)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "cleaning", cleaning.String())
	assert.Equal(t, "cleaned", Cleaned.String())
}
