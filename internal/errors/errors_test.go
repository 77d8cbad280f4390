package errors

import (
	"context"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByType(t *testing.T) {
	err := InvalidPath("../etc", "escapes root")

	assert.True(t, Is(err, ErrInvalidPath))
	assert.False(t, Is(err, ErrNotFound))

	wrapped := fmt.Errorf("staging: %w", err)
	assert.True(t, Is(wrapped, ErrInvalidPath))
	assert.Equal(t, ErrorTypeInvalidPath, TypeOf(wrapped))
}

func TestPathUnsafeKeepsCause(t *testing.T) {
	cause := InvalidPath("../x", "escapes root")
	err := PathUnsafe("../x", cause)

	assert.True(t, Is(err, ErrPathUnsafe))
	assert.True(t, Is(err, ErrInvalidPath))
	assert.Equal(t, ErrorTypePathUnsafe, TypeOf(err))
}

func TestErrorMessage(t *testing.T) {
	err := Unreadable("a.txt", fs.ErrPermission)
	assert.Equal(t, "a.txt: content cannot be read: permission denied", err.Error())
	assert.True(t, Is(err, fs.ErrPermission))

	assert.Equal(t, "REFERENCE_INVALID", (&Error{Type: ErrorTypeReferenceInvalid}).Error())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, CodeInput, ExitCode(NameInvalid("a/b", "contains separator")))
	assert.Equal(t, CodeFailure, ExitCode(IO("x", "remove", fs.ErrClosed)))
	assert.Equal(t, CodeFailure, ExitCode(New("plain")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(New("plain")))
}

func TestCanceled(t *testing.T) {
	err := fmt.Errorf("staging: %w", Canceled(context.Canceled))

	assert.True(t, Is(err, ErrCanceled))
	assert.True(t, Is(err, context.Canceled))
	assert.Equal(t, ErrorTypeCanceled, TypeOf(err))
	assert.Equal(t, CodeFailure, ExitCode(err))
	assert.Equal(t, "operation canceled: context canceled", Canceled(context.Canceled).Error())
}
