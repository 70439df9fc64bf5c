package apperr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kindName string

func (k kindName) String() string { return string(k) }

func TestErrorFormatting(t *testing.T) {
	err := StaleReference(kindName("mail"), 3)
	assert.Equal(t, "[STALE_REFERENCE] mail #3 is no longer valid, list again", err.Error())

	wrapped := ProviderUnavailable(io.EOF, "list %s", "INBOX")
	assert.Equal(t, "[PROVIDER_UNAVAILABLE] list INBOX: EOF", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.EOF)
}

func TestCodeThroughWrapping(t *testing.T) {
	base := NotFound("message %s", "imap:1:2:INBOX")
	err := fmt.Errorf("detail: %w", base)

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, code)
	assert.True(t, IsCode(err, CodeNotFound))
	assert.False(t, IsCode(err, CodeStaleReference))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStaleReference)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}
