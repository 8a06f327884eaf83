package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	baseError := errors.New("test error")
	err := &Error{
		Err:  baseError,
		Type: ErrorTypePrivate,
	}
	assert.Equal(t, err.Error(), baseError.Error())
	assert.True(t, err.IsType(ErrorTypePrivate))
	assert.False(t, err.IsType(ErrorTypePublic))

	assert.Equal(t, err.SetType(ErrorTypePublic), err)
	assert.Equal(t, ErrorTypePublic, err.Type)

	assert.Equal(t, err.SetMeta("some data"), err)
	assert.Equal(t, "some data", err.Meta)
	assert.True(t, errors.Is(err, baseError))
}

func TestHTTPErrorStatus(t *testing.T) {
	he := NewHTTP(404, "no such page")
	status, ok := StatusCode(he)
	assert.True(t, ok)
	assert.Equal(t, 404, status)
	assert.False(t, MustClose(he))

	wrapped := fmt.Errorf("handler: %w", NewHTTPClose(413, ErrBodyTooLarge))
	status, ok = StatusCode(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 413, status)
	assert.True(t, MustClose(wrapped))
	assert.True(t, Is(wrapped, ErrBodyTooLarge))

	_, ok = StatusCode(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, "http status 500", (&HTTPError{Status: 500}).Error())
}

func TestErrorChain(t *testing.T) {
	c := ErrorChain{
		NewPublic("first"),
		NewPrivate("second").SetMeta("m"),
	}
	assert.Equal(t, []string{"first", "second"}, c.Errors())
	assert.Equal(t, "second", c.Last().Error())
	assert.Equal(t, "Error #01: first\nError #02: second\n     Meta: m\n", c.String())

	var empty ErrorChain
	assert.Nil(t, empty.Last())
	assert.Nil(t, empty.Errors())
	assert.Equal(t, "", empty.String())
}
