package errkind

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfClassifiedError(t *testing.T) {
	err := New(Conflict, http.StatusConflict, errors.New("boom"))
	require.Equal(t, Conflict, KindOf(err))
}

func TestKindOfUnclassifiedErrorDefaultsToValidation(t *testing.T) {
	require.Equal(t, Validation, KindOf(errors.New("plain")))
}

func TestKindOfWrappedClassifiedError(t *testing.T) {
	base := New(NetworkTransient, 0, errors.New("timeout"))
	wrapped := errors.New("wrapper")
	_ = wrapped
	wrappedErr := &wrapError{msg: "context", err: base}
	require.Equal(t, NetworkTransient, KindOf(wrappedErr))
}

type wrapError struct {
	msg string
	err error
}

func (w *wrapError) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapError) Unwrap() error { return w.err }

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(New(NetworkTransient, 0, errors.New("x"))))
	require.True(t, IsTransient(New(Server5xx, 500, errors.New("x"))))
	require.False(t, IsTransient(New(Validation, 400, errors.New("x"))))
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{500, Server5xx},
		{503, Server5xx},
		{401, AuthExpired},
		{403, AuthExpired},
		{404, NotFound},
		{409, Conflict},
		{429, NetworkTransient},
		{422, Validation},
		{200, Validation},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ClassifyHTTPStatus(c.status, ""), "status %d", c.status)
	}
}

func TestErrorStringIncludesStatusCodeWhenPresent(t *testing.T) {
	err := New(NotFound, 404, errors.New("missing"))
	require.Contains(t, err.Error(), "http 404")

	noStatus := New(InvariantViolation, 0, errors.New("bug"))
	require.NotContains(t, noStatus.Error(), "http 0")
}
