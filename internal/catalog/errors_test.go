package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

type plainNetError struct{}

func (plainNetError) Error() string   { return "connection refused" }
func (plainNetError) Timeout() bool   { return false }
func (plainNetError) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"canceled", context.Canceled, ErrAborted},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"wrapped canceled", fmt.Errorf("visit: %w", context.Canceled), ErrAborted},
		{"net timeout", timeoutNetError{}, ErrTimeout},
		{"net refused", plainNetError{}, ErrNavigation},
		{"init", NewInitError("bad page size", nil), ErrInitialization},
		{"wrapped init", fmt.Errorf("stage: %w", NewInitError("bad range", nil)), ErrInitialization},
		{"unknown", errors.New("boom"), ErrGeneric},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestKindOf_PrefersFetchError(t *testing.T) {
	t.Parallel()

	inner := NewFetchError(ErrExtraction, 4, 2, errors.New("no items found"))
	wrapped := fmt.Errorf("list page: %w", inner)

	require.Equal(t, ErrExtraction, KindOf(wrapped))
	require.Equal(t, ErrGeneric, KindOf(errors.New("bare")))

	var fe *FetchError
	require.True(t, errors.As(wrapped, &fe))
	require.Equal(t, 4, fe.SitePage)
	require.Equal(t, 2, fe.Attempt)
}

func TestInitError_Chain(t *testing.T) {
	t.Parallel()

	cause := errors.New("totals unavailable")
	err := NewInitError("resolve totals", cause)

	require.True(t, IsInitError(err))
	require.True(t, IsInitError(fmt.Errorf("stage: %w", err)))
	require.ErrorIs(t, err, cause)
	require.False(t, IsInitError(cause))
	require.Contains(t, err.Error(), "resolve totals")
}
