package backend

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtgateway/internal/pkg/errs"
)

func TestResultStreamReleasesOnce(t *testing.T) {
	released := 0
	calls := 0
	s := newResultStream(func() (StreamResult, error) {
		calls++
		if calls > 2 {
			return StreamResult{}, io.EOF
		}
		return StreamResult{SequenceNumber: calls}, nil
	}, func() { released++ })

	results, err := s.Collect()
	require.NoError(t, err)
	assert.Len(t, results, 2)

	s.Close()
	s.Close()
	assert.Equal(t, 1, released)
	assert.False(t, s.Next())
}

func TestResultStreamYieldsFailureLast(t *testing.T) {
	boom := &Error{Kind: KindBackendUnavailable, Service: ServiceB, Op: methodServerStream, Detail: "reset"}
	n := 0
	s := newResultStream(func() (StreamResult, error) {
		n++
		if n == 2 {
			return StreamResult{}, boom
		}
		return StreamResult{SequenceNumber: n}, nil
	}, nil)

	var got []int
	var last error
	for r, err := range s.All() {
		if err != nil {
			last = err
			continue
		}
		got = append(got, r.SequenceNumber)
	}

	assert.Equal(t, []int{1}, got)
	assert.ErrorIs(t, last, boom)
	assert.ErrorIs(t, s.Err(), boom)
}

func TestErrorCodes(t *testing.T) {
	cases := map[Kind]int{
		KindTimeout:            errs.ErrBackendTimeout,
		KindBackendUnavailable: errs.ErrBackendUnavailable,
		KindInternal:           errs.ErrUnknown,
	}
	for kind, code := range cases {
		e := &Error{Kind: kind, Service: ServiceA, Op: methodProcess}
		assert.Equal(t, code, e.ErrorCode(), kind.String())
		assert.Equal(t, code, errs.FromError(e).Code)
	}

	wrapped := &Error{Kind: KindTimeout, Err: errors.New("deadline")}
	assert.EqualError(t, errors.Unwrap(wrapped), "deadline")
}
