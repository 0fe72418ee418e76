package backend

import (
	"errors"
	"io"
	"iter"
	"sync"
)

// ResultStream yields service B's stream results one at a time.
//
//	for s.Next() {
//		r := s.Result()
//	}
//	if err := s.Err(); err != nil { ... }
//
// Close releases the underlying call; it is safe to call more than once and
// is done automatically when the stream ends.
type ResultStream struct {
	recv    func() (StreamResult, error)
	release func()
	once    sync.Once

	cur  StreamResult
	err  error
	done bool
}

func newResultStream(recv func() (StreamResult, error), release func()) *ResultStream {
	if release == nil {
		release = func() {}
	}
	return &ResultStream{recv: recv, release: release}
}

// StreamOf exposes an already received list as a ResultStream.
func StreamOf(results []StreamResult) *ResultStream {
	i := 0
	return newResultStream(func() (StreamResult, error) {
		if i >= len(results) {
			return StreamResult{}, io.EOF
		}
		r := results[i]
		i++
		return r, nil
	}, nil)
}

// Next advances to the next result. It returns false at the end of the
// stream or on error; Err tells the two apart.
func (s *ResultStream) Next() bool {
	if s.done {
		return false
	}

	r, err := s.recv()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		s.Close()
		return false
	}

	s.cur = r
	return true
}

// Result returns the value read by the last successful Next.
func (s *ResultStream) Result() StreamResult {
	return s.cur
}

// Err returns the error that ended the stream, if any.
func (s *ResultStream) Err() error {
	return s.err
}

// Close stops the stream. Results not yet read are discarded.
func (s *ResultStream) Close() {
	s.done = true
	s.once.Do(s.release)
}

// All ranges over the remaining results. A failure is yielded once as the
// final pair. Breaking out of the loop closes the stream.
func (s *ResultStream) All() iter.Seq2[StreamResult, error] {
	return func(yield func(StreamResult, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.cur, nil) {
				return
			}
		}
		if s.err != nil {
			yield(StreamResult{}, s.err)
		}
	}
}

// Collect drains the stream into a slice.
func (s *ResultStream) Collect() ([]StreamResult, error) {
	var out []StreamResult
	for r, err := range s.All() {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
