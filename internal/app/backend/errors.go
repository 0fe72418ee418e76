package backend

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rtgateway/internal/pkg/errs"
)

// Kind classifies a backend failure.
type Kind int

const (
	// KindBackendUnavailable covers transport failures, non-success replies
	// and undecodable responses.
	KindBackendUnavailable Kind = iota + 1

	// KindTimeout means the call ran past its deadline.
	KindTimeout

	// KindInternal means the gateway refused to make the call.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBackendUnavailable:
		return "backend unavailable"
	case KindTimeout:
		return "timeout"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the normalized failure of a backend call.
type Error struct {
	Kind    Kind
	Service Service
	Op      string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.Service, e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode maps the kind onto the client-facing error table.
func (e *Error) ErrorCode() int {
	switch e.Kind {
	case KindTimeout:
		return errs.ErrBackendTimeout
	case KindBackendUnavailable:
		return errs.ErrBackendUnavailable
	default:
		return errs.ErrUnknown
	}
}

// IsKind reports whether err is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == k
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// fromRPC normalizes a gRPC call error.
func fromRPC(svc Service, op string, err error) error {
	if err == nil {
		return nil
	}

	be := &Error{Kind: KindBackendUnavailable, Service: svc, Op: op, Err: err}

	if st, ok := status.FromError(err); ok {
		be.Detail = st.Message()
		if st.Code() == codes.DeadlineExceeded {
			be.Kind = KindTimeout
		}
		if be.Detail == "" {
			be.Detail = st.Code().String()
		}
		return be
	}

	if isTimeout(err) {
		be.Kind = KindTimeout
	}
	be.Detail = err.Error()
	return be
}

// fromHTTP normalizes a REST transport error.
func fromHTTP(svc Service, op string, err error) error {
	if err == nil {
		return nil
	}

	be := &Error{Kind: KindBackendUnavailable, Service: svc, Op: op, Detail: err.Error(), Err: err}
	if isTimeout(err) {
		be.Kind = KindTimeout
	}
	return be
}

func unavailable(svc Service, op, detail string) error {
	return &Error{Kind: KindBackendUnavailable, Service: svc, Op: op, Detail: detail}
}
