package backend

import (
	"context"
	"iter"
	"time"
)

// Observer receives one callback per completed backend call.
type Observer interface {
	ObserveBackendCall(service, op string, d time.Duration, err error)
}

type instrumented struct {
	next Client
	obs  Observer
}

// Instrument wraps c so every call is reported to obs. For server streams
// only the opening of the stream is timed.
func Instrument(c Client, obs Observer) Client {
	if obs == nil {
		return c
	}
	return &instrumented{next: c, obs: obs}
}

func (i *instrumented) observe(svc Service, op string, start time.Time, err error) {
	i.obs.ObserveBackendCall(string(svc), op, time.Since(start), err)
}

func (i *instrumented) CallUnary(ctx context.Context, req UnaryRequest) (UnaryResult, error) {
	start := time.Now()
	res, err := i.next.CallUnary(ctx, req)
	i.observe(ServiceA, methodProcess, start, err)
	return res, err
}

func (i *instrumented) CallServerStream(ctx context.Context, req StreamRequest) (*ResultStream, error) {
	start := time.Now()
	s, err := i.next.CallServerStream(ctx, req)
	i.observe(ServiceB, methodServerStream, start, err)
	return s, err
}

func (i *instrumented) CallClientStream(ctx context.Context, chunks iter.Seq[FileChunk]) (UploadAck, error) {
	start := time.Now()
	ack, err := i.next.CallClientStream(ctx, chunks)
	i.observe(ServiceB, methodFileUpload, start, err)
	return ack, err
}

func (i *instrumented) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	start := time.Now()
	res, err := i.next.Login(ctx, req)
	i.observe(ServiceA, methodUserLogin, start, err)
	return res, err
}

func (i *instrumented) OnlineUsers(ctx context.Context, roomID string) ([]OnlineUser, error) {
	start := time.Now()
	users, err := i.next.OnlineUsers(ctx, roomID)
	i.observe(ServiceA, methodGetOnlineUsers, start, err)
	return users, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
