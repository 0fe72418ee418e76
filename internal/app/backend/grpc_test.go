package backend

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeServices implements both services on top of the runtime schema.
type fakeServices struct {
	mu        sync.Mutex
	uploads   []FileChunk
	delay     time.Duration
	failWith  error
	processed []UnaryRequest
}

func (f *fakeServices) received() ([]UnaryRequest, []FileChunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UnaryRequest(nil), f.processed...), append([]FileChunk(nil), f.uploads...)
}

func (f *fakeServices) wait(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type unaryFn func(ctx context.Context, in, out record) error

func unaryMethod(name, inMsg, outMsg string, fn unaryFn) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := wire.newMessage(inMsg)
			if err := dec(in); err != nil {
				return nil, err
			}
			out := wire.newMessage(outMsg)
			if err := fn(ctx, record{in}, record{out}); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

func (f *fakeServices) serviceA() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: protoPackage + "." + grpcServiceA,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			unaryMethod(methodProcess, msgProcessRequest, msgProcessReply, func(ctx context.Context, in, out record) error {
				if err := f.wait(ctx); err != nil {
					return err
				}
				if f.failWith != nil {
					return f.failWith
				}
				f.mu.Lock()
				f.processed = append(f.processed, UnaryRequest{
					ID:        in.getString("id"),
					Data:      in.getString("data"),
					Operation: in.getString("operation"),
				})
				f.mu.Unlock()

				out.setString("id", in.getString("id"))
				out.setString("result", strings.ToUpper(in.getString("data")))
				out.setString("message", "ok")
				out.setInt32("status_code", 200)
				return nil
			}),
			unaryMethod(methodUserLogin, msgLoginRequest, msgLoginReply, func(_ context.Context, in, out record) error {
				name := in.getString("username")
				out.setBool("success", name != "")
				out.setString("user_id", "u-"+name)
				out.setString("username", name)
				out.setString("message", "welcome to "+in.getString("room_id"))
				return nil
			}),
			unaryMethod(methodGetOnlineUsers, msgOnlineUsersRequest, msgOnlineUsersReply, func(_ context.Context, in, out record) error {
				list := out.m.Mutable(out.fd("users")).List()
				for _, name := range []string{"alice", "bob"} {
					el := list.NewElement()
					u := record{el.Message()}
					u.setString("user_id", "u-"+name)
					u.setString("username", name)
					u.setString("status", "online")
					u.setInt64("last_seen", 1700000000)
					list.Append(el)
				}
				out.setInt32("total_count", list.Len())
				return nil
			}),
		},
	}
}

func (f *fakeServices) serviceB() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: protoPackage + "." + grpcServiceB,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    methodServerStream,
				ServerStreams: true,
				Handler: func(_ any, stream grpc.ServerStream) error {
					in := wire.newMessage(msgStreamRequest)
					if err := stream.RecvMsg(in); err != nil {
						return err
					}
					req := record{in}
					count := int(req.getInt("count"))
					for i := 1; i <= count; i++ {
						out := wire.newMessage(msgStreamReply)
						r := record{out}
						r.setString("id", req.getString("id"))
						r.setString("result", strings.Repeat(req.getString("data"), i))
						r.setInt32("sequence_number", i)
						r.setBool("is_final", i == count)
						if err := stream.SendMsg(out); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				StreamName:    methodFileUpload,
				ClientStreams: true,
				Handler: func(_ any, stream grpc.ServerStream) error {
					var total int64
					var fileID string
					for {
						in := wire.newMessage(msgFileChunk)
						err := stream.RecvMsg(in)
						if errors.Is(err, io.EOF) {
							break
						}
						if err != nil {
							return err
						}
						r := record{in}
						chunk := FileChunk{
							FileID:      r.getString("file_id"),
							Filename:    r.getString("filename"),
							ChunkData:   r.getBytes("chunk_data"),
							ChunkIndex:  int(r.getInt("chunk_index")),
							TotalChunks: int(r.getInt("total_chunks")),
							FileSize:    r.getInt("file_size"),
						}
						f.mu.Lock()
						f.uploads = append(f.uploads, chunk)
						f.mu.Unlock()
						fileID = chunk.FileID
						total += int64(len(chunk.ChunkData))
					}
					out := wire.newMessage(msgUploadAck)
					r := record{out}
					r.setBool("success", true)
					r.setString("file_id", fileID)
					r.setString("message", "stored")
					r.setInt64("bytes_received", total)
					return stream.SendMsg(out)
				},
			},
		},
	}
}

func startRPC(t *testing.T, f *fakeServices, unaryTimeout time.Duration) Client {
	t.Helper()

	lis := bufconn.Listen(4 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(f.serviceA(), f)
	srv.RegisterService(f.serviceB(), f)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := New(Config{
		Transport:     TransportGRPC,
		ServiceAAddr:  "passthrough:///service-a",
		ServiceBAddr:  "passthrough:///service-b",
		UnaryTimeout:  unaryTimeout,
		StreamTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRPCUnary(t *testing.T) {
	f := &fakeServices{}
	c := startRPC(t, f, time.Second)

	res, err := c.CallUnary(context.Background(), UnaryRequest{ID: "m1", Data: "hi", Operation: "process_message"})
	require.NoError(t, err)
	assert.Equal(t, UnaryResult{ID: "m1", Result: "HI", Message: "ok", StatusCode: 200}, res)
	processed, _ := f.received()
	assert.Equal(t, []UnaryRequest{{ID: "m1", Data: "hi", Operation: "process_message"}}, processed)
}

func TestRPCLoginAndOnlineUsers(t *testing.T) {
	c := startRPC(t, &fakeServices{}, time.Second)

	login, err := c.Login(context.Background(), LoginRequest{Username: "alice", RoomID: "general"})
	require.NoError(t, err)
	assert.True(t, login.Success)
	assert.Equal(t, "u-alice", login.UserID)
	assert.Equal(t, "welcome to general", login.Message)

	users, err := c.OnlineUsers(context.Background(), "general")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, OnlineUser{UserID: "u-bob", Username: "bob", Status: "online", LastSeen: 1700000000}, users[1])
}

func TestRPCServerStream(t *testing.T) {
	c := startRPC(t, &fakeServices{}, time.Second)

	s, err := c.CallServerStream(context.Background(), StreamRequest{ID: "s1", Data: "ab", Count: 3})
	require.NoError(t, err)

	results, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "ababab", results[2].Result)
	assert.Equal(t, 3, results[2].SequenceNumber)
	assert.True(t, results[2].IsFinal)
	assert.False(t, results[0].IsFinal)
}

func TestRPCServerStreamEarlyClose(t *testing.T) {
	c := startRPC(t, &fakeServices{}, time.Second)

	s, err := c.CallServerStream(context.Background(), StreamRequest{ID: "s1", Data: "x", Count: 50})
	require.NoError(t, err)

	for r, err := range s.All() {
		require.NoError(t, err)
		assert.Equal(t, 1, r.SequenceNumber)
		break
	}
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}

func TestRPCClientStream(t *testing.T) {
	f := &fakeServices{}
	c := startRPC(t, f, time.Second)

	chunks := []FileChunk{
		{FileID: "f1", Filename: "a.bin", ChunkData: []byte("hello "), ChunkIndex: 0, TotalChunks: 2, FileSize: 11},
		{FileID: "f1", Filename: "a.bin", ChunkData: []byte("world"), ChunkIndex: 1, TotalChunks: 2, FileSize: 11},
	}
	ack, err := c.CallClientStream(context.Background(), func(yield func(FileChunk) bool) {
		for _, ch := range chunks {
			if !yield(ch) {
				return
			}
		}
	})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, int64(11), ack.BytesReceived)

	_, uploads := f.received()
	require.Len(t, uploads, 2)
	assert.Equal(t, []byte("world"), uploads[1].ChunkData)
	assert.Equal(t, int64(11), uploads[1].FileSize)
}

func TestRPCClientStreamRejectsOversizedFragment(t *testing.T) {
	f := &fakeServices{}
	c := startRPC(t, f, time.Second)

	_, err := c.CallClientStream(context.Background(), func(yield func(FileChunk) bool) {
		yield(FileChunk{FileID: "big", ChunkData: make([]byte, MaxFragmentSize+1)})
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInternal))
	_, uploads := f.received()
	assert.Empty(t, uploads)
}

func TestRPCTimeout(t *testing.T) {
	c := startRPC(t, &fakeServices{delay: time.Second}, 50*time.Millisecond)

	_, err := c.CallUnary(context.Background(), UnaryRequest{ID: "m1", Data: "slow"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout), err.Error())
}

func TestRPCBackendError(t *testing.T) {
	c := startRPC(t, &fakeServices{failWith: status.Error(codes.Unavailable, "draining")}, time.Second)

	_, err := c.CallUnary(context.Background(), UnaryRequest{ID: "m1", Data: "x"})
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindBackendUnavailable, be.Kind)
	assert.Equal(t, ServiceA, be.Service)
	assert.Equal(t, "draining", be.Detail)
}

func TestRPCUnreachable(t *testing.T) {
	c, err := New(Config{
		Transport:    TransportGRPC,
		ServiceAAddr: "passthrough:///nowhere",
		ServiceBAddr: "passthrough:///nowhere",
		UnaryTimeout: time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
				return nil, errors.New("connection refused")
			}),
		},
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CallUnary(context.Background(), UnaryRequest{ID: "m1"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBackendUnavailable), err.Error())
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	_, err := New(Config{Transport: "smoke-signals"})
	assert.Error(t, err)
}
