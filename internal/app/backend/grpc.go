package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// rpcClient talks to both services over gRPC with one connection each.
type rpcClient struct {
	connA *grpc.ClientConn
	connB *grpc.ClientConn

	unaryTimeout  time.Duration
	streamTimeout time.Duration
}

func newRPCClient(cfg Config) (*rpcClient, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, cfg.DialOptions...)

	connA, err := grpc.NewClient(cfg.ServiceAAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("backend: dial service A %q: %w", cfg.ServiceAAddr, err)
	}

	connB, err := grpc.NewClient(cfg.ServiceBAddr, opts...)
	if err != nil {
		_ = connA.Close()
		return nil, fmt.Errorf("backend: dial service B %q: %w", cfg.ServiceBAddr, err)
	}

	return &rpcClient{
		connA:         connA,
		connB:         connB,
		unaryTimeout:  cfg.UnaryTimeout,
		streamTimeout: cfg.StreamTimeout,
	}, nil
}

func (c *rpcClient) invokeA(ctx context.Context, method string, in, out any) error {
	ctx, cancel := withTimeout(ctx, c.unaryTimeout)
	defer cancel()

	err := c.connA.Invoke(ctx, wire.methodPath(grpcServiceA, method), in, out)
	return fromRPC(ServiceA, method, err)
}

func (c *rpcClient) CallUnary(ctx context.Context, req UnaryRequest) (UnaryResult, error) {
	out := wire.newMessage(msgProcessReply)
	if err := c.invokeA(ctx, methodProcess, encodeUnaryRequest(req), out); err != nil {
		return UnaryResult{}, err
	}
	return decodeUnaryResult(out), nil
}

func (c *rpcClient) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	out := wire.newMessage(msgLoginReply)
	if err := c.invokeA(ctx, methodUserLogin, encodeLoginRequest(req), out); err != nil {
		return LoginResult{}, err
	}
	return decodeLoginResult(out), nil
}

func (c *rpcClient) OnlineUsers(ctx context.Context, roomID string) ([]OnlineUser, error) {
	out := wire.newMessage(msgOnlineUsersReply)
	if err := c.invokeA(ctx, methodGetOnlineUsers, encodeOnlineUsersRequest(roomID), out); err != nil {
		return nil, err
	}
	return decodeOnlineUsers(out), nil
}

func (c *rpcClient) CallServerStream(ctx context.Context, req StreamRequest) (*ResultStream, error) {
	ctx, cancel := withTimeout(ctx, c.streamTimeout)

	desc := &grpc.StreamDesc{StreamName: methodServerStream, ServerStreams: true}
	cs, err := c.connB.NewStream(ctx, desc, wire.methodPath(grpcServiceB, methodServerStream))
	if err != nil {
		cancel()
		return nil, fromRPC(ServiceB, methodServerStream, err)
	}

	// io.EOF from SendMsg means the server already ended the call; the
	// status surfaces on the first RecvMsg.
	if err := cs.SendMsg(encodeStreamRequest(req)); err != nil && !errors.Is(err, io.EOF) {
		cancel()
		return nil, fromRPC(ServiceB, methodServerStream, err)
	}
	if err := cs.CloseSend(); err != nil {
		cancel()
		return nil, fromRPC(ServiceB, methodServerStream, err)
	}

	recv := func() (StreamResult, error) {
		out := wire.newMessage(msgStreamReply)
		if err := cs.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return StreamResult{}, io.EOF
			}
			return StreamResult{}, fromRPC(ServiceB, methodServerStream, err)
		}
		return decodeStreamResult(out), nil
	}

	return newResultStream(recv, cancel), nil
}

func (c *rpcClient) CallClientStream(ctx context.Context, chunks iter.Seq[FileChunk]) (UploadAck, error) {
	ctx, cancel := withTimeout(ctx, c.streamTimeout)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: methodFileUpload, ClientStreams: true}
	cs, err := c.connB.NewStream(ctx, desc, wire.methodPath(grpcServiceB, methodFileUpload))
	if err != nil {
		return UploadAck{}, fromRPC(ServiceB, methodFileUpload, err)
	}

	for chunk := range chunks {
		if err := checkFragment(chunk); err != nil {
			return UploadAck{}, err
		}
		if err := cs.SendMsg(encodeFileChunk(chunk)); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return UploadAck{}, fromRPC(ServiceB, methodFileUpload, err)
		}
	}

	if err := cs.CloseSend(); err != nil {
		return UploadAck{}, fromRPC(ServiceB, methodFileUpload, err)
	}

	out := wire.newMessage(msgUploadAck)
	if err := cs.RecvMsg(out); err != nil {
		return UploadAck{}, fromRPC(ServiceB, methodFileUpload, err)
	}

	return decodeUploadAck(out), nil
}

func (c *rpcClient) Close() error {
	return errors.Join(c.connA.Close(), c.connB.Close())
}
