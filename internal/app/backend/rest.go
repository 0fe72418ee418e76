package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// REST paths, relative to each service's base URL.
const (
	pathProcess     = "/process"
	pathUserLogin   = "/users/login"
	pathOnlineUsers = "/users/online"
	pathStream      = "/stream"
	pathFileUpload  = "/files/upload"
)

// ndjsonContentType is used for the streamed upload body: one FileChunk per line.
const ndjsonContentType = "application/x-ndjson"

type restClient struct {
	http  *http.Client
	baseA string
	baseB string

	unaryTimeout  time.Duration
	streamTimeout time.Duration
}

func newRESTClient(cfg Config) *restClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &restClient{
		http:          hc,
		baseA:         strings.TrimRight(cfg.ServiceAURL, "/"),
		baseB:         strings.TrimRight(cfg.ServiceBURL, "/"),
		unaryTimeout:  cfg.UnaryTimeout,
		streamTimeout: cfg.StreamTimeout,
	}
}

type streamReply struct {
	ID      string         `json:"id"`
	Results []StreamResult `json:"results"`
}

type onlineUsersRequest struct {
	RoomID string `json:"room_id"`
}

type onlineUsersReply struct {
	Users      []OnlineUser `json:"users"`
	TotalCount int          `json:"total_count"`
}

// do sends one request and decodes a 2xx JSON reply into out.
func (c *restClient) do(ctx context.Context, svc Service, op, url, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return &Error{Kind: KindInternal, Service: svc, Op: op, Detail: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fromHTTP(svc, op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return unavailable(svc, op, fmt.Sprintf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(snippet))))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return fromHTTP(svc, op, err)
		}
		return unavailable(svc, op, "decode response: "+err.Error())
	}

	return nil
}

func (c *restClient) postJSON(ctx context.Context, svc Service, op, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &Error{Kind: KindInternal, Service: svc, Op: op, Detail: "encode request: " + err.Error(), Err: err}
	}
	return c.do(ctx, svc, op, url, "application/json", bytes.NewReader(body), out)
}

func (c *restClient) CallUnary(ctx context.Context, req UnaryRequest) (UnaryResult, error) {
	ctx, cancel := withTimeout(ctx, c.unaryTimeout)
	defer cancel()

	var out UnaryResult
	if err := c.postJSON(ctx, ServiceA, methodProcess, c.baseA+pathProcess, req, &out); err != nil {
		return UnaryResult{}, err
	}
	return out, nil
}

func (c *restClient) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	ctx, cancel := withTimeout(ctx, c.unaryTimeout)
	defer cancel()

	var out LoginResult
	if err := c.postJSON(ctx, ServiceA, methodUserLogin, c.baseA+pathUserLogin, req, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

func (c *restClient) OnlineUsers(ctx context.Context, roomID string) ([]OnlineUser, error) {
	ctx, cancel := withTimeout(ctx, c.unaryTimeout)
	defer cancel()

	var out onlineUsersReply
	if err := c.postJSON(ctx, ServiceA, methodGetOnlineUsers, c.baseA+pathOnlineUsers, onlineUsersRequest{RoomID: roomID}, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// CallServerStream has no streaming counterpart over REST: service B returns
// the whole list and it is replayed through a ResultStream.
func (c *restClient) CallServerStream(ctx context.Context, req StreamRequest) (*ResultStream, error) {
	ctx, cancel := withTimeout(ctx, c.streamTimeout)
	defer cancel()

	var out streamReply
	if err := c.postJSON(ctx, ServiceB, methodServerStream, c.baseB+pathStream, req, &out); err != nil {
		return nil, err
	}
	return StreamOf(out.Results), nil
}

// CallClientStream streams the fragments as NDJSON while they are produced,
// so the file is never buffered a second time.
func (c *restClient) CallClientStream(ctx context.Context, chunks iter.Seq[FileChunk]) (UploadAck, error) {
	ctx, cancel := withTimeout(ctx, c.streamTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	done := make(chan struct{})
	var produceErr error

	go func() {
		defer close(done)
		enc := json.NewEncoder(pw)
		for chunk := range chunks {
			if err := checkFragment(chunk); err != nil {
				produceErr = err
				pw.CloseWithError(err)
				return
			}
			if err := enc.Encode(chunk); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	var ack UploadAck
	err := c.do(ctx, ServiceB, methodFileUpload, c.baseB+pathFileUpload, ndjsonContentType, pr, &ack)

	// Unblock the producer if the transport stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	<-done

	if produceErr != nil {
		return UploadAck{}, produceErr
	}
	if err != nil {
		return UploadAck{}, err
	}
	return ack, nil
}

func (c *restClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
