package backend

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The wire schema mirrors api/proto/backend.proto. It is assembled at
// startup and messages are built with dynamicpb, so no generated code is
// needed to talk to the services.

const protoPackage = "backend.v1"

// Message names.
const (
	msgProcessRequest     = "ProcessRequest"
	msgProcessReply       = "ProcessReply"
	msgLoginRequest       = "LoginRequest"
	msgLoginReply         = "LoginReply"
	msgOnlineUsersRequest = "OnlineUsersRequest"
	msgOnlineUser         = "OnlineUser"
	msgOnlineUsersReply   = "OnlineUsersReply"
	msgStreamRequest      = "StreamRequest"
	msgStreamReply        = "StreamReply"
	msgFileChunk          = "FileChunk"
	msgUploadAck          = "UploadAck"
)

// Service and method names.
const (
	grpcServiceA = "ServiceA"
	grpcServiceB = "ServiceB"

	methodProcess        = "Process"
	methodUserLogin      = "UserLogin"
	methodGetOnlineUsers = "GetOnlineUsers"
	methodServerStream   = "ServerStream"
	methodFileUpload     = "FileUpload"
)

type schema struct {
	file protoreflect.FileDescriptor
}

var wire = mustBuildSchema()

func (s *schema) newMessage(name string) *dynamicpb.Message {
	md := s.file.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic(fmt.Sprintf("backend: no message %q in wire schema", name))
	}
	return dynamicpb.NewMessage(md)
}

// methodPath returns the gRPC path, e.g. "/backend.v1.ServiceA/Process".
func (s *schema) methodPath(service, method string) string {
	sd := s.file.Services().ByName(protoreflect.Name(service))
	if sd == nil || sd.Methods().ByName(protoreflect.Name(method)) == nil {
		panic(fmt.Sprintf("backend: no method %s/%s in wire schema", service, method))
	}
	return fmt.Sprintf("/%s/%s", sd.FullName(), method)
}

var (
	typeString = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeInt32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeInt64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeBool   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeBytes  = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeMsg    = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func repeatedMessage(name string, number int32, msg string) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, typeMsg)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	f.TypeName = proto.String("." + protoPackage + "." + msg)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func rpc(name, in, out string, clientStreaming, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:            proto.String(name),
		InputType:       proto.String("." + protoPackage + "." + in),
		OutputType:      proto.String("." + protoPackage + "." + out),
		ClientStreaming: proto.Bool(clientStreaming),
		ServerStreaming: proto.Bool(serverStreaming),
	}
}

func mustBuildSchema() *schema {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("backend/v1/backend.proto"),
		Package: proto.String(protoPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message(msgProcessRequest,
				field("id", 1, typeString),
				field("data", 2, typeString),
				field("operation", 3, typeString)),
			message(msgProcessReply,
				field("id", 1, typeString),
				field("result", 2, typeString),
				field("message", 3, typeString),
				field("status_code", 4, typeInt32)),
			message(msgLoginRequest,
				field("username", 1, typeString),
				field("room_id", 2, typeString)),
			message(msgLoginReply,
				field("success", 1, typeBool),
				field("user_id", 2, typeString),
				field("username", 3, typeString),
				field("message", 4, typeString)),
			message(msgOnlineUsersRequest,
				field("room_id", 1, typeString)),
			message(msgOnlineUser,
				field("user_id", 1, typeString),
				field("username", 2, typeString),
				field("status", 3, typeString),
				field("last_seen", 4, typeInt64)),
			message(msgOnlineUsersReply,
				repeatedMessage("users", 1, msgOnlineUser),
				field("total_count", 2, typeInt32)),
			message(msgStreamRequest,
				field("id", 1, typeString),
				field("data", 2, typeString),
				field("count", 3, typeInt32)),
			message(msgStreamReply,
				field("id", 1, typeString),
				field("result", 2, typeString),
				field("message", 3, typeString),
				field("sequence_number", 4, typeInt32),
				field("is_final", 5, typeBool)),
			message(msgFileChunk,
				field("file_id", 1, typeString),
				field("filename", 2, typeString),
				field("mime_type", 3, typeString),
				field("chunk_data", 4, typeBytes),
				field("chunk_index", 5, typeInt32),
				field("total_chunks", 6, typeInt32),
				field("file_size", 7, typeInt64),
				field("user_id", 8, typeString),
				field("username", 9, typeString),
				field("room_id", 10, typeString)),
			message(msgUploadAck,
				field("success", 1, typeBool),
				field("file_id", 2, typeString),
				field("message", 3, typeString),
				field("bytes_received", 4, typeInt64)),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String(grpcServiceA),
				Method: []*descriptorpb.MethodDescriptorProto{
					rpc(methodProcess, msgProcessRequest, msgProcessReply, false, false),
					rpc(methodUserLogin, msgLoginRequest, msgLoginReply, false, false),
					rpc(methodGetOnlineUsers, msgOnlineUsersRequest, msgOnlineUsersReply, false, false),
				},
			},
			{
				Name: proto.String(grpcServiceB),
				Method: []*descriptorpb.MethodDescriptorProto{
					rpc(methodServerStream, msgStreamRequest, msgStreamReply, false, true),
					rpc(methodFileUpload, msgFileChunk, msgUploadAck, true, false),
				},
			},
		},
	}

	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("backend: invalid wire schema: %v", err))
	}
	return &schema{file: fd}
}

// record reads and writes message fields by name.
type record struct {
	m protoreflect.Message
}

func (r record) fd(name string) protoreflect.FieldDescriptor {
	fd := r.m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("backend: %s has no field %q", r.m.Descriptor().Name(), name))
	}
	return fd
}

func (r record) setString(name, v string) {
	r.m.Set(r.fd(name), protoreflect.ValueOfString(v))
}

func (r record) setInt32(name string, v int) {
	r.m.Set(r.fd(name), protoreflect.ValueOfInt32(int32(v)))
}

func (r record) setInt64(name string, v int64) {
	r.m.Set(r.fd(name), protoreflect.ValueOfInt64(v))
}

func (r record) setBool(name string, v bool) {
	r.m.Set(r.fd(name), protoreflect.ValueOfBool(v))
}

func (r record) setBytes(name string, v []byte) {
	r.m.Set(r.fd(name), protoreflect.ValueOfBytes(v))
}

func (r record) getString(name string) string {
	return r.m.Get(r.fd(name)).String()
}

func (r record) getInt(name string) int64 {
	return r.m.Get(r.fd(name)).Int()
}

func (r record) getBool(name string) bool {
	return r.m.Get(r.fd(name)).Bool()
}

func (r record) getBytes(name string) []byte {
	return r.m.Get(r.fd(name)).Bytes()
}

// Conversions between the package types and wire messages.

func encodeUnaryRequest(req UnaryRequest) *dynamicpb.Message {
	m := wire.newMessage(msgProcessRequest)
	r := record{m}
	r.setString("id", req.ID)
	r.setString("data", req.Data)
	r.setString("operation", req.Operation)
	return m
}

func decodeUnaryResult(m *dynamicpb.Message) UnaryResult {
	r := record{m}
	return UnaryResult{
		ID:         r.getString("id"),
		Result:     r.getString("result"),
		Message:    r.getString("message"),
		StatusCode: int(r.getInt("status_code")),
	}
}

func encodeLoginRequest(req LoginRequest) *dynamicpb.Message {
	m := wire.newMessage(msgLoginRequest)
	r := record{m}
	r.setString("username", req.Username)
	r.setString("room_id", req.RoomID)
	return m
}

func decodeLoginResult(m *dynamicpb.Message) LoginResult {
	r := record{m}
	return LoginResult{
		Success:  r.getBool("success"),
		UserID:   r.getString("user_id"),
		Username: r.getString("username"),
		Message:  r.getString("message"),
	}
}

func encodeOnlineUsersRequest(roomID string) *dynamicpb.Message {
	m := wire.newMessage(msgOnlineUsersRequest)
	r := record{m}
	r.setString("room_id", roomID)
	return m
}

func decodeOnlineUsers(m *dynamicpb.Message) []OnlineUser {
	list := m.Get(record{m}.fd("users")).List()
	users := make([]OnlineUser, 0, list.Len())
	for i := range list.Len() {
		u := record{list.Get(i).Message()}
		users = append(users, OnlineUser{
			UserID:   u.getString("user_id"),
			Username: u.getString("username"),
			Status:   u.getString("status"),
			LastSeen: u.getInt("last_seen"),
		})
	}
	return users
}

func encodeStreamRequest(req StreamRequest) *dynamicpb.Message {
	m := wire.newMessage(msgStreamRequest)
	r := record{m}
	r.setString("id", req.ID)
	r.setString("data", req.Data)
	r.setInt32("count", req.Count)
	return m
}

func decodeStreamResult(m *dynamicpb.Message) StreamResult {
	r := record{m}
	return StreamResult{
		ID:             r.getString("id"),
		Result:         r.getString("result"),
		Message:        r.getString("message"),
		SequenceNumber: int(r.getInt("sequence_number")),
		IsFinal:        r.getBool("is_final"),
	}
}

func encodeFileChunk(c FileChunk) *dynamicpb.Message {
	m := wire.newMessage(msgFileChunk)
	r := record{m}
	r.setString("file_id", c.FileID)
	r.setString("filename", c.Filename)
	r.setString("mime_type", c.MimeType)
	r.setBytes("chunk_data", c.ChunkData)
	r.setInt32("chunk_index", c.ChunkIndex)
	r.setInt32("total_chunks", c.TotalChunks)
	r.setInt64("file_size", c.FileSize)
	r.setString("user_id", c.UserID)
	r.setString("username", c.Username)
	r.setString("room_id", c.RoomID)
	return m
}

func decodeUploadAck(m *dynamicpb.Message) UploadAck {
	r := record{m}
	return UploadAck{
		Success:       r.getBool("success"),
		FileID:        r.getString("file_id"),
		Message:       r.getString("message"),
		BytesReceived: r.getInt("bytes_received"),
	}
}
