package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName and streamName name the hand-authored bidirectional
// streaming RPC that carries pb.Envelope frames, standing in for the
// retrieval pack's missing protoc-generated MeshMonService/StreamUpdates
// stub (connection/proto is a re-export shim with no compiled
// descriptor in original_source). The RPC is registered directly
// against grpc.ServiceDesc using wrapperspb.BytesValue, a real
// proto.Message the protobuf module ships pre-compiled, as the wire
// type; pb.Envelope framing rides inside its Value as JSON.
//
// ServerStream/ClientStream below wrap the stable grpc.ServerStream and
// grpc.ClientStream SendMsg/RecvMsg primitives rather than grpc-go's
// newer generic streaming helpers, so the shape here only depends on
// APIs that have been stable across grpc-go releases.
const (
	serviceName = "pulsewave.Transport"
	streamName  = "Stream"
	fullMethod  = "/" + serviceName + "/" + streamName
)

// ServerStream is the server side of one Transport stream.
type ServerStream struct {
	grpc.ServerStream
}

func (s *ServerStream) Send(msg *wrapperspb.BytesValue) error {
	return s.ServerStream.SendMsg(msg)
}

func (s *ServerStream) Recv() (*wrapperspb.BytesValue, error) {
	msg := new(wrapperspb.BytesValue)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// TransportServer is implemented by the node side that accepts
// connections (see server.go's Server.Stream).
type TransportServer interface {
	Stream(*ServerStream) error
}

// ServiceDesc is the hand-authored descriptor for the Transport
// service, used in place of a protoc-generated one.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransportServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pulsewave/transport/service.go",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TransportServer).Stream(&ServerStream{ServerStream: stream})
}

// RegisterTransportServer registers srv as the Transport service
// implementation on s.
func RegisterTransportServer(s grpc.ServiceRegistrar, srv TransportServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ClientStream is the client side of one Transport stream.
type ClientStream struct {
	grpc.ClientStream
}

func (c *ClientStream) Send(msg *wrapperspb.BytesValue) error {
	return c.ClientStream.SendMsg(msg)
}

func (c *ClientStream) Recv() (*wrapperspb.BytesValue, error) {
	msg := new(wrapperspb.BytesValue)
	if err := c.ClientStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// TransportClient is the client-side handle for the Transport service.
type TransportClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (*ClientStream, error)
}

type transportClient struct {
	cc grpc.ClientConnInterface
}

// NewTransportClient returns a TransportClient bound to cc.
func NewTransportClient(cc grpc.ClientConnInterface) TransportClient {
	return &transportClient{cc: cc}
}

func (c *transportClient) Stream(ctx context.Context, opts ...grpc.CallOption) (*ClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &ClientStream{ClientStream: stream}, nil
}
