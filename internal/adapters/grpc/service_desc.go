package grpc

import (
	"context"
	"encoding/json"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// JSONCodec carries the hand-written message types below over gRPC.
// Clients select it with grpc.CallContentSubtype("json").
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string { return "json" }

const (
	serviceName          = "mercato.transfers.v1.TransferService"
	submitTransferMethod = "/" + serviceName + "/SubmitTransfer"
	getTransferMethod    = "/" + serviceName + "/GetTransfer"
)

// TransferServiceServer is the server side of TransferService.
type TransferServiceServer interface {
	SubmitTransfer(ctx context.Context, req *SubmitTransferRequest) (*SubmitTransferResponse, error)
	GetTransfer(ctx context.Context, req *GetTransferRequest) (*Transfer, error)
}

// RegisterTransferServiceServer registers srv on s.
func RegisterTransferServiceServer(s grpcpkg.ServiceRegistrar, srv TransferServiceServer) {
	s.RegisterService(&transferServiceDesc, srv)
}

var transferServiceDesc = grpcpkg.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransferServiceServer)(nil),
	Methods: []grpcpkg.MethodDesc{
		{
			MethodName: "SubmitTransfer",
			Handler:    submitTransferHandler,
		},
		{
			MethodName: "GetTransfer",
			Handler:    getTransferHandler,
		},
	},
	Streams:  []grpcpkg.StreamDesc{},
	Metadata: "mercato/transfers/v1/transfers.proto",
}

func submitTransferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
	req := new(SubmitTransferRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransferServiceServer).SubmitTransfer(ctx, req)
	}
	info := &grpcpkg.UnaryServerInfo{
		Server:     srv,
		FullMethod: submitTransferMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransferServiceServer).SubmitTransfer(ctx, req.(*SubmitTransferRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getTransferHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
	req := new(GetTransferRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransferServiceServer).GetTransfer(ctx, req)
	}
	info := &grpcpkg.UnaryServerInfo{
		Server:     srv,
		FullMethod: getTransferMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransferServiceServer).GetTransfer(ctx, req.(*GetTransferRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// TransferServiceClient calls TransferService over the JSON codec.
type TransferServiceClient struct {
	cc grpcpkg.ClientConnInterface
}

// NewTransferServiceClient wraps a client connection.
func NewTransferServiceClient(cc grpcpkg.ClientConnInterface) *TransferServiceClient {
	return &TransferServiceClient{cc: cc}
}

func (c *TransferServiceClient) SubmitTransfer(ctx context.Context, req *SubmitTransferRequest, opts ...grpcpkg.CallOption) (*SubmitTransferResponse, error) {
	out := new(SubmitTransferResponse)
	if err := c.cc.Invoke(ctx, submitTransferMethod, req, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TransferServiceClient) GetTransfer(ctx context.Context, req *GetTransferRequest, opts ...grpcpkg.CallOption) (*Transfer, error) {
	out := new(Transfer)
	if err := c.cc.Invoke(ctx, getTransferMethod, req, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpcpkg.CallOption) []grpcpkg.CallOption {
	return append([]grpcpkg.CallOption{grpcpkg.CallContentSubtype(JSONCodec{}.Name())}, opts...)
}
