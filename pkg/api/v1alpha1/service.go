package v1alpha1

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// JSONCodecName is the gRPC content-subtype used by the BigCalculator service.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const serviceName = "kllama.v1alpha1.BigCalculator"

const (
	BigCalculator_Calculate_FullMethodName      = "/" + serviceName + "/Calculate"
	BigCalculator_OpenSession_FullMethodName    = "/" + serviceName + "/OpenSession"
	BigCalculator_Run_FullMethodName            = "/" + serviceName + "/Run"
	BigCalculator_ReadVariables_FullMethodName  = "/" + serviceName + "/ReadVariables"
	BigCalculator_WriteVariables_FullMethodName = "/" + serviceName + "/WriteVariables"
	BigCalculator_CloseSession_FullMethodName   = "/" + serviceName + "/CloseSession"
)

type BigCalculatorClient interface {
	Calculate(ctx context.Context, in *CalculateRequest, opts ...grpc.CallOption) (*CalculateResponse, error)
	OpenSession(ctx context.Context, in *OpenSessionRequest, opts ...grpc.CallOption) (*OpenSessionResponse, error)
	Run(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunResponse, error)
	ReadVariables(ctx context.Context, in *ReadVariablesRequest, opts ...grpc.CallOption) (*ReadVariablesResponse, error)
	WriteVariables(ctx context.Context, in *WriteVariablesRequest, opts ...grpc.CallOption) (*WriteVariablesResponse, error)
	CloseSession(ctx context.Context, in *CloseSessionRequest, opts ...grpc.CallOption) (*CloseSessionResponse, error)
}

type bigCalculatorClient struct {
	cc grpc.ClientConnInterface
}

func NewBigCalculatorClient(cc grpc.ClientConnInterface) BigCalculatorClient {
	return &bigCalculatorClient{cc: cc}
}

func (c *bigCalculatorClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *bigCalculatorClient) Calculate(ctx context.Context, in *CalculateRequest, opts ...grpc.CallOption) (*CalculateResponse, error) {
	out := new(CalculateResponse)
	if err := c.invoke(ctx, BigCalculator_Calculate_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bigCalculatorClient) OpenSession(ctx context.Context, in *OpenSessionRequest, opts ...grpc.CallOption) (*OpenSessionResponse, error) {
	out := new(OpenSessionResponse)
	if err := c.invoke(ctx, BigCalculator_OpenSession_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bigCalculatorClient) Run(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.invoke(ctx, BigCalculator_Run_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bigCalculatorClient) ReadVariables(ctx context.Context, in *ReadVariablesRequest, opts ...grpc.CallOption) (*ReadVariablesResponse, error) {
	out := new(ReadVariablesResponse)
	if err := c.invoke(ctx, BigCalculator_ReadVariables_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bigCalculatorClient) WriteVariables(ctx context.Context, in *WriteVariablesRequest, opts ...grpc.CallOption) (*WriteVariablesResponse, error) {
	out := new(WriteVariablesResponse)
	if err := c.invoke(ctx, BigCalculator_WriteVariables_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bigCalculatorClient) CloseSession(ctx context.Context, in *CloseSessionRequest, opts ...grpc.CallOption) (*CloseSessionResponse, error) {
	out := new(CloseSessionResponse)
	if err := c.invoke(ctx, BigCalculator_CloseSession_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

type BigCalculatorServer interface {
	Calculate(context.Context, *CalculateRequest) (*CalculateResponse, error)
	OpenSession(context.Context, *OpenSessionRequest) (*OpenSessionResponse, error)
	Run(context.Context, *RunRequest) (*RunResponse, error)
	ReadVariables(context.Context, *ReadVariablesRequest) (*ReadVariablesResponse, error)
	WriteVariables(context.Context, *WriteVariablesRequest) (*WriteVariablesResponse, error)
	CloseSession(context.Context, *CloseSessionRequest) (*CloseSessionResponse, error)
}

// UnimplementedBigCalculatorServer can be embedded to have forward compatible implementations.
type UnimplementedBigCalculatorServer struct{}

func (UnimplementedBigCalculatorServer) Calculate(context.Context, *CalculateRequest) (*CalculateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Calculate not implemented")
}

func (UnimplementedBigCalculatorServer) OpenSession(context.Context, *OpenSessionRequest) (*OpenSessionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method OpenSession not implemented")
}

func (UnimplementedBigCalculatorServer) Run(context.Context, *RunRequest) (*RunResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Run not implemented")
}

func (UnimplementedBigCalculatorServer) ReadVariables(context.Context, *ReadVariablesRequest) (*ReadVariablesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReadVariables not implemented")
}

func (UnimplementedBigCalculatorServer) WriteVariables(context.Context, *WriteVariablesRequest) (*WriteVariablesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method WriteVariables not implemented")
}

func (UnimplementedBigCalculatorServer) CloseSession(context.Context, *CloseSessionRequest) (*CloseSessionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CloseSession not implemented")
}

func RegisterBigCalculatorServer(s grpc.ServiceRegistrar, srv BigCalculatorServer) {
	s.RegisterService(&BigCalculator_ServiceDesc, srv)
}

// unaryHandler adapts a typed server method to a grpc.MethodDesc handler.
func unaryHandler[Req any, Resp any](fullMethod string, call func(BigCalculatorServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BigCalculatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BigCalculatorServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var BigCalculator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BigCalculatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Calculate",
			Handler:    unaryHandler(BigCalculator_Calculate_FullMethodName, BigCalculatorServer.Calculate),
		},
		{
			MethodName: "OpenSession",
			Handler:    unaryHandler(BigCalculator_OpenSession_FullMethodName, BigCalculatorServer.OpenSession),
		},
		{
			MethodName: "Run",
			Handler:    unaryHandler(BigCalculator_Run_FullMethodName, BigCalculatorServer.Run),
		},
		{
			MethodName: "ReadVariables",
			Handler:    unaryHandler(BigCalculator_ReadVariables_FullMethodName, BigCalculatorServer.ReadVariables),
		},
		{
			MethodName: "WriteVariables",
			Handler:    unaryHandler(BigCalculator_WriteVariables_FullMethodName, BigCalculatorServer.WriteVariables),
		},
		{
			MethodName: "CloseSession",
			Handler:    unaryHandler(BigCalculator_CloseSession_FullMethodName, BigCalculatorServer.CloseSession),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/v1alpha1/calculator.proto",
}
