// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package grpcsse serves an [sse.Engine] over the qlik.sse.Connector gRPC
// service.
package grpcsse

import (
	"context"
	"errors"
	"strings"

	"github.com/Query-farm/sse-plugin/sse"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified name of the Connector service.
const ServiceName = "qlik.sse.Connector"

// Full method names.
const (
	MethodGetCapabilities = "/" + ServiceName + "/GetCapabilities"
	MethodExecuteFunction = "/" + ServiceName + "/ExecuteFunction"
	MethodEvaluateScript  = "/" + ServiceName + "/EvaluateScript"
)

// ConnectorServer is the server API of the Connector service.
type ConnectorServer interface {
	GetCapabilities(context.Context, *Empty) (*sse.Capabilities, error)
	ExecuteFunction(grpc.ServerStream) error
	EvaluateScript(grpc.ServerStream) error
}

// ServiceDesc describes the Connector service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConnectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCapabilities", Handler: getCapabilitiesHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ExecuteFunction",
			Handler:       executeFunctionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName:    "EvaluateScript",
			Handler:       evaluateScriptHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ServerSideExtension.proto",
}

func getCapabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConnectorServer).GetCapabilities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetCapabilities}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConnectorServer).GetCapabilities(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func executeFunctionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConnectorServer).ExecuteFunction(stream)
}

func evaluateScriptHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConnectorServer).EvaluateScript(stream)
}

// Server implements ConnectorServer on top of an engine.
type Server struct {
	engine *sse.Engine
}

var _ ConnectorServer = (*Server)(nil)

// NewServer returns a Connector implementation for engine.
func NewServer(engine *sse.Engine) *Server {
	return &Server{engine: engine}
}

// Register registers srv on registrar.
func Register(registrar grpc.ServiceRegistrar, srv *Server) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// NewGRPCServer returns a grpc.Server with the Connector service registered
// and Codec forced on every method.
func NewGRPCServer(engine *sse.Engine, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ForceServerCodec(Codec{})}, opts...)
	s := grpc.NewServer(opts...)
	Register(s, NewServer(engine))
	return s
}

// GetCapabilities returns the engine's capability table.
func (s *Server) GetCapabilities(ctx context.Context, _ *Empty) (*sse.Capabilities, error) {
	caps := s.engine.Describe()
	s.engine.Logger().DebugContext(ctx, "capabilities requested", "functions", len(caps.Functions))
	return &caps, nil
}

// ExecuteFunction runs one execute call. The function header is read from the
// incoming metadata.
func (s *Server) ExecuteFunction(stream grpc.ServerStream) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	call, err := sse.ReadCall(func(key string) ([]byte, bool) {
		vals := md.Get(key)
		if len(vals) == 0 {
			return nil, false
		}
		return []byte(vals[0]), true
	})
	if err != nil {
		return toStatus(err)
	}
	call.Transport = "grpc"
	if vals := md.Get(sse.MetaRequestID); len(vals) > 0 {
		call.RequestID = vals[0]
	}
	call.Metadata = flatten(md)
	return toStatus(s.engine.Execute(ctx, call, &grpcStream{stream: stream}))
}

// EvaluateScript is not supported; capabilities advertise AllowScript=false.
func (s *Server) EvaluateScript(grpc.ServerStream) error {
	return status.Error(codes.Unimplemented, "script evaluation is not supported")
}

// grpcStream adapts a server stream to sse.BundleStream.
type grpcStream struct {
	stream grpc.ServerStream
}

func (g *grpcStream) Recv() (sse.RowBundle, error) {
	var raw rawMessage
	if err := g.stream.RecvMsg(&raw); err != nil {
		return nil, err
	}
	b, err := consumeBundle(raw)
	if err != nil {
		return nil, &sse.Error{Type: sse.ProtocolViolation, Message: "malformed bundle: " + err.Error(), Err: err}
	}
	return b, nil
}

func (g *grpcStream) Send(b sse.RowBundle) error {
	return g.stream.SendMsg(&b)
}

// SetHeader adds to the response header, which is sent ahead of the first
// bundle.
func (g *grpcStream) SetHeader(key, value string) error {
	return g.stream.SetHeader(metadata.Pairs(key, value))
}

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var e *sse.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, err.Error())
	}
	var code codes.Code
	switch e.Type {
	case sse.ProtocolViolation:
		code = codes.InvalidArgument
	case sse.UnknownFunction:
		code = codes.Unimplemented
	case sse.StreamCancelled:
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, e.Error())
}

// flatten keeps the text metadata of a call. Binary keys are left out.
func flatten(md metadata.MD) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		if strings.HasSuffix(k, "-bin") || len(v) == 0 {
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	return out
}
