// Package proxy exposes the mediator over gRPC. Messages are
// google.protobuf.Struct documents so the service needs no generated code;
// the field names are listed on each Handler method.
package proxy

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "mediator.v1.Mediator"

// Full method names.
const (
	MethodProcess       = "/" + ServiceName + "/Process"
	MethodProcessWith   = "/" + ServiceName + "/ProcessWith"
	MethodAnalyze       = "/" + ServiceName + "/Analyze"
	MethodEstimate      = "/" + ServiceName + "/Estimate"
	MethodListProviders = "/" + ServiceName + "/ListProviders"
	MethodCacheStats    = "/" + ServiceName + "/CacheStats"
)

// MediatorServer is the server API for the Mediator service.
type MediatorServer interface {
	Process(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessWith(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Estimate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProviders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CacheStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterMediatorServer registers srv on s.
func RegisterMediatorServer(s grpc.ServiceRegistrar, srv MediatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(MediatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// methodHandler has the shape of grpc.MethodDesc.Handler.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(fullMethod string, call unaryMethod) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MediatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(MediatorServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc is the grpc.ServiceDesc for the Mediator service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MediatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Process", Handler: unaryHandler(MethodProcess, MediatorServer.Process)},
		{MethodName: "ProcessWith", Handler: unaryHandler(MethodProcessWith, MediatorServer.ProcessWith)},
		{MethodName: "Analyze", Handler: unaryHandler(MethodAnalyze, MediatorServer.Analyze)},
		{MethodName: "Estimate", Handler: unaryHandler(MethodEstimate, MediatorServer.Estimate)},
		{MethodName: "ListProviders", Handler: unaryHandler(MethodListProviders, MediatorServer.ListProviders)},
		{MethodName: "CacheStats", Handler: unaryHandler(MethodCacheStats, MediatorServer.CacheStats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mediator/v1/mediator.proto",
}
