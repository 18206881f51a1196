package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "incident.v1.IncidentEngine"

const (
	runIncidentMethod   = "/" + ServiceName + "/RunIncident"
	getIncidentMethod   = "/" + ServiceName + "/GetIncident"
	listIncidentsMethod = "/" + ServiceName + "/ListIncidents"
)

// IncidentEngineServer is the server API. Messages are google.protobuf.Struct
// documents whose keys mirror the JSON form of the domain models.
type IncidentEngineServer interface {
	RunIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedIncidentEngineServer can be embedded for forward compatibility.
type UnimplementedIncidentEngineServer struct{}

func (UnimplementedIncidentEngineServer) RunIncident(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method RunIncident not implemented")
}

func (UnimplementedIncidentEngineServer) GetIncident(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetIncident not implemented")
}

func (UnimplementedIncidentEngineServer) ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListIncidents not implemented")
}

// RegisterIncidentEngineServer attaches srv to a gRPC registrar.
func RegisterIncidentEngineServer(s grpc.ServiceRegistrar, srv IncidentEngineServer) {
	s.RegisterService(&IncidentEngineServiceDesc, srv)
}

func unaryHandler(method string, call func(IncidentEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IncidentEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IncidentEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// IncidentEngineServiceDesc describes the service for grpc.Server.
var IncidentEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IncidentEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunIncident",
			Handler:    unaryHandler(runIncidentMethod, IncidentEngineServer.RunIncident),
		},
		{
			MethodName: "GetIncident",
			Handler:    unaryHandler(getIncidentMethod, IncidentEngineServer.GetIncident),
		},
		{
			MethodName: "ListIncidents",
			Handler:    unaryHandler(listIncidentsMethod, IncidentEngineServer.ListIncidents),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "incident/v1/incident.proto",
}

// IncidentEngineClient calls a remote IncidentEngine.
type IncidentEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewIncidentEngineClient wraps an established connection.
func NewIncidentEngineClient(cc grpc.ClientConnInterface) *IncidentEngineClient {
	return &IncidentEngineClient{cc: cc}
}

func (c *IncidentEngineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IncidentEngineClient) RunIncident(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, runIncidentMethod, in, opts...)
}

func (c *IncidentEngineClient) GetIncident(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getIncidentMethod, in, opts...)
}

func (c *IncidentEngineClient) ListIncidents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, listIncidentsMethod, in, opts...)
}
