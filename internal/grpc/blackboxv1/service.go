package blackboxv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "blackbox.v1.IncidentService"

const (
	IngestEventFullMethodName     = "/" + ServiceName + "/IngestEvent"
	ListIncidentsFullMethodName   = "/" + ServiceName + "/ListIncidents"
	GetIncidentFullMethodName     = "/" + ServiceName + "/GetIncident"
	ResolveIncidentFullMethodName = "/" + ServiceName + "/ResolveIncident"
	ListEventsFullMethodName      = "/" + ServiceName + "/ListEvents"
	HealthCheckFullMethodName     = "/" + ServiceName + "/HealthCheck"
)

// IncidentServiceServer is the server API for blackbox.v1.IncidentService.
type IncidentServiceServer interface {
	IngestEvent(context.Context, *IngestEventRequest) (*IngestEventResponse, error)
	ListIncidents(context.Context, *ListIncidentsRequest) (*ListIncidentsResponse, error)
	GetIncident(context.Context, *GetIncidentRequest) (*IncidentDetail, error)
	ResolveIncident(context.Context, *ResolveIncidentRequest) (*ResolveIncidentResponse, error)
	ListEvents(context.Context, *ListEventsRequest) (*ListEventsResponse, error)
	HealthCheck(context.Context, *HealthRequest) (*HealthResponse, error)
}

// UnimplementedIncidentServiceServer answers every method with codes.Unimplemented.
type UnimplementedIncidentServiceServer struct{}

func (UnimplementedIncidentServiceServer) IngestEvent(context.Context, *IngestEventRequest) (*IngestEventResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method IngestEvent not implemented")
}
func (UnimplementedIncidentServiceServer) ListIncidents(context.Context, *ListIncidentsRequest) (*ListIncidentsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListIncidents not implemented")
}
func (UnimplementedIncidentServiceServer) GetIncident(context.Context, *GetIncidentRequest) (*IncidentDetail, error) {
	return nil, status.Error(codes.Unimplemented, "method GetIncident not implemented")
}
func (UnimplementedIncidentServiceServer) ResolveIncident(context.Context, *ResolveIncidentRequest) (*ResolveIncidentResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ResolveIncident not implemented")
}
func (UnimplementedIncidentServiceServer) ListEvents(context.Context, *ListEventsRequest) (*ListEventsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListEvents not implemented")
}
func (UnimplementedIncidentServiceServer) HealthCheck(context.Context, *HealthRequest) (*HealthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method HealthCheck not implemented")
}

// RegisterIncidentServiceServer attaches srv to s.
func RegisterIncidentServiceServer(s grpc.ServiceRegistrar, srv IncidentServiceServer) {
	s.RegisterService(&IncidentServiceDesc, srv)
}

// methodHandler matches grpc.MethodDesc.Handler.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

// unary adapts a typed method into a method handler, honouring the
// server's interceptor chain.
func unary[Req, Resp any](fullMethod string, call func(IncidentServiceServer, context.Context, *Req) (*Resp, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IncidentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IncidentServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// IncidentServiceDesc describes blackbox.v1.IncidentService.
var IncidentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IncidentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IngestEvent", Handler: unary(IngestEventFullMethodName, IncidentServiceServer.IngestEvent)},
		{MethodName: "ListIncidents", Handler: unary(ListIncidentsFullMethodName, IncidentServiceServer.ListIncidents)},
		{MethodName: "GetIncident", Handler: unary(GetIncidentFullMethodName, IncidentServiceServer.GetIncident)},
		{MethodName: "ResolveIncident", Handler: unary(ResolveIncidentFullMethodName, IncidentServiceServer.ResolveIncident)},
		{MethodName: "ListEvents", Handler: unary(ListEventsFullMethodName, IncidentServiceServer.ListEvents)},
		{MethodName: "HealthCheck", Handler: unary(HealthCheckFullMethodName, IncidentServiceServer.HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blackbox/v1/incident_service",
}

// IncidentServiceClient is the client API for blackbox.v1.IncidentService.
type IncidentServiceClient interface {
	IngestEvent(ctx context.Context, in *IngestEventRequest, opts ...grpc.CallOption) (*IngestEventResponse, error)
	ListIncidents(ctx context.Context, in *ListIncidentsRequest, opts ...grpc.CallOption) (*ListIncidentsResponse, error)
	GetIncident(ctx context.Context, in *GetIncidentRequest, opts ...grpc.CallOption) (*IncidentDetail, error)
	ResolveIncident(ctx context.Context, in *ResolveIncidentRequest, opts ...grpc.CallOption) (*ResolveIncidentResponse, error)
	ListEvents(ctx context.Context, in *ListEventsRequest, opts ...grpc.CallOption) (*ListEventsResponse, error)
	HealthCheck(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
}

type incidentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewIncidentServiceClient returns a client that always selects the JSON codec.
func NewIncidentServiceClient(cc grpc.ClientConnInterface) IncidentServiceClient {
	return &incidentServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *incidentServiceClient) IngestEvent(ctx context.Context, in *IngestEventRequest, opts ...grpc.CallOption) (*IngestEventResponse, error) {
	return invoke[IngestEventResponse](ctx, c.cc, IngestEventFullMethodName, in, opts)
}

func (c *incidentServiceClient) ListIncidents(ctx context.Context, in *ListIncidentsRequest, opts ...grpc.CallOption) (*ListIncidentsResponse, error) {
	return invoke[ListIncidentsResponse](ctx, c.cc, ListIncidentsFullMethodName, in, opts)
}

func (c *incidentServiceClient) GetIncident(ctx context.Context, in *GetIncidentRequest, opts ...grpc.CallOption) (*IncidentDetail, error) {
	return invoke[IncidentDetail](ctx, c.cc, GetIncidentFullMethodName, in, opts)
}

func (c *incidentServiceClient) ResolveIncident(ctx context.Context, in *ResolveIncidentRequest, opts ...grpc.CallOption) (*ResolveIncidentResponse, error) {
	return invoke[ResolveIncidentResponse](ctx, c.cc, ResolveIncidentFullMethodName, in, opts)
}

func (c *incidentServiceClient) ListEvents(ctx context.Context, in *ListEventsRequest, opts ...grpc.CallOption) (*ListEventsResponse, error) {
	return invoke[ListEventsResponse](ctx, c.cc, ListEventsFullMethodName, in, opts)
}

func (c *incidentServiceClient) HealthCheck(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c.cc, HealthCheckFullMethodName, in, opts)
}
