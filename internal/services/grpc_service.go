package services

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/blackbox/internal/api"
	blackboxv1 "github.com/miradorstack/blackbox/internal/grpc/blackboxv1"
	"github.com/miradorstack/blackbox/internal/utils"
)

// GRPCService implements blackbox.v1.IncidentService over the facade.
type GRPCService struct {
	blackboxv1.UnimplementedIncidentServiceServer

	logger  *slog.Logger
	service *IncidentService
}

// NewGRPCService constructs the gRPC adapter.
func NewGRPCService(logger *slog.Logger, service *IncidentService) *GRPCService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCService{logger: logger, service: service}
}

func (s *GRPCService) IngestEvent(ctx context.Context, req *blackboxv1.IngestEventRequest) (*blackboxv1.IngestEventResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	ev, err := api.FromWireIngestRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := s.service.Ingest(ctx, ev)
	if err != nil {
		return nil, toStatus(err, "ingest failed")
	}
	return api.ToWireIngestResponse(result.Event, result.Opened, result.Correlations), nil
}

func (s *GRPCService) ListIncidents(ctx context.Context, req *blackboxv1.ListIncidentsRequest) (*blackboxv1.ListIncidentsResponse, error) {
	filter, err := api.FromWireListIncidentsRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	incidents, err := s.service.ListIncidents(ctx, filter)
	if err != nil {
		s.logger.Error("list incidents failed", slog.Any("error", err))
		return nil, toStatus(err, "failed to list incidents")
	}
	return api.ToWireIncidents(incidents), nil
}

func (s *GRPCService) GetIncident(ctx context.Context, req *blackboxv1.GetIncidentRequest) (*blackboxv1.IncidentDetail, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	detail, err := s.service.Detail(ctx, req.GetId())
	if err != nil {
		if !utils.IsNotFound(err) {
			s.logger.Error("incident detail failed", slog.Int64("incident_id", req.GetId()), slog.Any("error", err))
		}
		return nil, toStatus(err, "failed to load incident")
	}
	return api.ToWireIncidentDetail(detail), nil
}

func (s *GRPCService) ResolveIncident(ctx context.Context, req *blackboxv1.ResolveIncidentRequest) (*blackboxv1.ResolveIncidentResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	inc, err := s.service.Resolve(ctx, req.GetId())
	if err != nil {
		if !utils.IsNotFound(err) {
			s.logger.Error("resolve incident failed", slog.Int64("incident_id", req.GetId()), slog.Any("error", err))
		}
		return nil, toStatus(err, "failed to resolve incident")
	}
	return api.ToWireResolveResponse(inc), nil
}

func (s *GRPCService) ListEvents(ctx context.Context, req *blackboxv1.ListEventsRequest) (*blackboxv1.ListEventsResponse, error) {
	filter, err := api.FromWireListEventsRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	events, err := s.service.ListEvents(ctx, filter)
	if err != nil {
		s.logger.Error("list events failed", slog.Any("error", err))
		return nil, toStatus(err, "failed to list events")
	}
	return api.ToWireEvents(events), nil
}

// HealthCheck reports SERVING while the store answers pings.
func (s *GRPCService) HealthCheck(ctx context.Context, _ *blackboxv1.HealthRequest) (*blackboxv1.HealthResponse, error) {
	if err := s.service.Health(ctx); err != nil {
		s.logger.Warn("health check failed", slog.Any("error", err))
		return &blackboxv1.HealthResponse{Status: "NOT_SERVING"}, nil
	}
	return &blackboxv1.HealthResponse{Status: "SERVING"}, nil
}

// toStatus maps the error taxonomy onto gRPC codes. Internal errors carry
// only msg so storage details stay server-side.
func toStatus(err error, msg string) error {
	switch {
	case utils.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case utils.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, msg)
	}
}
