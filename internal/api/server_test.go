package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/blackbox/internal/config"
	blackboxv1 "github.com/miradorstack/blackbox/internal/grpc/blackboxv1"
)

type incidentServerStub struct {
	blackboxv1.UnimplementedIncidentServiceServer
	lastIngest *blackboxv1.IngestEventRequest
}

func (s *incidentServerStub) IngestEvent(_ context.Context, req *blackboxv1.IngestEventRequest) (*blackboxv1.IngestEventResponse, error) {
	s.lastIngest = req
	return &blackboxv1.IngestEventResponse{Event: &blackboxv1.Event{Id: 42, Service: req.Service}, OpenedIncidentId: 1}, nil
}

func (s *incidentServerStub) GetIncident(context.Context, *blackboxv1.GetIncidentRequest) (*blackboxv1.IncidentDetail, error) {
	panic("boom")
}

func (s *incidentServerStub) HealthCheck(context.Context, *blackboxv1.HealthRequest) (*blackboxv1.HealthResponse, error) {
	return &blackboxv1.HealthResponse{Status: "SERVING"}, nil
}

func startServer(t *testing.T, srv blackboxv1.IncidentServiceServer) *grpc.ClientConn {
	t.Helper()
	_, conn := startServerWithHandle(t, srv)
	return conn
}

func startServerWithHandle(t *testing.T, srv blackboxv1.IncidentServiceServer) (*Server, *grpc.ClientConn) {
	t.Helper()
	server, err := NewServer(config.ServerConfig{GRPCAddress: "127.0.0.1:0", GracefulTimeout: time.Second}, srv, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(server.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return server, conn
}

func TestServerRoundTripJSONCodec(t *testing.T) {
	stub := &incidentServerStub{}
	conn := startServer(t, stub)
	client := blackboxv1.NewIncidentServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.IngestEvent(ctx, &blackboxv1.IngestEventRequest{Service: "payments", Level: "error", RequestId: "req_1"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if resp.Event.Id != 42 || resp.Event.Service != "payments" || resp.OpenedIncidentId != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if stub.lastIngest == nil || stub.lastIngest.RequestId != "req_1" {
		t.Fatalf("request not delivered: %+v", stub.lastIngest)
	}

	health, err := client.HealthCheck(ctx, &blackboxv1.HealthRequest{})
	if err != nil || health.Status != "SERVING" {
		t.Fatalf("unexpected health: %+v, %v", health, err)
	}

	_, err = client.ListEvents(ctx, &blackboxv1.ListEventsRequest{})
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}
}

func TestServerRegistersHealthService(t *testing.T) {
	conn := startServer(t, &incidentServerStub{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: blackboxv1.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

func TestServerRecoversHandlerPanic(t *testing.T) {
	conn := startServer(t, &incidentServerStub{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := blackboxv1.NewIncidentServiceClient(conn).GetIncident(ctx, &blackboxv1.GetIncidentRequest{Id: 1})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected internal after panic, got %v", err)
	}
	// The server keeps serving after a recovered panic.
	if _, err := blackboxv1.NewIncidentServiceClient(conn).HealthCheck(ctx, &blackboxv1.HealthRequest{}); err != nil {
		t.Fatalf("health after panic: %v", err)
	}
}

func TestWatchHealthFollowsProbe(t *testing.T) {
	server, conn := startServerWithHandle(t, &incidentServerStub{})
	healthClient := healthpb.NewHealthClient(conn)

	var failing atomic.Bool
	failing.Store(true)
	probe := func(context.Context) error {
		if failing.Load() {
			return errors.New("store unreachable")
		}
		return nil
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go server.WatchHealth(watchCtx, probe, 10*time.Millisecond)

	waitFor := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: blackboxv1.ServiceName})
			cancel()
			if err == nil && resp.GetStatus() == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("health never reached %v", want)
	}

	waitFor(healthpb.HealthCheckResponse_NOT_SERVING)
	failing.Store(false)
	waitFor(healthpb.HealthCheckResponse_SERVING)
}
