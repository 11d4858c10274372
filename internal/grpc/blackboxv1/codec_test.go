package blackboxv1

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

func TestCodecRegistered(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	if codec == nil {
		t.Fatalf("json codec not registered")
	}

	data, err := codec.Marshal(&IngestEventRequest{Service: "payments", RequestId: "req_1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out IngestEventRequest
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Service != "payments" || out.RequestId != "req_1" {
		t.Fatalf("unexpected request: %+v", out)
	}

	var empty HealthRequest
	if err := codec.Unmarshal(nil, &empty); err != nil {
		t.Fatalf("empty payload should decode, got %v", err)
	}
	if err := codec.Unmarshal([]byte("{"), &out); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestNilSafeGetters(t *testing.T) {
	var list *ListIncidentsRequest
	var get *GetIncidentRequest
	var resolve *ResolveIncidentRequest
	if list.GetStatus() != "" || list.GetEnvironment() != "" || get.GetId() != 0 || resolve.GetId() != 0 {
		t.Fatalf("nil getters should return zero values")
	}
}

func TestUnimplementedServer(t *testing.T) {
	var srv IncidentServiceServer = UnimplementedIncidentServiceServer{}
	if _, err := srv.GetIncident(context.Background(), &GetIncidentRequest{Id: 1}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented, got %v", err)
	}
}

func TestServiceDescHandlersHonourInterceptor(t *testing.T) {
	srv := UnimplementedIncidentServiceServer{}
	dec := func(v any) error {
		return encoding.GetCodec(CodecName).Unmarshal([]byte(`{"id":7}`), v)
	}
	for _, m := range IncidentServiceDesc.Methods {
		var seen string
		interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			seen = info.FullMethod
			return handler(ctx, req)
		}
		_, err := m.Handler(srv, context.Background(), dec, interceptor)
		if status.Code(err) != codes.Unimplemented {
			t.Fatalf("%s: expected unimplemented, got %v", m.MethodName, err)
		}
		if want := "/" + ServiceName + "/" + m.MethodName; seen != want {
			t.Fatalf("interceptor saw %q, want %q", seen, want)
		}
		if _, err := m.Handler(srv, context.Background(), dec, nil); status.Code(err) != codes.Unimplemented {
			t.Fatalf("%s without interceptor: %v", m.MethodName, err)
		}
	}
}
