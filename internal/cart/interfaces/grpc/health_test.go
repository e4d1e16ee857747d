package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/persistence/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type downStore struct {
	*memory.KVStore
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthCheck(t *testing.T) {
	srv := &HealthServer{store: memory.NewKVStore()}
	ctx := context.Background()

	resp, err := srv.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Check = %v, %v", resp.GetStatus(), err)
	}

	srv.store = downStore{memory.NewKVStore()}
	resp, err = srv.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Check on down store = %v, %v", resp.GetStatus(), err)
	}

	_, err = srv.Check(ctx, &healthpb.HealthCheckRequest{Service: "other"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown service code = %v", status.Code(err))
	}
}

func TestHealthOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	NewHealthServer(s, memory.NewKVStore())
	go s.Serve(lis)
	defer s.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error = %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v", resp.GetStatus())
	}
}
