package admin

import (
	"context"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oriys/alarmgen/internal/aggregator"
	"github.com/oriys/alarmgen/internal/alarm"
	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/metrics"
	"github.com/oriys/alarmgen/internal/observability"
	"github.com/oriys/alarmgen/internal/partmgr"
)

// Server exposes the seven admin contracts of spec.md §6 over HTTP JSON, and
// hosts a gRPC health service for orchestrator liveness probes.
type Server struct {
	InstanceID string
	Manager    *partmgr.Manager
	Alarms     *alarm.Engine
	Cycle      *aggregator.Cycle

	httpSrv  *http.Server
	grpcSrv  *grpc.Server
	health   *health.Server
}

// NewServer wires a Server to the live partition manager, alarm engine, and
// aggregator cycle it reports on.
func NewServer(instanceID string, mgr *partmgr.Manager, alarms *alarm.Engine, cycle *aggregator.Cycle) *Server {
	s := &Server{InstanceID: instanceID, Manager: mgr, Alarms: alarms, Cycle: cycle}
	s.health = health.NewServer()
	return s
}

// ServeHTTP starts the JSON admin mux on addr; it blocks until ctx is
// cancelled or the listener fails.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/partition-ownership", s.handlePartitionOwnership)
	mux.HandleFunc("/admin/partition-status", s.handlePartitionStatus)
	mux.HandleFunc("/admin/uve-table-alarm", s.handleUVETableAlarm)
	mux.HandleFunc("/admin/uve-table-info", s.handleUVETableInfo)
	mux.HandleFunc("/admin/uve-table-perf", s.handleUVETablePerf)
	mux.HandleFunc("/admin/alarm-config", s.handleAlarmConfig)
	mux.HandleFunc("/admin/alarm-ack", s.handleAlarmAck)
	mux.Handle("/metrics", metrics.Handler())

	s.httpSrv = &http.Server{Addr: addr, Handler: withRecovery(observability.HTTPMiddleware(mux))}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.httpSrv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// ServeGRPC starts the gRPC health service on addr; it blocks until ctx is
// cancelled or the listener fails.
func (s *Server) ServeGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(unaryRecoveryInterceptor))
	grpc_health_v1.RegisterHealthServer(s.grpcSrv, s.health)
	s.health.SetServingStatus("alarmgen", grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpcSrv.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.grpcSrv.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// withRecovery recovers panics in admin handlers into a 500 response,
// grounded on internal/grpc/interceptors.go's panic-recovery interceptor.
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Op().Error("admin: handler panic", "panic", rec, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func unaryRecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Op().Error("admin: grpc handler panic", "panic", rec, "method", info.FullMethod)
		}
	}()
	return handler(ctx, req)
}
