// Package statusserver exposes the run status of the simulator through the
// standard gRPC health service.
package statusserver

import (
	"context"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/internal/observability"
	"github.com/signalsfoundry/epidemic-simulator/timectrl"
)

// ServiceName is the health service name reported for the simulation run.
const ServiceName = "epidemic.simulator"

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// New builds a Server reporting NOT_SERVING until SetServing(true). rpc may
// be nil.
func New(rpc *observability.RPCCollector, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	opts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if rpc != nil {
		opts = append(opts, grpc.ChainUnaryInterceptor(rpc.UnaryServerInterceptor()))
	}

	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips the reported status of ServiceName.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.log.Debug(context.Background(), "status changed", logging.String("status", status.String()))
}

// Follow reports SERVING from the moment clock commits tick 0 until the run
// finishes or ctx is done. The returned channel is closed once the status is
// back to NOT_SERVING.
func (s *Server) Follow(ctx context.Context, clock timectrl.SimClock) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.SetServing(false)
		if reached, err := clock.Wait(ctx, 0); !reached || err != nil {
			return
		}
		s.SetServing(true)
		select {
		case <-clock.Done():
		case <-ctx.Done():
		}
	}()
	return done
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "serving gRPC health", logging.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
