package transport

import (
	"fmt"
	"net"

	"kafkadump/internal/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name reported alongside the overall ("")
// status.
const Service = "kafkadump"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartServer listens on port (0 picks one) and serves grpc.health.v1 in the
// background. The initial status is NOT_SERVING.
func StartServer(port int) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)

	go func() {
		if err := s.grpc.Serve(lis); err != nil {
			logging.Component("transport").Error("grpc server stopped", "err", err)
		}
	}()
	logging.Component("transport").Info("health endpoint listening", "addr", lis.Addr().String())
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(Service, st)
}

// Stop reports NOT_SERVING to watchers and shuts the server down.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
