package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/clusterbits/groupmon/pkg/observability/tracing"
	"github.com/clusterbits/groupmon/pkg/transport"
)

// Server implements transport.StatusServer over gRPC using a JSON codec.
// The monitor exposes a single read-only RPC plus the standard health
// service; there is no mutation surface.
type Server struct {
	bind   string
	lis    net.Listener
	srv    *grpc.Server
	tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct {
	Data []byte `json:"data"`
}

// statusServer defines the methods we expose.
type statusServer interface {
	GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
}

type statusImpl struct{ status transport.StatusFunc }

func (m *statusImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
	ctx, end := tracing.StartSpan(ctx, "grpc.status")
	defer end()
	b, err := m.status(ctx)
	if err != nil {
		return nil, err
	}
	return &statusBlob{Data: b}, nil
}

// Service descriptor and handler (hand-written, no codegen required)
var _Status_serviceDesc = grpc.ServiceDesc{
	ServiceName: "groupmon.v1.Status",
	HandlerType: (*statusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _Status_GetStatus_Handler},
	},
}

func _Status_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(statusServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/groupmon.v1.Status/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(statusServer).GetStatus(ctx, req.(*empty))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, status transport.StatusFunc) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis
	// Force JSON codec to avoid requiring protobuf types
	var opts []grpc.ServerOption
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv

	// Health service (always serving for now)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	srv.RegisterService(&_Status_serviceDesc, &statusImpl{status: status})

	go func() {
		<-ctx.Done()
		// Graceful stop with a small timeout fallback
		ch := make(chan struct{})
		go func() { srv.GracefulStop(); close(ch) }()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

func (s *Server) Addr() string { return s.bind }

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		s.srv.Stop()
	}
	s.srv = nil
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}

var _ transport.StatusServer = (*Server)(nil)
