// Package grpc exposes the read projection as a gRPC service. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/DarkMukke/backup-discord-bot/metrics"
	"github.com/DarkMukke/backup-discord-bot/projection"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName               = "archive.v1.ArchiveService"
	MethodListCurrentMessages = "/" + ServiceName + "/ListCurrentMessages"
	MethodListRevisions       = "/" + ServiceName + "/ListRevisions"
)

// Reader renders archived messages.
type Reader interface {
	ListCurrentMessages(ctx context.Context, discordChannelID, cursor int64, limit int) (*projection.Page, error)
	ListRevisions(ctx context.Context, discordMessageID int64) ([]projection.RevisionView, error)
}

// ArchiveServer is the server API for archive.v1.ArchiveService.
type ArchiveServer interface {
	ListCurrentMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListRevisions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ArchiveServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListCurrentMessages", Handler: unaryHandler(MethodListCurrentMessages, ArchiveServer.ListCurrentMessages)},
		{MethodName: "ListRevisions", Handler: unaryHandler(MethodListRevisions, ArchiveServer.ListRevisions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "archive/v1/archive.proto",
}

func unaryHandler(method string, call func(ArchiveServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ArchiveServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ArchiveServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type Server struct {
	addr   string
	reader Reader
	srv    *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewServer(addr string, reader Reader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		reader: reader,
		health: health.NewServer(),
		logger: logger.With("module", "grpc"),
	}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.observe))
	s.srv.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) observe(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	code := status.Code(err)
	metrics.GRPCRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
	if err != nil && code == codes.Internal {
		s.logger.Error("grpc.request_failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc.starting", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.Serve(lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

func (s *Server) ListCurrentMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	channelID, err := idField(req, "channel_id", true)
	if err != nil {
		return nil, err
	}
	cursor, err := idField(req, "cursor", false)
	if err != nil {
		return nil, err
	}
	limit := 0
	if v, ok := req.GetFields()["limit"]; ok {
		limit = int(v.GetNumberValue())
	}

	page, err := s.reader.ListCurrentMessages(ctx, channelID, cursor, limit)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(page)
}

func (s *Server) ListRevisions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	messageID, err := idField(req, "message_id", true)
	if err != nil {
		return nil, err
	}
	revisions, err := s.reader.ListRevisions(ctx, messageID)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(map[string]any{"revisions": revisions})
}

// idField reads a snowflake sent as a string.
func idField(req *structpb.Struct, name string, required bool) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok || v.GetStringValue() == "" {
		if required {
			return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
		}
		return 0, nil
	}
	id, err := strconv.ParseInt(v.GetStringValue(), 10, 64)
	if err != nil || id <= 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a snowflake", name)
	}
	return id, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
