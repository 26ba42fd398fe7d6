// Package adminrpc is the admin control plane (SPEC_FULL.md supplemented
// feature: a gRPC surface for ResolveMarket/CloseMarket alongside the REST
// admin routes). The teacher's own grpc usage (internal/grpc/server,
// internal/trading/grpc/pool.go) never ships a .proto/.pb.go pair either;
// rather than fabricate a hand-rolled protoc-generated file, request and
// response messages here are google.golang.org/protobuf/types/known/structpb.Struct
// values - a real, pre-compiled protobuf message requiring no code
// generation - wired into a hand-written grpc.ServiceDesc in the same
// shape protoc-gen-go-grpc would emit.
package adminrpc

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/settlement"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// Service implements the two admin RPCs against settlement.Service.
type Service struct {
	settlement *settlement.Service
	logger     *zap.Logger
}

func NewService(settle *settlement.Service, logger *zap.Logger) *Service {
	return &Service{settlement: settle, logger: logger}
}

// ResolveMarket expects a Struct with fields "market_id" and "outcome"
// ("YES"/"NO") and returns a Struct with field "status".
func (s *Service) ResolveMarket(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	marketID, err := uuid.Parse(req.Fields["market_id"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "market_id must be a uuid")
	}
	outcome := domain.Outcome(req.Fields["outcome"].GetStringValue())
	if outcome != domain.YES && outcome != domain.NO {
		return nil, status.Error(codes.InvalidArgument, "outcome must be YES or NO")
	}
	if err := s.settlement.ResolveMarket(ctx, marketID, outcome); err != nil {
		return nil, toGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"status": "resolved"})
}

// CloseMarket expects a Struct with field "market_id".
func (s *Service) CloseMarket(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	marketID, err := uuid.Parse(req.Fields["market_id"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "market_id must be a uuid")
	}
	if err := s.settlement.CloseMarket(ctx, marketID); err != nil {
		return nil, toGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"status": "closed"})
}

func toGRPCError(err error) error {
	code, ok := xerrors.CodeOf(err)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	switch code {
	case xerrors.CodeUnknownMarket, xerrors.CodeNotFound:
		return status.Error(codes.NotFound, string(code))
	case xerrors.CodeMarketNotOpen:
		return status.Error(codes.FailedPrecondition, string(code))
	default:
		return status.Error(codes.Internal, string(code))
	}
}

// ServiceName is the gRPC full method prefix, following the
// package.Service convention protoc-gen-go-grpc would generate.
const ServiceName = "predictcore.admin.v1.AdminService"

func resolveMarketHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).ResolveMarket(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ResolveMarket"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).ResolveMarket(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func closeMarketHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).CloseMarket(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/CloseMarket"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).CloseMarket(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a two-RPC AdminService. Register (below) mirrors the
// generated RegisterAdminServiceServer(s *grpc.Server, srv AdminServiceServer).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ResolveMarket", Handler: resolveMarketHandler},
		{MethodName: "CloseMarket", Handler: closeMarketHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminrpc/service.proto",
}

// Register wires svc onto server, the way a generated
// RegisterAdminServiceServer function would.
func Register(server *grpc.Server, svc *Service) {
	server.RegisterService(&ServiceDesc, svc)
}
