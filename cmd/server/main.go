// Command server runs the full exchange core: the REST boundary, the
// subscriber gateway, and the admin gRPC control plane, all wired through
// go.uber.org/fx the way the teacher's cmd/gateway/main.go and
// cmd/marketdata/main.go compose fx.Options modules rather than
// hand-rolled constructor calls in main.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/adminrpc"
	"github.com/novamarket/predictcore/internal/api"
	"github.com/novamarket/predictcore/internal/auth"
	"github.com/novamarket/predictcore/internal/book"
	"github.com/novamarket/predictcore/internal/broadcast"
	"github.com/novamarket/predictcore/internal/config"
	"github.com/novamarket/predictcore/internal/engine"
	"github.com/novamarket/predictcore/internal/gateway"
	"github.com/novamarket/predictcore/internal/grpcserver"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/ledger/query"
	"github.com/novamarket/predictcore/internal/metrics"
	"github.com/novamarket/predictcore/internal/settlement"
)

var configPath = flag.String("config", "", "directory containing config.yaml")

func main() {
	flag.Parse()

	app := fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideGormDB,
			provideSqlxDB,
			ledger.NewStore,
			query.New,
			book.NewRegistry,
			provideBus,
			provideEngine,
			provideSettlement,
			provideAuth,
			metrics.New,
			provideGatewayServer,
			provideAdminRPCServer,
			provideHandlers,
		),
		fx.Invoke(registerHTTPServer, registerGatewayServer, registerAdminRPCServer),
	)
	app.Run()
}

func provideConfig() (*config.Config, error) {
	return config.Load(*configPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return config.NewLogger(cfg.Monitoring.LogLevel)
}

func provideGormDB(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func provideSqlxDB(cfg *config.Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode)
	return sqlx.Open("pgx", dsn)
}

func provideBus(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (broadcast.Bus, error) {
	var bus broadcast.Bus
	var err error
	switch cfg.Bus.Backend {
	case "nats":
		bus, err = broadcast.NewNATSBus(broadcast.NATSConfig{URL: firstOrDefault(cfg.Bus.NatsURLs)}, logger)
	default:
		bus = broadcast.NewGoChannelBus(logger)
	}
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return bus.Close() }})
	return bus, nil
}

func firstOrDefault(urls []string) string {
	if len(urls) > 0 {
		return urls[0]
	}
	return "nats://127.0.0.1:4222"
}

func provideEngine(cfg *config.Config, registry *book.Registry, store *ledger.Store, bus broadcast.Bus, logger *zap.Logger) *engine.Engine {
	ecfg := engine.DefaultConfig()
	ecfg.TickSize = cfg.Resolved.TickSize
	ecfg.MinOrderQuantity = cfg.Resolved.MinOrderQuantity
	return engine.New(ecfg, registry, store, bus, logger)
}

func provideSettlement(store *ledger.Store, registry *book.Registry, bus broadcast.Bus, logger *zap.Logger) (*settlement.Service, error) {
	return settlement.New(store, registry, bus, logger)
}

func provideAuth(cfg *config.Config, store *ledger.Store, logger *zap.Logger) *auth.Service {
	return auth.NewService(store, auth.JWTConfig{
		SecretKey:     cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenDuration,
		Issuer:        "predictcore",
	}, logger)
}

func provideHandlers(eng *engine.Engine, store *ledger.Store, settle *settlement.Service, authSvc *auth.Service, queries *query.Queries, logger *zap.Logger) *api.Handlers {
	return api.NewHandlers(eng, store, settle, authSvc, queries, logger)
}

func provideGatewayServer(cfg *config.Config, bus broadcast.Bus, authSvc *auth.Service, m *metrics.Metrics, logger *zap.Logger) (*gateway.Server, error) {
	return gateway.NewServer(gateway.Config{
		IdleTimeout:                cfg.Gateway.IdleTimeout,
		OutboundBufferSize:         cfg.Gateway.OutboundBufferSize,
		SubscriptionChurnPerMinute: cfg.Gateway.SubscriptionChurnPerMinute,
		MinProtocolVersion:         cfg.Gateway.MinProtocolVersion,
		MaxProtocolVersion:         cfg.Gateway.MaxProtocolVersion,
	}, bus, authSvc, m, logger)
}

func provideAdminRPCServer(logger *zap.Logger, m *metrics.Metrics) *grpcserver.Server {
	return grpcserver.NewServer(logger, grpcserver.DefaultServerOptions(), m)
}

// registerHTTPServer wires the gin REST boundary onto an *http.Server with
// fx lifecycle hooks, the way the teacher's cmd/server/main.go starts its
// HTTP server in a goroutine on OnStart and calls Shutdown on OnStop.
func registerHTTPServer(lc fx.Lifecycle, cfg *config.Config, h *api.Handlers, authSvc *auth.Service, m *metrics.Metrics, logger *zap.Logger) {
	router := newGinEngine()
	api.RegisterRoutes(router, h, authSvc, m, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

func registerGatewayServer(lc fx.Lifecycle, cfg *config.Config, gw *gateway.Server, logger *zap.Logger) {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: gatewayMux(cfg.Gateway.Path, gw),
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("gateway server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			gw.Shutdown(ctx)
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

func registerAdminRPCServer(lc fx.Lifecycle, cfg *config.Config, grpcSrv *grpcserver.Server, settle *settlement.Service, logger *zap.Logger) {
	svc := adminrpc.NewService(settle, logger)
	grpcSrv.RegisterService(func(s *grpc.Server) { adminrpc.Register(s, svc) })
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				addr := fmt.Sprintf("%s:%d", cfg.AdminRPC.Host, cfg.AdminRPC.Port)
				if err := grpcSrv.Start(ctx, addr); err != nil {
					logger.Error("admin grpc server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			grpcSrv.Stop()
			return nil
		},
	})
}

func newGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return gin.New()
}

func gatewayMux(path string, gw *gateway.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(path, gw.ServeHTTP)
	return mux
}
