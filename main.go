package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/michaeljohneduave/hugin-gateway/config"
	"github.com/michaeljohneduave/hugin-gateway/logger"
	"github.com/michaeljohneduave/hugin-gateway/middleware"
	"github.com/michaeljohneduave/hugin-gateway/service/gateway"
	"github.com/michaeljohneduave/hugin-gateway/service/message"
	"github.com/michaeljohneduave/hugin-gateway/service/natsx"
	"github.com/michaeljohneduave/hugin-gateway/service/registry"
	"github.com/michaeljohneduave/hugin-gateway/service/responder"
	"github.com/michaeljohneduave/hugin-gateway/service/rooms"
	mongostore "github.com/michaeljohneduave/hugin-gateway/service/storage/mongo"
	redistore "github.com/michaeljohneduave/hugin-gateway/service/storage/redis"
	"github.com/michaeljohneduave/hugin-gateway/service/ws"
	"github.com/michaeljohneduave/hugin-gateway/tools/ids"
	"github.com/michaeljohneduave/hugin-gateway/tools/safe"
	"github.com/michaeljohneduave/hugin-gateway/tools/security"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.Server.NodeID)

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mongostore.Init(bootCtx, mongostore.Config{
		URI:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
	}); err != nil {
		logger.Errorf("init mongo: %v", err)
		os.Exit(1)
	}
	db := mongostore.GetDB()

	reg, err := buildRegistry(bootCtx, cfg)
	if err != nil {
		logger.Errorf("init registry: %v", err)
		os.Exit(1)
	}

	roomStore := rooms.NewMongoStore(db)
	if err := roomStore.EnsureIndexes(bootCtx); err != nil {
		logger.Warn("ensure room indexes", zap.Error(err))
	}
	msgStore := message.NewMongoStore(db)

	natsClient, err := natsx.Connect(cfg.Nats.URL)
	if err != nil {
		logger.Errorf("connect nats: %v", err)
		os.Exit(1)
	}
	queue := natsx.NewTaskQueue(natsClient)

	mgr := ws.NewConnManager()
	fanout := gateway.NewFanout(reg, mgr, queue, gateway.FanoutConfig{
		IncludeSender:   cfg.Fanout.IncludeSender,
		ResponderHandle: cfg.Fanout.ResponderHandle,
		ResponderUserID: cfg.Fanout.ResponderUserID,
	})
	if err := fanout.RegisterTasks(queue, msgStore, responder.NewLocal(cfg.Fanout.ResponderHandle)); err != nil {
		logger.Errorf("register task handlers: %v", err)
		os.Exit(1)
	}

	verifier := security.NewVerifier(security.DefaultOptions([]byte(cfg.JWT.Secret)))
	gw := gateway.New(verifier, reg, roomStore, fanout)
	wsSrv := ws.NewServer(gw, mgr, cfg.Heartbeat.PingInterval)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Origin(cfg.Server.AllowedOrigins))
	router.GET("/ws", wsSrv.HandleWS)
	router.GET("/healthz", healthz(cfg.Registry.Backend))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	safe.Go(func() {
		logger.Infof("gateway listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
			os.Exit(1)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	mgr.Close()
	queue.Drain()
	natsClient.Close()
	if err := mongostore.Close(shutCtx); err != nil {
		logger.Warn("mongo close", zap.Error(err))
	}
	if cfg.Registry.Backend == "redis" {
		if err := redistore.Close(); err != nil {
			logger.Warn("redis close", zap.Error(err))
		}
	}
}

// buildRegistry picks the configured backend and wraps it with timing and
// logging instrumentation.
func buildRegistry(ctx context.Context, cfg *config.Config) (registry.Registry, error) {
	switch cfg.Registry.Backend {
	case "redis":
		if err := redistore.Init(redistore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}); err != nil {
			return nil, err
		}
		return registry.NewInstrumented(registry.NewRedisRegistry(redistore.Get(), cfg.Registry.TTL)), nil
	case "mongo":
		mr := registry.NewMongoRegistry(mongostore.GetDB(), cfg.Registry.TTL)
		if err := mr.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return registry.NewInstrumented(mr), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}

func healthz(backend string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if backend == "redis" {
			if err := redistore.Get().Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unreachable"})
				return
			}
		}
		if err := mongostore.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mongo unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
