package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chatgate/config"
	"chatgate/logger"
	"chatgate/middleware"
	"chatgate/service/chat"
	"chatgate/service/kafka"
	"chatgate/service/natsx"
	"chatgate/service/storage"
	"chatgate/tools/security"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	deps := chat.Deps{
		Auth: &security.TokenAuthenticator{Opts: security.DefaultOptions([]byte(cfg.JWTSecret))},
	}

	// Membership authorization collaborator.
	membership, err := storage.NewMembershipStore(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Log.Fatal("membership store init failed: " + err.Error())
	}
	defer membership.Close()
	deps.Membership = membership

	// Message persistence collaborator.
	store, err := storage.NewMessageStore(ctx, storage.MongoConfig{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoCollection,
	})
	if err != nil {
		logger.Log.Fatal("message store init failed: " + err.Error())
	}
	defer func() { _ = store.Close(context.Background()) }()
	deps.Store = store

	// Presence mirror.
	mirror, err := storage.NewRedisPresence(ctx, storage.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.PresenceTTL)
	if err != nil {
		logger.Log.Fatal("presence mirror init failed: " + err.Error())
	}
	defer func() { _ = mirror.Close() }()
	deps.Mirror = mirror

	// Cross-process fan-out bridge.
	bridge, err := natsx.NewBridge(natsx.Config{
		Servers: cfg.NatsServers,
		Name:    cfg.NatsName + "-" + cfg.GatewayID,
	}, cfg.GatewayID)
	if err != nil {
		logger.Log.Fatal("fan-out bridge init failed: " + err.Error())
	}
	deps.Bridge = bridge

	// Message archive stream (optional; disabled without brokers).
	if len(cfg.KafkaBrokers) > 0 {
		archive, aerr := kafka.NewArchiveProducer(cfg.KafkaBrokers, cfg.KafkaArchiveTopic)
		if aerr != nil {
			logger.Log.Fatal("archive producer init failed: " + aerr.Error())
		}
		defer func() { _ = archive.Close() }()
		deps.Archive = archive
	}

	srv, err := chat.NewServer(chat.Options{
		GatewayID:     cfg.GatewayID,
		SendQueueSize: cfg.SendQueueSize,
		WriteTimeout:  cfg.WriteTimeout,
		IdleTimeout:   cfg.IdleTimeout,
		SweepEvery:    cfg.SweepEvery,
	}, deps)
	if err != nil {
		logger.Log.Fatal("server init failed: " + err.Error())
	}
	defer srv.Close()

	// gRPC health endpoint for the load balancer.
	go func() {
		lis, lerr := net.Listen("tcp", cfg.GRPCAddr)
		if lerr != nil {
			logger.Log.Fatal("gRPC listen failed: " + lerr.Error())
		}
		gs := grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(gs, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		logger.Infof("[gRPC] listening on %s", cfg.GRPCAddr)
		if serr := gs.Serve(lis); serr != nil {
			logger.Log.Fatal("gRPC server failed: " + serr.Error())
		}
	}()

	// HTTP + WebSocket.
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestLog())
	r.GET("/ws", srv.HandleWS) // ws://host:8080/ws?token=<jwt>
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway_id": cfg.GatewayID})
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, srv.Stats())
	})

	logger.Infof("[HTTP] listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Log.Fatal("HTTP server failed: " + err.Error())
	}
}
