// cmd/gateway is the main entrypoint for a clusterkv gateway: the
// stateless coordinator that resolves owners from the hash ring and
// fans out client SET/GET requests under a quorum (spec.md §4.4).
//
// Configuration is entirely environment-driven (spec.md §6); see
// internal/config for the full variable table and defaults.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clusterkv/internal/config"
	"clusterkv/internal/gatewaysvc"
	"clusterkv/internal/httpmw"
	"clusterkv/internal/wshub"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.LoadGateway()
	log.Info("starting gateway",
		zap.String("addr", cfg.NodeAddr),
		zap.String("seed", cfg.SeedNode),
		zap.Int("replication_factor", cfg.ReplicationFactor),
	)

	hub := wshub.New(log)
	gw := gatewaysvc.New(
		cfg.NodeAddr, cfg.SeedNode,
		cfg.NumVnodes, cfg.ReplicationFactor,
		cfg.RingUpdateInterval, cfg.RingStablePeriod,
		cfg.InFlightLimit,
		hub, log,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(httpmw.Logger(log), httpmw.Recovery(log))
	gw.Register(router)

	srv := &http.Server{
		Addr:         addrPort(cfg.NodeAddr),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	go gw.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gateway")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
}

func addrPort(nodeAddr string) string {
	const prefix = "http://"
	if len(nodeAddr) > len(prefix) && nodeAddr[:len(prefix)] == prefix {
		return nodeAddr[len(prefix):]
	}
	return nodeAddr
}
