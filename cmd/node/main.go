// cmd/node is the main entrypoint for a clusterkv cluster node: it serves
// the internal replica API, participates in gossip, and runs anti-entropy
// (spec.md §4.2/§4.5/§4.7).
//
// Configuration is entirely environment-driven (spec.md §6); see
// internal/config for the full variable table and defaults.
//
// Grounded on the teacher's cmd/server/main.go for the overall shape:
// open storage, wire the request handler, start the HTTP server in a
// goroutine, run background activities as additional goroutines, and
// shut down gracefully on SIGINT/SIGTERM.
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

	"clusterkv/internal/admission"
	"clusterkv/internal/antientropy"
	"clusterkv/internal/config"
	"clusterkv/internal/httpmw"
	"clusterkv/internal/membership"
	"clusterkv/internal/node"
	"clusterkv/internal/store"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.LoadNode()
	log.Info("starting node",
		zap.String("addr", cfg.NodeAddr),
		zap.String("db_file", cfg.DBFile),
		zap.Int("replication_factor", cfg.ReplicationFactor),
		zap.Int("num_vnodes", cfg.NumVnodes),
	)

	st, err := store.Open(cfg.DBFile)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	view := membership.New(cfg.NodeAddr)
	gossiper := membership.NewGossiper(view, cfg.DeadTimeout, log)
	adm := admission.New(admission.Node, cfg.MaxInFlight)
	syncer := antientropy.New(cfg.NodeAddr, view, st, cfg.NumVnodes, cfg.ReplicationFactor, log)

	handler := node.NewHandler(st, view, gossiper, adm, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(httpmw.Logger(log), httpmw.Recovery(log))
	handler.Register(router)

	srv := &http.Server{
		Addr:         addrPort(cfg.NodeAddr),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info("node listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	gossiper.Bootstrap(ctx, cfg.SeedNode)
	go gossiper.Run(ctx)

	go func() {
		syncer.InitialSync(ctx)
		syncer.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down node")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
}

// addrPort strips a scheme from NODE_ADDR (e.g. "http://host:port") to
// get the bare host:port http.Server.Addr wants; NODE_ADDR is the
// externally-advertised URL, which may differ from the literal listen
// address behind a proxy, but for the single-binary case they coincide.
func addrPort(nodeAddr string) string {
	const prefix = "http://"
	if len(nodeAddr) > len(prefix) && nodeAddr[:len(prefix)] == prefix {
		return nodeAddr[len(prefix):]
	}
	return nodeAddr
}
