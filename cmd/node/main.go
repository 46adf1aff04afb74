// cmd/node is the main entrypoint for one node of the distributed
// single-writer/multi-reader register.
//
// Configuration is entirely via flags so a single binary can serve any
// node in the cluster.
//
// Example — flag-based peer list, 4-node cluster:
//
//	./node --id 1 --peers 1=127.0.0.1:7001,2=127.0.0.1:7002,3=127.0.0.1:7003,4=127.0.0.1:7004 --http :8081
//	./node --id 2 --peers 1=127.0.0.1:7001,2=127.0.0.1:7002,3=127.0.0.1:7003,4=127.0.0.1:7004 --http :8082
//
// Example — YAML cluster file:
//
//	./node --id 1 --config cluster.yaml --http :8081
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"distributed-swmr-register/internal/controlplane"
	"distributed-swmr-register/internal/engine"
	"distributed-swmr-register/internal/logging"
	"distributed-swmr-register/internal/membership"
	"distributed-swmr-register/internal/transport"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	id := flag.Int("id", 1, "This node's ID")
	peersFlag := flag.String("peers", "", "Comma-separated peer list: id=host:port")
	configFile := flag.String("config", "", "YAML cluster config file (alternative to --peers)")
	httpAddr := flag.String("http", ":8080", "Control-plane HTTP listen address")
	flag.Parse()

	cfg, err := loadMembership(*id, *peersFlag, *configFile)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	logger := logging.Default(*id)

	udpTransport, err := transport.NewUDP(*id, cfg.Peers, logger)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	eng := engine.New[string](engine.Config{Self: *id, Nodes: cfg.NodeIDs()}, udpTransport, logger)
	udpTransport.SetHandler(eng.HandleDatagram)

	go func() {
		if err := udpTransport.Serve(); err != nil {
			log.Fatalf("FATAL: transport: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(controlplane.Recovery(logger), controlplane.RequestID(logger))

	handler := controlplane.NewHandler(eng, logger, *id)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *httpAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("node %d listening on %s (udp peer set size %d)", *id, *httpAddr, len(cfg.Peers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: control plane: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("shutting down node %d", *id)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("control plane shutdown error: %v", err)
	}
	if err := udpTransport.Close(); err != nil {
		logger.Errorf("transport close error: %v", err)
	}
}

func loadMembership(id int, peersFlag, configFile string) (membership.Config, error) {
	if configFile != "" {
		self := id
		return membership.LoadFile(configFile, &self)
	}
	return membership.ParsePeers(id, peersFlag)
}
