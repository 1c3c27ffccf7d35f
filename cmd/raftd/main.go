// Command raftd runs one replica of a raftcore cluster: the consensus core
// over a real gRPC transport, fronted by an HTTP key-value API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lucasmdias/raftcore/pkg/api"
	"github.com/lucasmdias/raftcore/pkg/raft"
	"github.com/lucasmdias/raftcore/pkg/rafttypes"
	"github.com/lucasmdias/raftcore/pkg/statemachine"
	"github.com/lucasmdias/raftcore/pkg/transport"
)

func main() {
	id := flag.Uint64("id", 0, "this replica's server id (must be > 0)")
	addr := flag.String("addr", "", "this replica's RPC listen address (host:port)")
	httpAddr := flag.String("http", "", "HTTP key-value API listen address")
	peers := flag.String("peers", "", "comma-separated id=addr pairs for the full initial cluster, including self")
	dataDir := flag.String("data", ".", "directory for raft.log and raft.metadata")
	snapshotDir := flag.String("snapshot", ".", "directory for raft-<index>-<term>.snapshot files")
	flag.Parse()

	if *id == 0 || *addr == "" || *httpAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	servers, err := parsePeers(*peers, *id, *addr)
	if err != nil {
		log.Fatalf("invalid -peers: %v", err)
	}

	cfg := raft.DefaultConfig(*id, *addr)
	cfg.DataDir = *dataDir
	cfg.SnapshotDir = *snapshotDir

	store := statemachine.NewKV()
	tr := transport.NewGRPC()

	node, err := raft.New(cfg, servers, tr, store)
	if err != nil {
		log.Fatalf("failed to construct node: %v", err)
	}

	node.Start()
	if err := tr.Serve(); err != nil {
		log.Fatalf("failed to serve transport: %v", err)
	}

	httpServer := &http.Server{Addr: *httpAddr, Handler: api.NewHandler(node, store)}
	go func() {
		log.Printf("node %d: http api listening on %s", *id, *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)
	tr.Stop()
	node.Stop()
	log.Println("shutdown complete")
}

func parsePeers(raw string, selfID uint64, selfAddr string) ([]rafttypes.ServerInfo, error) {
	var servers []rafttypes.ServerInfo
	if raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			sid, err := strconv.ParseUint(parts[0], 10, 64)
			if err != nil {
				return nil, err
			}
			servers = append(servers, rafttypes.ServerInfo{ServerID: sid, ServerAddr: parts[1]})
		}
	}
	if len(servers) == 0 {
		servers = []rafttypes.ServerInfo{{ServerID: selfID, ServerAddr: selfAddr}}
	}
	return servers, nil
}
