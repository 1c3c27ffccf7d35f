package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lucasmdias/raftcore/pkg/rafttypes"
)

// GRPC is the real-process Transport: one grpc.Server serving this
// replica's Handler, plus a pool of lazily-dialed client connections to
// every other replica addressed by its advertised address.
type GRPC struct {
	mu sync.RWMutex

	selfAddr string
	handler  Handler

	server   *grpc.Server
	listener net.Listener
	conns    map[string]*grpc.ClientConn

	dialTimeout time.Duration
}

// NewGRPC returns an unstarted GRPC transport.
func NewGRPC() *GRPC {
	return &GRPC{
		conns:       make(map[string]*grpc.ClientConn),
		dialTimeout: 2 * time.Second,
	}
}

// Register records the Handler this replica serves and the address it
// should listen on once Serve is called.
func (g *GRPC) Register(serverID uint64, addr string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.selfAddr = addr
	g.handler = h
}

// Serve starts listening on the registered address and begins accepting
// RPCs for the registered Handler.
func (g *GRPC) Serve() error {
	g.mu.Lock()
	addr, h := g.selfAddr, g.handler
	g.mu.Unlock()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	server := grpc.NewServer()
	server.RegisterService(&serviceDesc, h)

	g.mu.Lock()
	g.server = server
	g.listener = listener
	g.mu.Unlock()

	go server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the server and closes every client connection.
func (g *GRPC) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		g.server.GracefulStop()
	}
	for _, c := range g.conns {
		c.Close()
	}
	g.conns = make(map[string]*grpc.ClientConn)
}

func (g *GRPC) dial(target string) (*grpc.ClientConn, error) {
	g.mu.RLock()
	if c, ok := g.conns[target]; ok {
		g.mu.RUnlock()
		return c, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.conns[target]; ok {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.dialTimeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(gobCodec{}.Name())),
	)
	if err != nil {
		return nil, err
	}
	g.conns[target] = conn
	return conn, nil
}

func (g *GRPC) RequestVote(ctx context.Context, target string, req *rafttypes.RequestVoteRequest) (*rafttypes.RequestVoteResponse, error) {
	conn, err := g.dial(target)
	if err != nil {
		return nil, err
	}
	resp := new(rafttypes.RequestVoteResponse)
	if err := conn.Invoke(ctx, "/"+serviceName+"/RequestVote", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *GRPC) AppendEntries(ctx context.Context, target string, req *rafttypes.AppendEntriesRequest) (*rafttypes.AppendEntriesResponse, error) {
	conn, err := g.dial(target)
	if err != nil {
		return nil, err
	}
	resp := new(rafttypes.AppendEntriesResponse)
	if err := conn.Invoke(ctx, "/"+serviceName+"/AppendEntries", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *GRPC) InstallSnapshot(ctx context.Context, target string, req *rafttypes.InstallSnapshotRequest) (*rafttypes.InstallSnapshotResponse, error) {
	conn, err := g.dial(target)
	if err != nil {
		return nil, err
	}
	resp := new(rafttypes.InstallSnapshotResponse)
	if err := conn.Invoke(ctx, "/"+serviceName+"/InstallSnapshot", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
