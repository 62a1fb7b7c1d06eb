// Package rpcserver serves a read-only JSON-RPC view of the compact chain
// state over HTTP.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/utreexo/csnode/csn"
)

const (
	// maxRequestSize caps the body of one request.
	maxRequestSize = 1 << 20

	shutdownTimeout = 5 * time.Second
)

// Chain is the chain state the server reads. *csn.ChainState implements it.
type Chain interface {
	BestSnapshot() *csn.BestState
	HeaderByHash(hash *chainhash.Hash) (*wire.BlockHeader, int32, error)
	HashByHeight(height int32) (*chainhash.Hash, error)
}

// Config is what New needs.
type Config struct {
	// Listen is the address to listen on, host:port.
	Listen string
	Chain  Chain
	Params *chaincfg.Params

	// LogPath is reported by getrpcinfo.
	LogPath string

	// Shutdown is called by the stop command. stop is refused when nil.
	Shutdown func()
}

// activeCommand is a request being handled.
type activeCommand struct {
	method string
	start  time.Time
}

// Server is the JSON-RPC server.
type Server struct {
	started  int32
	shutdown int32

	cfg  Config
	http *http.Server

	activeMtx sync.Mutex
	nextID    uint64
	active    map[uint64]activeCommand
}

// New returns a server that has not started listening.
func New(cfg *Config) *Server {
	s := &Server{
		cfg:    *cfg,
		active: make(map[uint64]activeCommand),
	}
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	log.Infof("RPC server listening on %s", l.Addr())
	go func() {
		err := s.http.Serve(l)
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("RPC server stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting a bit for requests in flight.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		log.Infof("RPC server is already in the process of shutting down")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// response is a JSON-RPC 1.0 reply.
type response struct {
	Result interface{}       `json:"result"`
	Error  *btcjson.RPCError `json:"error"`
	ID     interface{}       `json:"id"`
}

// ServeHTTP handles one JSON-RPC request per POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "JSON-RPC needs POST", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("%d error reading JSON message: %v",
			http.StatusBadRequest, err), http.StatusBadRequest)
		return
	}
	if len(body) > maxRequestSize {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req btcjson.Request
	var resp response
	if err := json.Unmarshal(body, &req); err != nil {
		resp.Error = btcjson.NewRPCError(btcjson.ErrRPCParse.Code,
			fmt.Sprintf("Failed to parse request: %v", err))
	} else {
		resp.ID = req.ID
		resp.Result, resp.Error = s.handle(&req)
	}

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(&resp)
	if err != nil {
		log.Errorf("Failed to write reply to %s: %v", r.RemoteAddr, err)
	}
}

// handle parses and runs one command.
func (s *Server) handle(req *btcjson.Request) (interface{}, *btcjson.RPCError) {
	handler, ok := rpcHandlers[req.Method]
	if !ok {
		return nil, btcjson.ErrRPCMethodNotFound
	}
	cmd, err := btcjson.UnmarshalCmd(req)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParams.Code,
			err.Error())
	}
	log.Debugf("received %s from client", req.Method)

	id := s.track(req.Method)
	defer s.untrack(id)

	result, err := handler(s, cmd)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		log.Warnf("%s failed: %v", req.Method, err)
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInternal.Code,
			"internal error")
	}
	return result, nil
}

// track records a command as in flight until untrack is called.
func (s *Server) track(method string) uint64 {
	s.activeMtx.Lock()
	defer s.activeMtx.Unlock()
	s.nextID++
	s.active[s.nextID] = activeCommand{method: method, start: time.Now()}
	return s.nextID
}

func (s *Server) untrack(id uint64) {
	s.activeMtx.Lock()
	delete(s.active, id)
	s.activeMtx.Unlock()
}
