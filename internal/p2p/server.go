// Package p2p implements the peer protocol (C8): a length-prefixed JSON
// wire format over plain TCP, a genesis-derived handshake banner that
// rejects incompatible peers outright, and self-connection detection via a
// per-connection UUID.
package p2p

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
)

// Core is everything the peer protocol needs from the chain builder: to
// hand inbound messages to it and to read the primary head for handshakes.
type Core interface {
	ChainBuilder
	Primary() *chain.Blockchain
}

// Server owns the listening socket and every outbound dial, and is the
// chainbuilder.Broadcaster the chain builder announces new blocks,
// transactions, and ancestor requests through.
type Server struct {
	listener    net.Listener
	listenPort  string
	genesisHash cryptoprim.Hash
	maxPeers    int

	core  Core
	peers *PeerSet
	log   *zap.SugaredLogger
}

// New binds listenAddr and returns a Server ready to Run. The chain
// builder core is wired in separately via SetCore: the chain builder's own
// constructor takes a Broadcaster (this Server), so the two cannot be
// constructed in a single dependency direction. Server satisfies
// Broadcaster immediately on construction, independent of core, breaking
// the cycle.
func New(genesisHash cryptoprim.Hash, listenAddr string, maxPeers int, log *zap.SugaredLogger) (*Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("p2p: listen on %s: %w", listenAddr, err)
	}
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return nil, fmt.Errorf("p2p: split listen address: %w", err)
	}

	return &Server{
		listener:    ln,
		listenPort:  port,
		genesisHash: genesisHash,
		maxPeers:    maxPeers,
		peers:       newPeerSet(maxPeers),
		log:         log,
	}, nil
}

// SetCore wires the chain builder in. Must be called before Run.
func (s *Server) SetCore(core Core) { s.core = core }

// ListenPort is the port this node advertises to peers during handshake.
func (s *Server) ListenPort() string { return s.listenPort }

// Run accepts inbound connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warnw("p2p: accept failed", "err", err)
			continue
		}
		go s.handleInbound(conn)
	}
}

// Dial connects to addr and, on a successful handshake, adds it as a peer.
func (s *Server) Dial(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, config.SocketTimeout)
	if err != nil {
		return fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	s.establish(conn)
	return nil
}

func (s *Server) handleInbound(conn net.Conn) {
	if s.peers.count() >= s.maxPeers {
		s.log.Debugw("p2p: rejecting inbound connection, peer limit reached", "remote", conn.RemoteAddr())
		_ = conn.Close()
		return
	}
	s.establish(conn)
}

func (s *Server) establish(conn net.Conn) {
	pc := newPeerConnection(conn, s.core, s.peers, s.onPeerGossip, s.log)

	head := s.core.Primary().Tip()
	if err := pc.handshake(s.genesisHash, s.listenPort, head, s.peers.addresses(uuid.Nil)); err != nil {
		s.log.Debugw("p2p: handshake failed", "remote", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}

	if !s.peers.tryAdd(pc) {
		s.log.Debugw("p2p: peer limit reached, closing", "peer", pc.remoteListenAddr)
		_ = conn.Close()
		return
	}

	s.log.Infow("p2p: peer connected", "peer", pc.remoteListenAddr)
	pc.run()
}

// onPeerGossip learns a newly heard-of address and, if there is room and we
// aren't already connected to it, dials it. The "dynamic peer discovery
// via gossip" spec.md's non-goals explicitly still permit.
func (s *Server) onPeerGossip(addr string) {
	if addr == "" {
		return
	}
	if !s.peers.learn(addr) {
		return
	}
	if s.peers.count() >= s.maxPeers || s.peers.connectedTo(addr) {
		return
	}
	go func() {
		if err := s.Dial(addr); err != nil {
			s.log.Debugw("p2p: gossip dial failed", "addr", addr, "err", err)
		}
	}()
}

// BroadcastBlock implements chainbuilder.Broadcaster.
func (s *Server) BroadcastBlock(b *chain.Block) {
	frame, err := encodeEnvelope(msgBlock, b)
	if err != nil {
		s.log.Errorw("p2p: encode block broadcast", "err", err)
		return
	}
	s.peers.broadcast(frame, uuid.Nil)
}

// BroadcastTransaction implements chainbuilder.Broadcaster.
func (s *Server) BroadcastTransaction(tx *chain.Transaction) {
	frame, err := encodeEnvelope(msgTransaction, tx)
	if err != nil {
		s.log.Errorw("p2p: encode transaction broadcast", "err", err)
		return
	}
	s.peers.broadcast(frame, uuid.Nil)
}

// RequestBlock implements chainbuilder.Broadcaster: it asks every connected
// peer for the missing ancestor, deduplicated upstream by the chain
// builder's block-request table.
func (s *Server) RequestBlock(hash cryptoprim.Hash) {
	frame, err := encodeEnvelope(msgGetBlock, hash)
	if err != nil {
		s.log.Errorw("p2p: encode getblock request", "err", err)
		return
	}
	s.peers.broadcast(frame, uuid.Nil)
}
