package p2p

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/nodeerr"
)

// ChainBuilder is the subset of *chainbuilder.ChainBuilder a peer
// connection delivers inbound messages to.
type ChainBuilder interface {
	ReceiveBlock(b *chain.Block)
	ReceiveTransaction(tx *chain.Transaction)
	HandleGetBlock(hash cryptoprim.Hash, respond func(*chain.Block))
}

const outboxSize = 64

// PeerConnection owns one TCP socket: a reader goroutine decoding frames
// and dispatching them, and a writer goroutine draining an outbound queue.
// Each socket is owned exclusively by its reader/writer pair, per spec.md
// §5's shared-resource policy.
type PeerConnection struct {
	id               uuid.UUID
	remoteListenAddr string

	conn   net.Conn
	reader *bufio.Reader
	outbox chan []byte

	cb        ChainBuilder
	set       *PeerSet
	onPeer    func(addr string)
	log       *zap.SugaredLogger

	closeOnce sync.Once
	done      chan struct{}
}

func newPeerConnection(conn net.Conn, cb ChainBuilder, set *PeerSet, onPeer func(string), log *zap.SugaredLogger) *PeerConnection {
	return &PeerConnection{
		id:     uuid.New(),
		conn:   conn,
		reader: bufio.NewReader(conn),
		outbox: make(chan []byte, outboxSize),
		cb:     cb,
		set:    set,
		onPeer: onPeer,
		log:    log,
		done:   make(chan struct{}),
	}
}

// handshake runs spec.md §4.10 steps 1-3 synchronously before the
// connection is handed over to its steady-state reader/writer goroutines.
func (p *PeerConnection) handshake(genesisHash cryptoprim.Hash, listenPort string, head *chain.Block, knownPeers []string) error {
	if err := p.conn.SetDeadline(time.Now().Add(config.SocketTimeout)); err != nil {
		return fmt.Errorf("p2p: set handshake deadline: %w", err)
	}
	defer p.conn.SetDeadline(time.Time{})

	banner := handshakeBanner(genesisHash)
	if _, err := p.conn.Write(banner); err != nil {
		return fmt.Errorf("p2p: send handshake banner: %w", err)
	}
	got := make([]byte, len(banner))
	if _, err := io.ReadFull(p.reader, got); err != nil {
		return fmt.Errorf("p2p: read handshake banner: %w", err)
	}
	if string(got) != string(banner) {
		return fmt.Errorf("p2p: peer genesis mismatch: %w", nodeerr.ErrMalformedMessage)
	}

	portNum, err := strconv.Atoi(listenPort)
	if err != nil {
		return fmt.Errorf("p2p: listen port %q is not numeric: %w", listenPort, err)
	}
	if err := p.writeEnvelope(msgMyPort, portNum); err != nil {
		return err
	}
	if err := p.writeEnvelope(msgID, p.id); err != nil {
		return err
	}
	p.set.recordSent(p.id, p.id)
	if err := p.writeEnvelope(msgHello, helloParam{Head: head, Peers: knownPeers}); err != nil {
		return err
	}

	for i := 0; i < 3; i++ {
		if err := p.readHandshakeMessage(); err != nil {
			return err
		}
	}
	return nil
}

func (p *PeerConnection) readHandshakeMessage() error {
	frame, err := readFrame(p.reader)
	if err != nil {
		return fmt.Errorf("p2p: handshake: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("p2p: handshake envelope: %w", nodeerr.ErrMalformedMessage)
	}

	switch env.MsgType {
	case msgMyPort:
		var portNum int
		if err := decodePayload(env, &portNum); err != nil {
			return err
		}
		host, _, err := net.SplitHostPort(p.conn.RemoteAddr().String())
		if err != nil {
			return fmt.Errorf("p2p: split remote addr: %w", err)
		}
		p.remoteListenAddr = net.JoinHostPort(host, strconv.Itoa(portNum))
	case msgID:
		var id uuid.UUID
		if err := decodePayload(env, &id); err != nil {
			return err
		}
		if p.set.checkSelfConnection(id, p.id) {
			return fmt.Errorf("p2p: self connection detected")
		}
	case msgHello:
		var param helloParam
		if err := decodePayload(env, &param); err != nil {
			return err
		}
		if param.Head != nil {
			p.cb.ReceiveBlock(param.Head)
		}
		for _, addr := range param.Peers {
			p.onPeer(addr)
		}
	default:
		return fmt.Errorf("p2p: unexpected handshake message %q: %w", env.MsgType, nodeerr.ErrMalformedMessage)
	}
	return nil
}

// run starts the steady-state reader and writer goroutines and blocks until
// the connection closes.
func (p *PeerConnection) run() {
	go p.writeLoop()
	p.readLoop()
}

func (p *PeerConnection) readLoop() {
	defer p.Close()
	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(config.SocketTimeout)); err != nil {
			return
		}
		frame, err := readFrame(p.reader)
		if err != nil {
			p.log.Debugw("p2p: connection read ended", "peer", p.remoteListenAddr, "err", err)
			return
		}

		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			p.log.Warnw("p2p: dropping malformed frame", "peer", p.remoteListenAddr)
			return
		}
		if err := p.handle(env); err != nil {
			p.log.Warnw("p2p: dropping malformed message", "peer", p.remoteListenAddr, "err", err)
			return
		}
	}
}

func (p *PeerConnection) handle(env envelope) error {
	switch env.MsgType {
	case msgBlock:
		var b *chain.Block
		if err := decodePayload(env, &b); err != nil {
			return err
		}
		if b != nil {
			p.cb.ReceiveBlock(b)
		}
	case msgTransaction:
		var tx *chain.Transaction
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		if tx != nil {
			p.cb.ReceiveTransaction(tx)
		}
	case msgGetBlock:
		var hash cryptoprim.Hash
		if err := decodePayload(env, &hash); err != nil {
			return err
		}
		p.cb.HandleGetBlock(hash, func(b *chain.Block) {
			if b == nil {
				return
			}
			if err := p.writeEnvelope(msgBlock, b); err != nil {
				p.log.Warnw("p2p: send getblock reply", "err", err)
			}
		})
	case msgPeer:
		var hostPort []string
		if err := decodePayload(env, &hostPort); err != nil {
			return err
		}
		if len(hostPort) >= 2 {
			p.onPeer(net.JoinHostPort(hostPort[0], hostPort[1]))
		}
	default:
		return fmt.Errorf("p2p: unexpected steady-state message %q: %w", env.MsgType, nodeerr.ErrMalformedMessage)
	}
	return nil
}

func (p *PeerConnection) writeLoop() {
	for {
		select {
		case frame, ok := <-p.outbox:
			if !ok {
				return
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(config.SocketTimeout)); err != nil {
				return
			}
			if err := writeFrame(p.conn, frame); err != nil {
				p.log.Debugw("p2p: write failed, closing connection", "peer", p.remoteListenAddr, "err", err)
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// send enqueues an already-encoded frame for the writer goroutine.
// Non-blocking: a peer too slow to drain its outbox is disconnected rather
// than allowed to stall the sender.
func (p *PeerConnection) send(frame []byte) {
	select {
	case p.outbox <- frame:
	default:
		p.log.Warnw("p2p: outbox full, dropping slow peer", "peer", p.remoteListenAddr)
		p.Close()
	}
}

func (p *PeerConnection) writeEnvelope(t messageType, param interface{}) error {
	frame, err := encodeEnvelope(t, param)
	if err != nil {
		return err
	}
	return writeFrame(p.conn, frame)
}

// Close shuts the connection down exactly once, unregistering it from the
// peer set.
func (p *PeerConnection) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
		p.set.remove(p)
	})
}
