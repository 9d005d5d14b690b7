package p2p

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/cryptoprim"
)

type fakeCore struct {
	blocks       chan *chain.Block
	transactions chan *chain.Transaction
	getBlock     func(cryptoprim.Hash, func(*chain.Block))
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		blocks:       make(chan *chain.Block, 8),
		transactions: make(chan *chain.Transaction, 8),
	}
}

func (f *fakeCore) ReceiveBlock(b *chain.Block)              { f.blocks <- b }
func (f *fakeCore) ReceiveTransaction(tx *chain.Transaction) { f.transactions <- tx }
func (f *fakeCore) HandleGetBlock(hash cryptoprim.Hash, respond func(*chain.Block)) {
	if f.getBlock != nil {
		f.getBlock(hash, respond)
	}
}

func envelopeFor(t *testing.T, mt messageType, param interface{}) envelope {
	t.Helper()
	frame, err := encodeEnvelope(mt, param)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func pipeConns(t *testing.T) (*PeerConnection, *PeerConnection) {
	t.Helper()
	a, b := net.Pipe()
	pcA := newPeerConnection(a, newFakeCore(), newPeerSet(5), func(string) {}, zap.NewNop().Sugar())
	pcB := newPeerConnection(b, newFakeCore(), newPeerSet(5), func(string) {}, zap.NewNop().Sugar())
	return pcA, pcB
}

func portOf(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return port
}

func TestHandshakeSucceedsBetweenMatchingGenesisPeers(t *testing.T) {
	pcA, pcB := pipeConns(t)
	genesis := chain.Genesis()
	genesisHash := genesis.ComputeHash()

	done := make(chan error, 2)
	go func() { done <- pcA.handshake(genesisHash, "1111", genesis, nil) }()
	go func() { done <- pcB.handshake(genesisHash, "2222", genesis, nil) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("handshake never completed")
		}
	}
	assert.Equal(t, "2222", portOf(t, pcA.remoteListenAddr))
	assert.Equal(t, "1111", portOf(t, pcB.remoteListenAddr))
}

func TestHandshakeRejectsGenesisMismatch(t *testing.T) {
	pcA, pcB := pipeConns(t)
	genesis := chain.Genesis()

	done := make(chan error, 2)
	go func() { done <- pcA.handshake(cryptoprim.Sum256([]byte("a")), "1111", genesis, nil) }()
	go func() { done <- pcB.handshake(cryptoprim.Sum256([]byte("b")), "2222", genesis, nil) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("handshake never returned")
		}
	}
}

func TestHandleDispatchesBlockToChainBuilder(t *testing.T) {
	core := newFakeCore()
	pc := &PeerConnection{cb: core, log: zap.NewNop().Sugar()}

	b := chain.Genesis()
	env := envelopeFor(t, msgBlock, b)
	require.NoError(t, pc.handle(env))

	select {
	case got := <-core.blocks:
		assert.Equal(t, b.ComputeHash(), got.ComputeHash())
	default:
		t.Fatal("ReceiveBlock was never called")
	}
}

func TestHandleDispatchesTransactionToChainBuilder(t *testing.T) {
	core := newFakeCore()
	pc := &PeerConnection{cb: core, log: zap.NewNop().Sugar()}

	tx := &chain.Transaction{Targets: []chain.TransactionTarget{{Script: "x", Amount: 1}}}
	env := envelopeFor(t, msgTransaction, tx)
	require.NoError(t, pc.handle(env))

	select {
	case got := <-core.transactions:
		assert.Equal(t, tx.Hash(), got.Hash())
	default:
		t.Fatal("ReceiveTransaction was never called")
	}
}

func TestHandleGetBlockInvokesCoreWithRespondCallback(t *testing.T) {
	core := newFakeCore()
	wanted := chain.Genesis().ComputeHash()
	reply := chain.Genesis()
	core.getBlock = func(hash cryptoprim.Hash, respond func(*chain.Block)) {
		assert.Equal(t, wanted, hash)
		respond(reply)
	}

	a, b := net.Pipe()
	defer a.Close()
	pc := newPeerConnection(b, core, newPeerSet(5), func(string) {}, zap.NewNop().Sugar())

	env := envelopeFor(t, msgGetBlock, wanted)
	go func() { _ = pc.handle(env) }()

	frame, err := readFrame(bufio.NewReader(a))
	require.NoError(t, err)
	var got envelope
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, msgBlock, got.MsgType)
}

func TestHandleDispatchesPeerAddressFromHostPortArray(t *testing.T) {
	var learned string
	pc := &PeerConnection{cb: newFakeCore(), log: zap.NewNop().Sugar(), onPeer: func(addr string) { learned = addr }}

	env := envelopeFor(t, msgPeer, []string{"10.0.0.5", "9001"})
	require.NoError(t, pc.handle(env))

	assert.Equal(t, "10.0.0.5:9001", learned)
}

func TestHandleRejectsUnknownMessageType(t *testing.T) {
	core := newFakeCore()
	pc := &PeerConnection{cb: core, log: zap.NewNop().Sugar()}
	err := pc.handle(envelope{MsgType: "bogus"})
	assert.Error(t, err)
}

func TestSendDropsSlowPeerWhenOutboxFull(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	set := newPeerSet(5)
	pc := newPeerConnection(b, newFakeCore(), set, func(string) {}, zap.NewNop().Sugar())
	set.tryAdd(pc)

	for i := 0; i < outboxSize; i++ {
		pc.outbox <- []byte("x")
	}
	pc.send([]byte("overflow"))

	select {
	case <-pc.done:
	case <-time.After(time.Second):
		t.Fatal("connection was never closed after outbox overflow")
	}
}
