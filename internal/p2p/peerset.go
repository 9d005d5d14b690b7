package p2p

import (
	"sync"

	"github.com/google/uuid"
)

// PeerSet tracks every live connection, every connection UUID this node has
// generated and sent out (self-connection detection needs to recognize its
// own past identities), and every address learned through gossip, whether
// connected to or not.
type PeerSet struct {
	mu       sync.Mutex
	peers    map[uuid.UUID]*PeerConnection
	sentIDs  map[uuid.UUID]uuid.UUID // an id we generated -> the connection we sent it on
	known    map[string]struct{}     // gossiped addresses, connected or not
	maxPeers int
}

func newPeerSet(maxPeers int) *PeerSet {
	return &PeerSet{
		peers:    make(map[uuid.UUID]*PeerConnection),
		sentIDs:  make(map[uuid.UUID]uuid.UUID),
		known:    make(map[string]struct{}),
		maxPeers: maxPeers,
	}
}

// tryAdd registers p if the peer limit has not been reached.
func (s *PeerSet) tryAdd(p *PeerConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) >= s.maxPeers {
		return false
	}
	s.peers[p.id] = p
	return true
}

func (s *PeerSet) remove(p *PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p.id)
}

func (s *PeerSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// recordSent notes that this node generated id and sent it out over conn,
// per spec.md §4.10 step 2.
func (s *PeerSet) recordSent(id, conn uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs[id] = conn
}

// checkSelfConnection reports whether id, received over conn, is an id this
// node itself generated and sent out over some other connection, meaning
// conn loops back to this same node.
func (s *PeerSet) checkSelfConnection(id, conn uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin, ok := s.sentIDs[id]
	return ok && origin != conn
}

// broadcast sends frame to every connected peer except except (the uuid.Nil
// sentinel excludes none).
func (s *PeerSet) broadcast(frame []byte, except uuid.UUID) {
	s.mu.Lock()
	peers := make([]*PeerConnection, 0, len(s.peers))
	for id, p := range s.peers {
		if id == except {
			continue
		}
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.send(frame)
	}
}

// addresses returns every known remote listen address except except's.
func (s *PeerSet) addresses(except uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for id, p := range s.peers {
		if id == except || p.remoteListenAddr == "" {
			continue
		}
		out = append(out, p.remoteListenAddr)
	}
	return out
}

// learn records a gossiped address, reporting whether it was new.
func (s *PeerSet) learn(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[addr]; ok {
		return false
	}
	s.known[addr] = struct{}{}
	return true
}

// connectedTo reports whether addr already has a live connection.
func (s *PeerSet) connectedTo(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		if p.remoteListenAddr == addr {
			return true
		}
	}
	return false
}
