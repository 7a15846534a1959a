package server

import (
	"sync"
	"time"
)

// Store keeps the registered clients of the hub
type Store struct {
	peers     map[string]*Peer // key is the client id assigned on registration
	peersLock sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		peers: make(map[string]*Peer),
	}
}

func (s *Store) AddPeer(peer *Peer) {
	s.peersLock.Lock()
	defer s.peersLock.Unlock()
	s.peers[peer.ID()] = peer
}

// DeletePeer removes the peer unless the id has been taken over by another connection
func (s *Store) DeletePeer(peer *Peer) {
	s.peersLock.Lock()
	defer s.peersLock.Unlock()

	dp, ok := s.peers[peer.ID()]
	if !ok || dp != peer {
		return
	}
	delete(s.peers, peer.ID())
}

func (s *Store) Peer(id string) (*Peer, bool) {
	s.peersLock.RLock()
	defer s.peersLock.RUnlock()

	p, ok := s.peers[id]
	return p, ok
}

func (s *Store) Peers() []*Peer {
	s.peersLock.RLock()
	defer s.peersLock.RUnlock()

	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// Others returns every peer except the given one
func (s *Store) Others(peer *Peer) []*Peer {
	s.peersLock.RLock()
	defer s.peersLock.RUnlock()

	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p == peer {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}

// LastActivity returns the last activity of every registered client
func (s *Store) LastActivity() []time.Time {
	s.peersLock.RLock()
	defer s.peersLock.RUnlock()

	times := make([]time.Time, 0, len(s.peers))
	for _, p := range s.peers {
		times = append(times, p.LastActivity())
	}
	return times
}
