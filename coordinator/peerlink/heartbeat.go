// Package peerlink keeps a maker->taker connection's liveness honest
// once the initial Noise_IK handshake has completed (spec §C.1,
// distilled from the original daemon's periodic heartbeat on the
// maker->taker stream). Grounded on chainntfs.Monitor's
// ticker.Ticker-driven poll loop: a Keepalive sends on a fixed
// interval, and a Liveness tracks the most recent sighting of each
// peer and reports one once it has gone quiet for longer than the
// allowed number of missed intervals.
package peerlink

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// Keepalive drives a periodic send on the maker side of a connection
// set. It does not know about cfdwire or any particular peer; callers
// supply the send function (typically broadcasting cfdwire.NewHeartbeat
// to every registered peer).
type Keepalive struct {
	ticker ticker.Ticker
	send   func()

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewKeepalive constructs a Keepalive that calls send once per
// interval once started.
func NewKeepalive(interval time.Duration, send func()) *Keepalive {
	return &Keepalive{
		ticker: ticker.New(interval),
		send:   send,
		quit:   make(chan struct{}),
	}
}

// Start begins the periodic send loop in its own goroutine.
func (k *Keepalive) Start() {
	k.ticker.Resume()
	k.wg.Add(1)
	go k.loop()
}

func (k *Keepalive) loop() {
	defer k.wg.Done()
	for {
		select {
		case <-k.ticker.Ticks():
			k.send()
		case <-k.quit:
			return
		}
	}
}

// Stop halts the send loop.
func (k *Keepalive) Stop() {
	close(k.quit)
	k.wg.Wait()
	k.ticker.Stop()
}

// Liveness tracks, on the taker side, the last time each maker peer
// was heard from (a heartbeat or any other inbound message all count
// as a sighting) and reports a peer as stale once it has missed
// MaxMisses consecutive heartbeat intervals, so the taker can expire
// its locally cached offer from a maker that has gone silent rather
// than trusting a connection that may already be dead.
type Liveness struct {
	interval  time.Duration
	maxMisses int
	ticker    ticker.Ticker

	mu       sync.Mutex
	lastSeen map[string]time.Time
	reported map[string]bool

	Stale chan string

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewLiveness constructs a Liveness that checks every interval for
// peers silent longer than interval*maxMisses.
func NewLiveness(interval time.Duration, maxMisses int) *Liveness {
	return &Liveness{
		interval:  interval,
		maxMisses: maxMisses,
		ticker:    ticker.New(interval),
		lastSeen:  make(map[string]time.Time),
		reported:  make(map[string]bool),
		Stale:     make(chan string, 16),
		quit:      make(chan struct{}),
	}
}

// Start begins the check loop in its own goroutine.
func (l *Liveness) Start() {
	l.ticker.Resume()
	l.wg.Add(1)
	go l.loop()
}

// Touch records a sighting of peerID, reviving it if it was
// previously reported stale.
func (l *Liveness) Touch(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSeen[peerID] = time.Now()
	delete(l.reported, peerID)
}

// Forget drops bookkeeping for a peer that has disconnected.
func (l *Liveness) Forget(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lastSeen, peerID)
	delete(l.reported, peerID)
}

func (l *Liveness) loop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ticker.Ticks():
			l.check()
		case <-l.quit:
			return
		}
	}
}

func (l *Liveness) check() {
	deadline := time.Duration(l.maxMisses) * l.interval
	now := time.Now()

	l.mu.Lock()
	var stale []string
	for peerID, seen := range l.lastSeen {
		if l.reported[peerID] {
			continue
		}
		if now.Sub(seen) > deadline {
			l.reported[peerID] = true
			stale = append(stale, peerID)
		}
	}
	l.mu.Unlock()

	for _, peerID := range stale {
		select {
		case l.Stale <- peerID:
		case <-l.quit:
			return
		}
	}
}

// Stop halts the check loop.
func (l *Liveness) Stop() {
	close(l.quit)
	l.wg.Wait()
	l.ticker.Stop()
}
