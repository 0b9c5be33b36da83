// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport implements the Sender/Receiver Transporter state
// machines that drive a file transfer on top of a pool.ConnectionPool.
package transport

import (
	"errors"
	"sync"

	"github.com/nishisan-dev/fcp/internal/protocol"
)

// ErrSentCacheMiss is returned when a RESEND names a frame the cache no
// longer holds. The reference implementation sketches this cache (Cookie)
// but never sizes or evicts it; here it is a fatal session error, per the
// protocol's own design note that a cache miss on RESEND must not be
// silently tolerated.
var ErrSentCacheMiss = errors.New("transport: sent-cache miss, RESEND cannot be satisfied")

// sentKey identifies a previously transmitted frame the way RESEND does:
// by (flag, chksum, length), not by sequence number — the wire protocol
// has no frame-id.
type sentKey struct {
	flag   protocol.Flag
	chksum uint32
	length uint16
}

// SentCache is a FIFO-evicted store of recently transmitted packets, keyed
// by (flag, chksum, length), sized to outlive the expected in-flight
// window across every socket of a session.
type SentCache struct {
	mu       sync.Mutex
	capacity int
	order    []sentKey
	byKey    map[sentKey]protocol.Packet
}

// NewSentCache returns a cache holding at most capacity packets, evicting
// the oldest entry first once full.
func NewSentCache(capacity int) *SentCache {
	if capacity < 1 {
		capacity = 1
	}
	return &SentCache{
		capacity: capacity,
		byKey:    make(map[sentKey]protocol.Packet, capacity),
	}
}

// Record stores pkt as having just been transmitted, evicting the oldest
// entry if the cache is at capacity.
func (c *SentCache) Record(pkt protocol.Packet) {
	key := sentKey{flag: pkt.Flag, chksum: pkt.Checksum(), length: uint16(pkt.Length())}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byKey[key]; exists {
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.byKey, oldest)
	}
	c.order = append(c.order, key)
	c.byKey[key] = pkt
}

// Lookup finds the packet previously recorded under (flag, chksum, length),
// as named by a RESEND request.
func (c *SentCache) Lookup(flag protocol.Flag, chksum uint32, length uint16) (protocol.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkt, ok := c.byKey[sentKey{flag: flag, chksum: chksum, length: length}]
	if !ok {
		return protocol.Packet{}, ErrSentCacheMiss
	}
	return pkt, nil
}

// Len reports how many packets are currently cached.
func (c *SentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
