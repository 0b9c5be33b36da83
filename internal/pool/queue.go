// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"errors"
	"sync"

	"github.com/nishisan-dev/fcp/internal/protocol"
)

// ErrQueueClosed is returned by Push/PushFront/PopFront once Close has
// been called.
var ErrQueueClosed = errors.New("pool: queue closed")

// PacketQueue is a bounded, thread-safe FIFO of Packets with backpressure,
// the send_q/recv_q primitive the protocol builds on. Unlike a plain Go
// channel it supports PushFront, needed by the writer loop to re-insert a
// packet at the head of the queue when a send fails partway through.
type PacketQueue struct {
	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond
	items    []protocol.Packet
	capacity int
	closed   bool
}

// NewPacketQueue returns a queue bounded to capacity items.
func NewPacketQueue(capacity int) *PacketQueue {
	q := &PacketQueue{capacity: capacity}
	q.notFull.L = &q.mu
	q.notEmpty.L = &q.mu
	return q
}

// Push appends p to the tail of the queue, blocking while the queue is at
// capacity.
func (q *PacketQueue) Push(p protocol.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, p)
	q.notEmpty.Broadcast()
	return nil
}

// PushFront re-inserts p at the head of the queue, for the writer loop's
// retry-on-send-failure path. It does not block: the slot was freed by the
// PopFront that handed p to the failed write.
func (q *PacketQueue) PushFront(p protocol.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, protocol.Packet{})
	copy(q.items[1:], q.items)
	q.items[0] = p
	q.notEmpty.Broadcast()
	return nil
}

// PopFront removes and returns the packet at the head of the queue,
// blocking until one is available or the queue is closed.
func (q *PacketQueue) PopFront() (protocol.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 && q.closed {
		return protocol.Packet{}, ErrQueueClosed
	}

	p := q.items[0]
	q.items = q.items[1:]
	q.notFull.Broadcast()
	return p, nil
}

// Len returns the current number of queued packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked Push/PopFront call with ErrQueueClosed.
// Already-queued packets remain available to PopFront until drained.
func (q *PacketQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}
