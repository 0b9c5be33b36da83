// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pool

import (
	"sync"
	"testing"

	"github.com/nishisan-dev/fcp/internal/protocol"
)

func TestPacketQueue_FIFOOrder(t *testing.T) {
	q := NewPacketQueue(4)
	for i := uint16(0); i < 4; i++ {
		if err := q.Push(protocol.NewFileReadyPacket(i)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	for i := uint16(0); i < 4; i++ {
		p, err := q.PopFront()
		if err != nil {
			t.Fatalf("PopFront: %v", err)
		}
		id, _ := protocol.DecodeFileReady(p.Body)
		if id != i {
			t.Fatalf("got file id %d, want %d", id, i)
		}
	}
}

func TestPacketQueue_PushFrontPrioritizesRetry(t *testing.T) {
	q := NewPacketQueue(4)
	q.Push(protocol.NewFileReadyPacket(1))
	q.Push(protocol.NewFileReadyPacket(2))

	// Simulate a failed send: pop then requeue at the front.
	first, _ := q.PopFront()
	q.PushFront(first)

	p, err := q.PopFront()
	if err != nil {
		t.Fatalf("PopFront: %v", err)
	}
	id, _ := protocol.DecodeFileReady(p.Body)
	if id != 1 {
		t.Fatalf("expected retried packet (id=1) first, got id=%d", id)
	}
}

func TestPacketQueue_BlocksWhenFull(t *testing.T) {
	q := NewPacketQueue(1)
	q.Push(protocol.NewDonePacket())

	pushed := make(chan struct{})
	go func() {
		q.Push(protocol.NewDonePacket())
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push on a full queue should block")
	default:
	}

	q.PopFront()
	<-pushed // must unblock once a slot frees
}

func TestPacketQueue_CloseUnblocksWaiters(t *testing.T) {
	q := NewPacketQueue(1)
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := q.PopFront()
		errs <- err
	}()
	go func() {
		defer wg.Done()
		q.Push(protocol.NewDonePacket())
		err := q.Push(protocol.NewDonePacket()) // second push blocks, queue cap 1
		errs <- err
	}()

	// Close right away: a goroutine that is blocked, or has not reached its
	// call yet, gets ErrQueueClosed either way.
	q.Close()
	wg.Wait()
	close(errs)

	sawClosed := false
	for err := range errs {
		if err == ErrQueueClosed {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Fatal("expected at least one waiter to observe ErrQueueClosed")
	}
}

func TestPacketQueue_BoundedCapacity(t *testing.T) {
	capacity := 5
	q := NewPacketQueue(capacity)
	for i := 0; i < capacity; i++ {
		if err := q.Push(protocol.NewDonePacket()); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if q.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", q.Len(), capacity)
	}
}
