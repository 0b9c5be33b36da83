// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
)

// Transporter drives one side of a transfer on top of a
// pool.ConnectionPool. Sender and Receiver are the two implementations,
// composing a pool rather than inheriting from shared base behaviour.
type Transporter interface {
	// Start enumerates (Sender) or begins dispatching on (Receiver) the
	// transfer and launches the goroutines that drive it. It returns once
	// that setup succeeds or fails; it does not block for the transfer's
	// duration.
	Start(ctx context.Context) error
	// Join blocks until the transfer completes or ctx is cancelled,
	// returning the first error encountered (nil on a clean DONE). It does
	// not watch the pool's socket count: if every socket goes away, Join
	// keeps blocking until ctx is cancelled.
	Join(ctx context.Context) error
}

// ErrChecksumFailed describes a received file whose content does not match
// the MD5 its FILE_INFO announced. Receiver does not return it: such files
// are listed by Receiver.Failed and the transfer continues.
var ErrChecksumFailed = errors.New("transport: received file failed MD5 verification")
