// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds how large a single throttled read/write can be
// before the limiter forces a wait, so a large chunk doesn't blow through
// the configured rate in one shot.
const maxBurstSize = 256 * 1024

// ThrottledReader wraps an io.Reader with a token-bucket rate limit, used
// by the Sender to cap how fast FILE_CHUNK bodies are read off disk and
// handed to the send queue.
type ThrottledReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledReader returns r unchanged if bytesPerSec <= 0 (no limit),
// otherwise wraps it with a limiter.
func NewThrottledReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &ThrottledReader{
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Read implements io.Reader, waiting for tokens before each underlying
// read so the overall rate stays bounded.
func (tr *ThrottledReader) Read(p []byte) (int, error) {
	if len(p) > tr.limiter.Burst() {
		p = p[:tr.limiter.Burst()]
	}
	if err := tr.limiter.WaitN(tr.ctx, len(p)); err != nil {
		return 0, err
	}
	return tr.r.Read(p)
}
