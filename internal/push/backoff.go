// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package push

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: the base delay doubles per attempt
// up to the cap, with equal jitter so a fleet of clients does not
// reconnect in lockstep. Delay is a pure function of the attempt count;
// the reset rule (sustained-connected duration) lives in the manager.
type Backoff struct {
	// Base is the delay for attempt 0.
	Base time.Duration

	// Cap is the ceiling the doubled delay saturates at.
	Cap time.Duration

	// Jitter is the randomness source in [0.0, 1.0); nil uses math/rand.
	// Injected by tests to make delays deterministic.
	Jitter func() float64
}

// Delay returns the delay before reconnect attempt n (0-based). The
// result is uniformly distributed in [d/2, d) where d is the capped
// exponential delay.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	maxDelay := b.Cap
	if maxDelay < base {
		maxDelay = base
	}

	d := base
	for i := 0; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}

	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}

	half := d / 2
	return half + time.Duration(jitter()*float64(half))
}
