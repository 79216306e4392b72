// Copyright 2026 The Sql-Layer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package retry implements the small backoff loop the schema manager uses
// to retry transactions that lost a commit race on the generation key: an
// Options struct with exponential backoff bounds and a context-aware
// iterator, rather than a single retrying call, so callers can log between
// attempts and distinguish "retriable" from "terminal" errors themselves.
package retry

import (
	"context"
	"time"
)

// Options configures a retry loop's backoff curve.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	MaxRetries     int // 0 means unlimited
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 5 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 250 * time.Millisecond
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2
	}
	return o
}

// Retry is the state of one retry loop, advanced with Next.
type Retry struct {
	opts     Options
	ctx      context.Context
	attempt  int
	backoff  time.Duration
	done     bool
}

// StartWithCtx begins a new retry loop bound to ctx: Next returns false as
// soon as ctx is done, in addition to honoring MaxRetries.
func StartWithCtx(ctx context.Context, opts Options) *Retry {
	opts = opts.withDefaults()
	return &Retry{opts: opts, ctx: ctx, backoff: opts.InitialBackoff}
}

// Next blocks (except for the very first call) until the next attempt
// should be made, and reports whether the caller should proceed. It
// returns false once ctx is done or MaxRetries attempts have been made.
func (r *Retry) Next() bool {
	if r.done {
		return false
	}
	if r.attempt > 0 {
		select {
		case <-r.ctx.Done():
			r.done = true
			return false
		case <-time.After(r.backoff):
		}
		r.backoff = time.Duration(float64(r.backoff) * r.opts.Multiplier)
		if r.backoff > r.opts.MaxBackoff {
			r.backoff = r.opts.MaxBackoff
		}
	} else if r.ctx.Err() != nil {
		r.done = true
		return false
	}
	r.attempt++
	if r.opts.MaxRetries > 0 && r.attempt > r.opts.MaxRetries {
		r.done = true
		return false
	}
	return true
}

// CurrentAttempt reports the 1-based index of the attempt currently in
// progress, for logging ("attempt %d of retrying DDL").
func (r *Retry) CurrentAttempt() int {
	return r.attempt
}
