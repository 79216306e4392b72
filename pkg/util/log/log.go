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

// Package log provides the contextual, leveled logger used throughout the
// schema manager. Callers never hold a *Logger; they call package-level
// functions with a context.Context that may carry tags (e.g. a session
// ID) which are prepended to every message.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Severity mirrors the small ladder of levels the schema manager actually
// needs; there is no WARNING vs ERROR distinction finer than this in the
// call sites below.
type Severity int32

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "I"
	case SeverityWarning:
		return "W"
	case SeverityError:
		return "E"
	case SeverityFatal:
		return "F"
	default:
		return "?"
	}
}

type ctxTagsKey struct{}

// WithTags attaches a set of key=value tags to ctx; they are rendered
// in brackets ahead of every log line produced from a derived context.
// Tags accumulate: calling WithTags twice appends rather than replaces.
func WithTags(ctx context.Context, tags ...string) context.Context {
	prev, _ := ctx.Value(ctxTagsKey{}).([]string)
	next := make([]string, 0, len(prev)+len(tags))
	next = append(next, prev...)
	next = append(next, tags...)
	return context.WithValue(ctx, ctxTagsKey{}, next)
}

func tagsOf(ctx context.Context) []string {
	tags, _ := ctx.Value(ctxTagsKey{}).([]string)
	return tags
}

var (
	mu          sync.Mutex
	out         io.Writer = os.Stderr
	verbosity   int32
	fatalHook   func()
	entryCount  uint64
)

// SetOutput redirects all log output; used by tests to capture or silence
// the logger. Passing nil restores os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// SetVEventLevel sets the threshold for VEventf; events at or below this
// level are emitted, the rest are dropped without formatting their args.
func SetVEventLevel(level int32) {
	atomic.StoreInt32(&verbosity, level)
}

// SetFatalHook overrides what Fatalf does after logging instead of calling
// os.Exit, so tests can assert a fatal condition was reached without
// killing the test binary.
func SetFatalHook(fn func()) {
	mu.Lock()
	defer mu.Unlock()
	fatalHook = fn
}

func emit(ctx context.Context, sev Severity, format string, args []interface{}) {
	n := atomic.AddUint64(&entryCount, 1)
	msg := fmt.Sprintf(format, args...)
	tags := tagsOf(ctx)
	mu.Lock()
	defer mu.Unlock()
	if len(tags) == 0 {
		fmt.Fprintf(out, "%s%06d %s %s\n", sev, n, time.Now().UTC().Format("15:04:05.000"), msg)
	} else {
		fmt.Fprintf(out, "%s%06d %s [%s] %s\n", sev, n, time.Now().UTC().Format("15:04:05.000"), joinTags(tags), msg)
	}
}

func joinTags(tags []string) string {
	s := tags[0]
	for _, t := range tags[1:] {
		s += "," + t
	}
	return s
}

// Infof logs at SeverityInfo.
func Infof(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, SeverityInfo, format, args)
}

// Warningf logs at SeverityWarning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, SeverityWarning, format, args)
}

// Errorf logs at SeverityError.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, SeverityError, format, args)
}

// Fatalf logs at SeverityFatal and then terminates the process, unless a
// fatal hook was installed (tests only).
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, SeverityFatal, format, args)
	mu.Lock()
	hook := fatalHook
	mu.Unlock()
	if hook != nil {
		hook()
		return
	}
	os.Exit(1)
}

// VEventf logs at SeverityInfo only if the configured verbosity is >=
// level, so callers can trace generation/online-state transitions
// without paying formatting cost in the common case.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if atomic.LoadInt32(&verbosity) < level {
		return
	}
	emit(ctx, SeverityInfo, format, args)
}
