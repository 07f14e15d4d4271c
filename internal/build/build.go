// Package build tracks one evaluation run: the operations it spawned, the
// log bytes its tasks produced, and the final result, each exposed as a
// replay-then-subscribe stream so a CLI attached mid-run sees everything
// that already happened before it started watching.
//
// Builds are not content-addressed; their id is minted the same way a
// user, login, or token id is, not hashed from content.
package build

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// Result is the terminal outcome of a build: either the root operation's
// value id, or the error that aborted evaluation.
type Result struct {
	Value id.Id
	Err   error
}

// Build is the process-wide record of one `tangram build` invocation. All
// state is guarded by mu; no lock is ever held across a channel send or a
// blocking wait, only across the in-memory bookkeeping and the (local,
// non-blocking) log file write.
type Build struct {
	id id.Id

	mu        sync.Mutex
	children  []id.Id
	childSubs []chan id.Id

	logFile *os.File
	logPos  int64
	logSubs []chan []byte

	result *Result
	done   chan struct{}
}

// New mints a fresh random build id and opens its log file under logDir,
// named after the id (the instance data directory's logs/<build_id> layout).
func New(logDir string) (*Build, error) {
	buildId := id.NewRandom(id.KindBuild)
	logPath := filepath.Join(logDir, buildId.String())
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, tgerror.WrapKind(tgerror.KindIO, err, "build: open log %s", logPath)
	}
	return &Build{
		id:      buildId,
		logFile: f,
		done:    make(chan struct{}),
	}, nil
}

// Id returns this build's random id.
func (b *Build) Id() id.Id { return b.id }

// Close releases the log file. It does not affect in-flight subscribers;
// callers must have already observed a result before closing.
func (b *Build) Close() error {
	return b.logFile.Close()
}

// AddChild appends child to the build's child list, in call order, and
// notifies every live ChildrenStream subscriber.
func (b *Build) AddChild(child id.Id) {
	b.mu.Lock()
	b.children = append(b.children, child)
	subs := make([]chan id.Id, len(b.childSubs))
	copy(subs, b.childSubs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- child:
		default:
		}
	}
}

// ChildrenStream returns every child recorded so far plus a channel of
// children recorded from this point on. The returned cancel func must be
// called once the caller stops reading, or the subscriber channel leaks.
// A subscriber that falls behind the broadcast simply misses children
// between snapshot and its next read; it never blocks AddChild.
func (b *Build) ChildrenStream() (existing []id.Id, children <-chan id.Id, cancel func()) {
	b.mu.Lock()
	existing = append([]id.Id(nil), b.children...)
	ch := make(chan id.Id, 64)
	b.childSubs = append(b.childSubs, ch)
	b.mu.Unlock()

	return existing, ch, func() { b.removeChildSub(ch) }
}

func (b *Build) removeChildSub(ch chan id.Id) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.childSubs {
		if s == ch {
			b.childSubs = append(b.childSubs[:i], b.childSubs[i+1:]...)
			return
		}
	}
}

// AddLog appends p to the build's log file as a single, contiguous write
// and notifies every live LogStream subscriber with a copy of p. Bytes
// from two concurrent AddLog calls may interleave with each other at this
// call's boundaries, but the bytes within one call are never split.
func (b *Build) AddLog(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	b.mu.Lock()
	if _, err := b.logFile.Write(p); err != nil {
		b.mu.Unlock()
		return tgerror.WrapKind(tgerror.KindIO, err, "build: %s: write log", b.id)
	}
	b.logPos += int64(len(p))
	subs := make([]chan []byte, len(b.logSubs))
	copy(subs, b.logSubs)
	b.mu.Unlock()

	chunk := append([]byte(nil), p...)
	for _, ch := range subs {
		select {
		case ch <- chunk:
		default:
		}
	}
	return nil
}

// LogStream returns every log byte written so far plus a channel of chunks
// written from this point on — replay-then-follow, the mode the CLI's build
// subcommand tails output with. The returned cancel func must be called
// once the caller stops reading. ctx is accepted for symmetry with the
// rest of this package's blocking calls; nothing here actually blocks.
func (b *Build) LogStream(ctx context.Context) (tail []byte, logs <-chan []byte, cancel func(), err error) {
	b.mu.Lock()
	pos := b.logPos
	ch := make(chan []byte, 256)
	b.logSubs = append(b.logSubs, ch)
	b.mu.Unlock()

	if pos == 0 {
		return nil, ch, func() { b.removeLogSub(ch) }, nil
	}
	buf := make([]byte, pos)
	if _, err := b.logFile.ReadAt(buf, 0); err != nil && err != io.EOF {
		b.removeLogSub(ch)
		return nil, nil, nil, tgerror.WrapKind(tgerror.KindIO, err, "build: %s: read log tail", b.id)
	}
	return buf, ch, func() { b.removeLogSub(ch) }, nil
}

func (b *Build) removeLogSub(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.logSubs {
		if s == ch {
			b.logSubs = append(b.logSubs[:i], b.logSubs[i+1:]...)
			return
		}
	}
}

// SetResult records the build's terminal outcome. Only the first call
// takes effect; later calls are no-ops, since a build only ever finishes
// once.
func (b *Build) SetResult(value id.Id, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.result != nil {
		return
	}
	r := Result{Value: value, Err: err}
	b.result = &r
	close(b.done)
}

// AwaitResult blocks until SetResult has been called, or ctx is cancelled.
func (b *Build) AwaitResult(ctx context.Context) (Result, error) {
	b.mu.Lock()
	if b.result != nil {
		r := *b.result
		b.mu.Unlock()
		return r, nil
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		b.mu.Lock()
		r := *b.result
		b.mu.Unlock()
		return r, nil
	case <-ctx.Done():
		return Result{}, tgerror.WrapKind(tgerror.KindCancellation, ctx.Err(), "build: %s: await result", b.id)
	}
}
