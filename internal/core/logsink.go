package core

import (
	"io"

	"github.com/ehrlich-b/tangram-go/internal/build"
	"github.com/ehrlich-b/tangram-go/internal/id"
)

// buildLogSink routes every running task's stdio into whichever build is
// currently active on the instance. A process runs one root evaluation at
// a time, so every descendant task's output is attached to that single
// build rather than a separate log per operation; opId is accepted to
// satisfy task.LogSink but otherwise unused under that simplification.
type buildLogSink struct {
	active func() *build.Build
}

func (s *buildLogSink) TaskStdout(opId id.Id) io.Writer {
	b := s.active()
	if b == nil {
		return io.Discard
	}
	return &buildLogWriter{b: b}
}

func (s *buildLogSink) TaskStderr(opId id.Id) io.Writer {
	return s.TaskStdout(opId)
}

// buildLogWriter adapts build.Build.AddLog to io.Writer.
type buildLogWriter struct {
	b *build.Build
}

func (w *buildLogWriter) Write(p []byte) (int, error) {
	if err := w.b.AddLog(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
