// Package stream turns a provider's lazy chunk source into a bounded,
// backpressure-aware sequence of domain.StreamChunk, enforcing monotone
// indices, idle timeouts, and the three mutually-exclusive terminal
// callbacks (onComplete/onError/onCancel) the transport layer guarantees
// per §4.7.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
)

// Backpressure selects what happens when the consumer falls behind the
// producer and the bounded buffer is full.
type Backpressure string

const (
	// Buffer blocks the producer until the consumer drains space. This is
	// the default (see DESIGN.md open-question decision) because it is
	// the only mode that never silently loses a chunk.
	Buffer Backpressure = "buffer"
	// DropOldest discards the oldest buffered chunk to make room — a ring
	// buffer — favoring freshness over completeness.
	DropOldest Backpressure = "drop_oldest"
	// Latest keeps only the single most recent chunk, collapsing bursts.
	Latest Backpressure = "latest"
	// ErrorOnOverflow fails the stream the instant the buffer is full.
	ErrorOnOverflow Backpressure = "error"
)

// toolCallMarkers are the partial-completion signals the spec calls out by
// name; only these markers turn detection on, and brace-depth tracking
// below only marks a detected call as partial while its JSON is open.
var toolCallMarkers = []string{"tool_call", "function_call", "<tool_call>"}

// Config controls one stream's buffering, timeout, and tool-call
// detection behavior.
type Config struct {
	Backpressure Backpressure
	BufferSize   int
	IdleTimeout  time.Duration
}

// DefaultConfig matches the core.Config streaming defaults (see
// core/config.go's env-tagged struct).
func DefaultConfig() Config {
	return Config{Backpressure: Buffer, BufferSize: 64, IdleTimeout: 30 * time.Second}
}

// ChunkSource is the shape of a provider's InferStream: invoked once, it
// calls onChunk once per chunk, and an error from onChunk aborts it early.
type ChunkSource func(ctx context.Context, onChunk func(domain.StreamChunk) error) error

// Callbacks are the three terminal hooks the transport guarantees are
// mutually exclusive and each fire at most once.
type Callbacks struct {
	OnComplete func(totalChunks int)
	OnError    func(err error)
	OnCancel   func(reason string)
}

// Stream runs one provider chunk source to completion, applying
// backpressure, idle-timeout, and tool-call annotation, and invoking
// exactly one terminal callback.
type Stream struct {
	cfg    Config
	logger core.Logger

	mu        sync.Mutex
	braceDepth int
	toolCall   bool
	buf        []domain.StreamChunk
	closed     bool
}

// New builds a Stream with cfg (zero value resolves to DefaultConfig) and
// an optional logger (defaults to a no-op logger).
func New(cfg Config, logger core.Logger) *Stream {
	if cfg.Backpressure == "" {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Stream{cfg: cfg, logger: logger}
}

// Run drives source to completion, delivering each tagged chunk to
// deliver. deliver must not block indefinitely — under Buffer backpressure
// a slow deliver directly throttles the producer, which is the intended
// behavior.
func (s *Stream) Run(ctx context.Context, source ChunkSource, deliver func(domain.StreamChunk) error, cb Callbacks) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	idle := s.cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultConfig().IdleTimeout
	}

	index := 0
	timer := time.NewTimer(idle)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		done <- source(ctx, func(chunk domain.StreamChunk) error {
			chunk.Index = index
			index++
			s.annotateToolCall(&chunk)
			if err := s.applyBackpressure(ctx, chunk, deliver); err != nil {
				return err
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
			return nil
		})
	}()

	select {
	case <-ctx.Done():
		reason := "context cancelled"
		if ctx.Err() == context.DeadlineExceeded {
			reason = "deadline exceeded"
		}
		cancel()
		if cb.OnCancel != nil {
			cb.OnCancel(reason)
		}
		return core.NewGatewayError("stream.run", core.KindCancelled, reason)

	case <-timer.C:
		cancel()
		err := core.NewGatewayError("stream.run", core.KindTimeout, "no chunk received within idle timeout")
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err

	case err := <-done:
		if err != nil {
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return err
		}
		if cb.OnComplete != nil {
			cb.OnComplete(index)
		}
		return nil
	}
}

// annotateToolCall scans the running brace depth across chunk boundaries.
// Once a literal marker has been seen, every chunk from then on is flagged
// toolCallDetected, and toolCallPartial is added while a JSON object is
// still open.
func (s *Stream) annotateToolCall(chunk *domain.StreamChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(chunk.Delta)
	for _, marker := range toolCallMarkers {
		if strings.Contains(lower, marker) {
			s.toolCall = true
			break
		}
	}
	for _, r := range chunk.Delta {
		switch r {
		case '{':
			s.braceDepth++
		case '}':
			if s.braceDepth > 0 {
				s.braceDepth--
			}
		}
	}
	if s.toolCall {
		if chunk.Metadata == nil {
			chunk.Metadata = make(map[string]string)
		}
		chunk.Metadata["toolCallDetected"] = "true"
		if s.braceDepth > 0 {
			chunk.Metadata["toolCallPartial"] = "true"
		}
	}
}

// applyBackpressure enforces cfg.Backpressure against the in-memory buffer
// before calling deliver. The buffer only matters when deliver is slower
// than the producer; in the common case it passes straight through.
func (s *Stream) applyBackpressure(ctx context.Context, chunk domain.StreamChunk, deliver func(domain.StreamChunk) error) error {
	switch s.cfg.Backpressure {
	case DropOldest:
		s.mu.Lock()
		if len(s.buf) >= s.cfg.BufferSize && s.cfg.BufferSize > 0 {
			s.buf = s.buf[1:]
		}
		s.buf = append(s.buf, chunk)
		s.mu.Unlock()
		return deliver(chunk)

	case Latest:
		s.mu.Lock()
		s.buf = []domain.StreamChunk{chunk}
		s.mu.Unlock()
		return deliver(chunk)

	case ErrorOnOverflow:
		s.mu.Lock()
		if s.cfg.BufferSize > 0 && len(s.buf) >= s.cfg.BufferSize {
			s.mu.Unlock()
			return core.NewGatewayError("stream.run", core.KindInternal, "stream buffer overflow")
		}
		s.buf = append(s.buf, chunk)
		s.mu.Unlock()
		err := deliver(chunk)
		s.mu.Lock()
		if len(s.buf) > 0 {
			s.buf = s.buf[1:]
		}
		s.mu.Unlock()
		return err

	default: // Buffer: block the producer by simply calling deliver synchronously.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return deliver(chunk)
	}
}
