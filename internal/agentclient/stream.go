package agentclient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/stackhand/console/pkg/models"
)

// TimeoutError ends a stream that stalled (idle) or ran past the hard
// invocation ceiling (total). Text already emitted survives as a
// partial outcome.
type TimeoutError struct {
	Phase string // "idle" or "total"
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("invocation %s timeout", e.Phase)
}

// Stream is a single-consumer, forward-only chunk sequence for one
// invocation. The producer blocks between chunks until the consumer
// takes the previous one, so the client never buffers unboundedly
// ahead of the consumer.
type Stream struct {
	chunks chan models.ResponseChunk
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	text    strings.Builder
	outcome models.StreamOutcome
	err     error
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		chunks: make(chan models.ResponseChunk),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Chunks exposes the stream as a channel. It closes when the
// invocation ends for any reason; inspect Outcome afterwards.
func (s *Stream) Chunks() <-chan models.ResponseChunk { return s.chunks }

// Next returns the next chunk, or io.EOF once the stream has ended.
// Cancelling ctx abandons the wait without cancelling the stream.
func (s *Stream) Next(ctx context.Context) (models.ResponseChunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return models.ResponseChunk{}, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return models.ResponseChunk{}, ctx.Err()
	}
}

// Cancel stops the invocation. The underlying connection is released
// promptly and the stream ends with a cancelled outcome. Safe to call
// more than once.
func (s *Stream) Cancel() { s.cancel() }

// Wait blocks until the stream has fully ended.
func (s *Stream) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome reports how the stream ended. Valid once Chunks is closed
// (or Wait returns); before that it reports an empty outcome.
func (s *Stream) Outcome() models.StreamOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Text returns the concatenation of all emitted chunks: the full text
// after a completed outcome, the text so far after a partial one.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Err returns what ended the stream early: the timeout or transport
// failure for a partial outcome, the setup failure for a failed one.
// Nil for completed and cancelled outcomes.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// emitResult says how an emit attempt ended.
type emitResult int

const (
	emitDelivered emitResult = iota
	emitCancelled
	emitIdleTimeout
	emitTotalTimeout
)

// emit delivers one chunk to the consumer, appending it to the
// assembled text. Delivery blocks on the consumer, so the idle and
// total timers stay selectable here: a consumer that stops draining
// without cancelling must not suspend the stream ceilings.
func (s *Stream) emit(ctx context.Context, chunk models.ResponseChunk, idle, total <-chan time.Time) emitResult {
	select {
	case s.chunks <- chunk:
		s.mu.Lock()
		s.text.WriteString(chunk.Text)
		s.mu.Unlock()
		return emitDelivered
	case <-ctx.Done():
		return emitCancelled
	case <-idle:
		return emitIdleTimeout
	case <-total:
		return emitTotalTimeout
	}
}

// finish records the terminal outcome and closes the stream. A timeout
// with data already emitted downgrades to partial; one with no data is
// a failure.
func (s *Stream) finish(outcome models.StreamOutcome, err error) {
	s.mu.Lock()
	if outcome == models.OutcomePartial && s.text.Len() == 0 {
		outcome = models.OutcomeFailed
	}
	s.outcome = outcome
	s.err = err
	s.mu.Unlock()

	close(s.chunks)
	close(s.done)
	s.cancel()
}
