package dispatcher

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/mixaill76/key_rotator/internal/gemini"
	"github.com/mixaill76/key_rotator/internal/models"
)

// Stream is a single-pass sequence of upstream chunks. It must be consumed
// and closed from one goroutine. Cancelling the request context unblocks a
// pending Next.
//
// The usage record is written once: when Next reaches the end of the
// stream, when the upstream fails, or when the stream is closed early.
type Stream struct {
	ctx    context.Context
	call   *call
	reader *gemini.StreamReader
	cancel context.CancelFunc

	chunk     *gemini.Chunk
	err       *UpstreamError
	delivered int

	mu      sync.Mutex
	done    bool
	release sync.Once
}

func newStream(ctx context.Context, c *call, reader *gemini.StreamReader, cancel context.CancelFunc) *Stream {
	return &Stream{
		ctx:    ctx,
		call:   c,
		reader: reader,
		cancel: cancel,
	}
}

// Next advances to the next chunk. It returns false at the end of the
// stream or on error; check Err afterwards.
func (s *Stream) Next() bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	chunk, err := s.reader.Next()
	if err == nil {
		s.chunk = chunk
		s.delivered++
		return true
	}

	s.chunk = nil
	if errors.Is(err, io.EOF) {
		s.end(nil)
		return false
	}

	upErr := toUpstreamError(err)
	if s.end(upErr) {
		s.err = upErr
	}
	return false
}

// Chunk returns the chunk read by the last successful Next.
func (s *Stream) Chunk() *gemini.Chunk {
	return s.chunk
}

// Err returns the upstream failure that ended the stream, if any.
func (s *Stream) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// Delivered is the number of chunks handed out so far.
func (s *Stream) Delivered() int {
	return s.delivered
}

// Usage returns the last token counts the upstream reported.
func (s *Stream) Usage() *models.TokenUsage {
	return gemini.UsageFromMetadata(s.reader.Usage())
}

// Close stops the stream. Closing before the end records a client_closed
// failure and cancels the upstream request.
func (s *Stream) Close() error {
	s.end(toUpstreamError(errClientClosed))
	return nil
}

// All adapts the stream to a range-over-func iterator. Breaking out of the
// loop closes the stream.
func (s *Stream) All() iter.Seq2[*gemini.Chunk, error] {
	return func(yield func(*gemini.Chunk, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.chunk, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// end finalizes the call with upErr and releases the upstream connection.
// It reports whether this call was the one that ended the stream.
func (s *Stream) end(upErr *UpstreamError) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	s.done = true
	s.mu.Unlock()

	s.call.finish(s.ctx, s.Usage(), upErr)
	s.release.Do(func() {
		s.cancel()
		if err := s.reader.Close(); err != nil {
			s.call.d.logger.Debug("Failed to close upstream stream", "error", err)
		}
	})
	return true
}
