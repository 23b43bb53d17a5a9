package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"hearth/internal/domain"
)

// sseScanBuffer bounds a single SSE line; providers pack whole JSON chunks
// into one data line.
const sseScanBuffer = 1024 * 1024

// parseSSEStream reads "data:" lines from body and converts each payload to
// a StreamDelta with the provider-specific parseLine. The channel closes when
// the stream ends or ctx is cancelled; a transport failure mid-stream is
// delivered as a final delta with Err set.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), sseScanBuffer)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			if bytes.Equal(data, []byte("[DONE]")) {
				ch <- domain.StreamDelta{Done: true}
				return
			}

			delta, err := parseLine(data)
			if err != nil {
				// Unparseable chunk, skip it.
				continue
			}
			if delta == nil {
				continue
			}

			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}
			if delta.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			final := domain.StreamDelta{
				Done: true,
				Err:  fmt.Errorf("%w: stream interrupted: %v", domain.ErrNetwork, err),
			}
			select {
			case ch <- final:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}
