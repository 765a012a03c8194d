package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
)

const maxChunkSize = 1 << 20

// relayChunks forwards newline-delimited JSON chunks from rc to a channel
// as they arrive, preserving order and buffering nothing beyond the current
// line. The chunk channel is closed at stream end; a terminal failure is
// delivered on the error channel. Caller cancellation closes rc promptly so
// the underlying network stream is torn down.
func relayChunks(ctx context.Context, rc io.ReadCloser) (<-chan json.RawMessage, <-chan error) {
	chunks := make(chan json.RawMessage)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)
		defer rc.Close()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				rc.Close()
			case <-done:
			}
		}()

		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 0, 64*1024), maxChunkSize)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			chunk := make(json.RawMessage, len(line))
			copy(chunk, line)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	return chunks, errs
}
