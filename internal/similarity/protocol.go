package similarity

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// The sidecar protocol: 4-byte big-endian length prefix followed by a
// msgpack body, both directions, over the worker's stdio. Requests and
// responses are correlated by id.

// maxFrameSize bounds a single frame; a batch of 4K screenshots stays
// well under it.
const maxFrameSize = 256 * 1024 * 1024

// Request asks the worker to embed a batch of images.
type Request struct {
	ID     int      `msgpack:"id"`
	Images [][]byte `msgpack:"images"`
}

// Response carries either the embedding vectors, one per input image,
// or an error message.
type Response struct {
	ID      int         `msgpack:"id"`
	Error   string      `msgpack:"error,omitempty"`
	Vectors [][]float32 `msgpack:"vectors,omitempty"`
}

func writeFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read frame body: %w", err)
	}
	return msgpack.Unmarshal(body, v)
}
