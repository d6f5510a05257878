package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen bounds the payload of a single frame. The engine chunks its
// output well below this.
const MaxFrameLen = 8 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum length")

// Reader decodes frames from a live stream, one at a time.
type Reader struct {
	r      io.Reader
	header [headerLen]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next frame. It returns io.EOF when the stream ends on a
// frame boundary, io.ErrUnexpectedEOF when it ends inside a frame and
// ErrFrameTooLarge for a header announcing more than MaxFrameLen bytes.
func (r *Reader) Next() (StreamFrame, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return StreamFrame{}, err
	}
	f := StreamFrame{
		Stream: StreamType(r.header[0]),
		Length: binary.BigEndian.Uint32(r.header[4:headerLen]),
	}
	if f.Length > MaxFrameLen {
		return StreamFrame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, f.Length)
	}
	f.Payload = make([]byte, f.Length)
	if _, err := io.ReadFull(r.r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return StreamFrame{}, err
	}
	return f, nil
}

// Copy writes stdout and stderr frames of src to the respective writers until
// src is exhausted. Frames with unknown tags are skipped.
func Copy(stdout, stderr io.Writer, src io.Reader) error {
	r := NewReader(src)
	for {
		f, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		var dst io.Writer
		switch f.Stream {
		case Stdout:
			dst = stdout
		case Stderr:
			dst = stderr
		default:
			continue
		}
		if _, err := dst.Write(f.Payload); err != nil {
			return fmt.Errorf("write %s: %w", f.Stream, err)
		}
	}
}
