package cosave

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Encode runs fill against a fresh Writer and returns the stream bytes,
// zstd-compressed when compress is set.
func Encode(compress bool, fill func(w *Writer) error) ([]byte, error) {
	var raw bytes.Buffer
	w, err := NewWriter(&raw)
	if err != nil {
		return nil, err
	}
	if err := fill(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if !compress {
		return raw.Bytes(), nil
	}

	var out bytes.Buffer
	enc, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw.Bytes()); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd encode: %w", err)
	}
	return out.Bytes(), nil
}

// Decode opens a Reader over blob, inflating it first when it is a zstd frame.
func Decode(blob []byte) (*Reader, error) {
	if !bytes.HasPrefix(blob, zstdMagic) {
		return NewReader(bytes.NewReader(blob))
	}
	dec, err := zstd.NewReader(bytes.NewReader(blob), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return NewReader(bytes.NewReader(raw))
}
