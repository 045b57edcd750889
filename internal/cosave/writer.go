package cosave

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer appends records to a stream. A record is buffered until the next
// OpenRecord or Close, then written with its length prefix.
//
// After an underlying write error every further OpenRecord fails with ErrRecordOpen.
type Writer struct {
	bw  *bufio.Writer
	err error

	open    bool
	tag     Tag
	version uint32
	payload []byte

	records int
}

// NewWriter writes the stream header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := &Writer{bw: bufio.NewWriter(w)}
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(streamMagic))
	binary.LittleEndian.PutUint32(hdr[4:], FormatVersion)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(PluginID))
	if _, err := cw.bw.Write(hdr[:]); err != nil {
		return nil, err
	}
	return cw, nil
}

// OpenRecord finishes the current record (if any) and starts a new one.
func (w *Writer) OpenRecord(tag Tag, version uint32) error {
	if err := w.finish(); err != nil {
		return fmt.Errorf("%w %s: %v", ErrRecordOpen, tag, err)
	}
	if w.err != nil {
		return fmt.Errorf("%w %s: %v", ErrRecordOpen, tag, w.err)
	}
	w.open = true
	w.tag = tag
	w.version = version
	w.payload = w.payload[:0]
	return nil
}

// Discard drops the record being written.
func (w *Writer) Discard() {
	w.open = false
	w.payload = w.payload[:0]
}

func (w *Writer) WriteU32(v uint32) error {
	if !w.open {
		return ErrNoRecord
	}
	w.payload = binary.LittleEndian.AppendUint32(w.payload, v)
	return nil
}

func (w *Writer) WriteU64(v uint64) error {
	if !w.open {
		return ErrNoRecord
	}
	w.payload = binary.LittleEndian.AppendUint64(w.payload, v)
	return nil
}

func (w *Writer) WriteI32(v int32) error { return w.WriteU32(uint32(v)) }

// Records returns how many records were fully written.
func (w *Writer) Records() int { return w.records }

// Close writes the pending record and flushes the stream. It does not close
// the underlying writer.
func (w *Writer) Close() error {
	if err := w.finish(); err != nil {
		return err
	}
	if w.err != nil {
		return w.err
	}
	if err := w.bw.Flush(); err != nil {
		w.err = err
		return err
	}
	return nil
}

func (w *Writer) finish() error {
	if !w.open {
		return nil
	}
	w.open = false
	if w.err != nil {
		return w.err
	}
	if uint64(len(w.payload)) > math.MaxUint32 {
		return ErrRecordTooBig
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(w.tag))
	binary.LittleEndian.PutUint32(hdr[4:], w.version)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(w.payload)))
	if _, err := w.bw.Write(hdr[:]); err != nil {
		w.err = err
		return err
	}
	if _, err := w.bw.Write(w.payload); err != nil {
		w.err = err
		return err
	}
	w.records++
	return nil
}
