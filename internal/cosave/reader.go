package cosave

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxRecordLen caps a single payload read; anything larger is treated as corruption.
const maxRecordLen = 256 << 20

// Header is the stream header.
type Header struct {
	Format uint32
	Plugin Tag
}

// RecordInfo describes the record returned by Reader.Next.
type RecordInfo struct {
	Tag     Tag
	Version uint32
	Length  uint32
}

// Reader iterates records of a stream. Payload reads are bounded by the current
// record; reading past its end yields ErrShortRecord.
type Reader struct {
	br     *bufio.Reader
	header Header

	payload []byte
	off     int
	done    bool
}

// NewReader reads and validates the stream header.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var hdr [12]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if Tag(binary.LittleEndian.Uint32(hdr[0:])) != streamMagic {
		return nil, ErrBadMagic
	}
	h := Header{
		Format: binary.LittleEndian.Uint32(hdr[4:]),
		Plugin: Tag(binary.LittleEndian.Uint32(hdr[8:])),
	}
	if h.Plugin != PluginID {
		return nil, fmt.Errorf("%w: %s", ErrForeignStream, h.Plugin)
	}
	if h.Format > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrNewerFormat, h.Format)
	}
	return &Reader{br: br, header: h}, nil
}

func (r *Reader) Header() Header { return r.header }

// Next advances to the next record, discarding whatever is left of the current one.
// It returns io.EOF once the stream is exhausted. A record whose payload is cut
// short returns ErrShortRecord and ends the stream.
func (r *Reader) Next() (RecordInfo, error) {
	r.payload = r.payload[:0]
	r.off = 0
	if r.done {
		return RecordInfo{}, io.EOF
	}
	var hdr [12]byte
	n, err := io.ReadFull(r.br, hdr[:])
	if err != nil {
		r.done = true
		if n == 0 && errors.Is(err, io.EOF) {
			return RecordInfo{}, io.EOF
		}
		return RecordInfo{}, fmt.Errorf("%w: header: %v", ErrShortRecord, err)
	}
	info := RecordInfo{
		Tag:     Tag(binary.LittleEndian.Uint32(hdr[0:])),
		Version: binary.LittleEndian.Uint32(hdr[4:]),
		Length:  binary.LittleEndian.Uint32(hdr[8:]),
	}
	if info.Length > maxRecordLen {
		r.done = true
		return info, fmt.Errorf("%w: %s declares %d bytes", ErrRecordTooBig, info.Tag, info.Length)
	}
	if cap(r.payload) < int(info.Length) {
		r.payload = make([]byte, info.Length)
	}
	r.payload = r.payload[:info.Length]
	if _, err := io.ReadFull(r.br, r.payload); err != nil {
		r.done = true
		r.payload = r.payload[:0]
		return info, fmt.Errorf("%w: %s payload: %v", ErrShortRecord, info.Tag, err)
	}
	return info, nil
}

// Remaining returns the unread payload bytes of the current record.
func (r *Reader) Remaining() int { return len(r.payload) - r.off }

func (r *Reader) ReadU32() (uint32, error) {
	if r.Remaining() < 4 {
		r.off = len(r.payload)
		return 0, ErrShortRecord
	}
	v := binary.LittleEndian.Uint32(r.payload[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if r.Remaining() < 8 {
		r.off = len(r.payload)
		return 0, ErrShortRecord
	}
	v := binary.LittleEndian.Uint64(r.payload[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}
