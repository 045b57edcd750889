package cosave

import "errors"

var (
	ErrBadMagic      = errors.New("cosave: bad stream magic")
	ErrForeignStream = errors.New("cosave: stream written by another plugin")
	ErrNewerFormat   = errors.New("cosave: stream format is newer than supported")
	ErrRecordOpen    = errors.New("cosave: failed to open record")
	ErrNoRecord      = errors.New("cosave: no record open")
	ErrShortRecord   = errors.New("cosave: record truncated")
	ErrRecordTooBig  = errors.New("cosave: record payload too large")
	ErrUnknownRecord = errors.New("cosave: unknown record tag")
)
