// Package storage keeps cosave slots between runs of the daemon.
//
// A slot is one named cosave blob, as produced by cosave.Encode, plus the session
// that wrote it. Every save, load and revert is also appended to an operation
// history.
package storage
