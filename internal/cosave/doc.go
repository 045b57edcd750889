// Package cosave implements the record stream persisted next to a host save.
//
// Stream layout (little-endian):
//
//	[magic:u32 'PCSV'][format:u32][plugin:u32 'BPAP']
//	{ [tag:u32][version:u32][length:u32][payload:length] }*
//
// The length prefix lets readers skip records they do not understand. There is
// no checksum; corruption inside a payload is not detected here.
//
// Streams may be wrapped in a zstd frame (see Encode); Decode detects it.
package cosave
