// Package logx configures paperd's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Warn/error volume bounded by a process-wide sampler
package logx
