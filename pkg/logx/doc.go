// Package logx configures ctimer's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated (lumberjack)
//   - Runtime level/sink swaps without re-plumbing loggers (Service.Apply)
package logx
