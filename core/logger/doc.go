// Package logger provides structured logging attribute helpers built on Go's
// standard slog package, covering the identifiers this module logs most:
// connections, users, rooms, bus channels, and errors.
//
// Helpers use the empty-Attr pattern for nil safety, so call sites need no
// explicit checks:
//
//	log.Error("publish failed",
//		logger.Component("hub"),
//		logger.Channel("ssekit:bus"),
//		logger.Error(err), // safe even when err is nil
//	)
//
// Empty Attrs are elided by slog handlers, keeping log output clean.
package logger
