package log

// Package log provides a small wrapper around the standard library logger
// used by every skim subsystem.
//
// Key features:
//
//   - Per subsystem loggers via ForService(name)
//   - Automatic prefix in every line: `[name]` (example: `[scheduler] tick`)
//   - Convenience level helpers: Infof, Warnf, Errorf, Debugf
//   - Debug logging can be enabled globally (SetGlobalDebug) or per subsystem
//     (EnableDebugFor / DisableDebugFor)
//   - Central output writer (SetOutput) that updates existing loggers
//
// Structured or JSON output is intentionally out of scope; the polling and
// push paths log short human-readable lines.
//
// Usage:
//
//	l := log.ForService("websub")
//	l.Infof("subscribed to %s", hub)
//	l.Debugf("raw body: %s", body) // only with debug enabled
