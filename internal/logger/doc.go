// Package logger wraps zap for xlm.
//
// It keeps a global sugared logger printing to the terminal, lets the CLI
// tee a debug-level copy into a log file, and offers context helpers
// (ToContext/FromContext/WithName/WithKV) so every service logs with the
// scope it was called from.
package logger
