// Package launch wires the launch pipeline: it admits the invocation through
// the guard, keeps xlm and the runtime up to date, runs the hooks around the
// runtime and reports the runtime exit status.
package launch
