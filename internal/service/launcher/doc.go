// Package launcher composes the runtime environment and supervises the runtime process.
package launcher
