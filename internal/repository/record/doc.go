// Package record persists the install record of a runtime installation.
//
// The FileRepository stores the record as YAML in the "versiondata" file of an
// install directory. Writes go through a temporary file and a rename, so
// readers never observe a half-written record.
package record
