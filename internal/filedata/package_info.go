// Package filedata loads a state file into the store at startup and, if requested, watches the file
// and imports it again whenever it changes.
//
// The file contains an exported state document as JSON, optionally gzip-compressed.
package filedata
