// Package modelcache manages the local model weight directory.
//
// The worker downloads weights into the directory on first load. This package
// owns the pieces around that: creating the directory, a cross-process flock
// that serializes downloads between serve and download-models, and a SQLite
// manifest (modernc.org/sqlite, no cgo) recording which models were loaded,
// on which device, and how often.
package modelcache
