// Package watcher detects file changes under a directory and reports them
// in batches.
//
// Two implementations share the FileWatcher interface: FSNotify uses
// native file events with a debounce window, Polling hashes the tree on an
// interval. New selects one by kind; "auto" prefers events and falls back
// to polling. Callback errors and panics are logged and never end the
// watch loop.
package watcher
