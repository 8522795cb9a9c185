// Package engine wires storage, indexing, caching, ranking, packing and
// file watching into the operations exposed over MCP and the CLI.
//
// An Engine serves one repository. Index mutations, whether explicit or
// triggered by the watcher, are serialized by the indexer and followed by
// a cache resync against the new index version. Reads work on immutable
// index snapshots and never wait for a mutation.
package engine
