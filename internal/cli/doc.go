// Package cli implements the codectx command line.
//
//	codectx serve                      MCP server on stdio
//	codectx index [paths...]           index or refresh files
//	codectx search <query>             ranked chunks
//	codectx pack <query>               token-budgeted context pack
//	codectx stats                      index, usage and cache statistics
//	codectx cache clear|stats [ns]     cache maintenance
//	codectx version
//
// Every command accepts --config, --root, --index-dir, --log-level and
// --json. Text output is styled only when stdout is a terminal.
package cli
