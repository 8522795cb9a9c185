// Package mcp implements the Model Context Protocol (MCP) server for codectx.
//
// The server exposes six tools to AI coding assistants:
//   - index_path: Index source files under a path
//   - search_code: Rank indexed chunks against a query
//   - context_pack: Build a token-budgeted bundle of excerpts
//   - auto_index: Start, stop or inspect the file watcher
//   - get_stats: Index, session, cache and watcher statistics
//   - cache_management: Clear caches or report their statistics
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. Stdout carries protocol messages only;
// logs go to stderr.
//
//	codectx serve
//
// # Responses
//
// Every tool answers with a single JSON text payload carrying a status
// field: success, started, stopped or running. Failures are reported in
// band with IsError set on the result:
//
//	{
//	  "status": "error",
//	  "error": "query cannot be empty",
//	  "code": -32004
//	}
//
// Error codes:
//   - -32602: Invalid params (bad path, limit, strategy or cache type)
//   - -32603: Internal error (storage, filesystem)
//   - -32002: Indexing in progress
//   - -32004: Empty query
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "parse token",
//	    "limit": 5,
//	    "file_glob": "internal/**",
//	    "extensions": [".go"]
//	  }
//	}
//
//	Response:
//	{
//	  "status": "success",
//	  "search_type": "bm25",
//	  "cache_hit": false,
//	  "count": 1,
//	  "results": [
//	    {
//	      "chunk_id": "3f1c...",
//	      "file_path": "internal/lexer/token.go",
//	      "start_line": 1,
//	      "end_line": 80,
//	      "score": 0.93,
//	      "preview": "package lexer\n..."
//	    }
//	  ]
//	}
//
// # Tool: context_pack
//
// budget_tokens is clamped to 500-5000 and max_chunks to 1-10. The pack
// reports how many tokens were saved by summarizing chunks and, on a
// repeated request, by serving it from cache.
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "codectx": {
//	      "command": "/usr/local/bin/codectx",
//	      "args": ["serve", "--root", "/path/to/repo"],
//	      "env": {
//	        "AUTO_INDEX_ON_START": "true",
//	        "AUTO_START_WATCHER": "true"
//	      }
//	    }
//	  }
//	}
package mcp
