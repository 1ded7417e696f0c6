// Package mcp implements the Model Context Protocol (MCP) server for ragkb.
//
// The MCP server exposes three tools to AI assistants:
//   - ingest_documents: ingest a directory or document into the knowledge base
//   - search_knowledge: retrieve the chunks most similar to a query
//   - get_stats: report store contents, health and pipeline counters
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command:
//
//	ragkb serve
//
// # Tool: ingest_documents
//
//	Request:
//	{
//	  "name": "ingest_documents",
//	  "arguments": {
//	    "path": "/srv/docs/handbook",
//	    "force_reindex": false,
//	    "batch_size": 16
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "5d8a3c0e-...",
//	  "total_files": 12,
//	  "processed_files": 10,
//	  "skipped_files": 1,
//	  "failed_files": 1,
//	  "new_chunks": 184,
//	  "duplicate_chunks": 0,
//	  "errors": [{"file_name": "/srv/docs/handbook/scan.pdf", "reason": "..."}]
//	}
//
// # Tool: search_knowledge
//
//	Request:
//	{
//	  "name": "search_knowledge",
//	  "arguments": {"query": "library opening hours", "top_k": 5, "threshold": 0.3}
//	}
//
// The response lists the results with source file name and score, and a
// "context" string with the numbered passages ready to paste into a prompt.
//
// # Error Handling
//
// Handlers return *MCPError values with JSON-RPC style codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error
//   - -32002: Ingestion in progress
//   - -32004: Empty query
//   - -32005: Vector store unavailable
//
// # Logging
//
// The server logs to stderr; stdout is reserved for the MCP protocol.
package mcp
