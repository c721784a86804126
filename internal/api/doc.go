// Package api implements the JSON HTTP API: entry CRUD, hybrid search,
// similarity graphs, bulk ingestion and the AI-backed endpoints, behind a
// middleware stack with panic recovery, request IDs, CORS and per-IP rate
// limiting.
package api
