// Package main is the entry point for the realtime service.
//
// The service is the live layer of the forum platform: it holds the
// WebSocket connections of browser clients, tracks which user is in which
// community group, fans out feed events, relays direct chat between live
// users, and proxies assistant conversations to the text-completion
// service.
//
// Configuration comes from environment variables (12-factor), with
// defaults suitable for development.
//
// Usage:
//
//	PORT=8000 ./server
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
