// Package api provides the REST client for the market-data backend.
//
// Endpoints:
//   - GET /health                          availability probe target
//   - GET /api/prediction-markets?limit=N  polling snapshot
//
// The WebSocket endpoint lives on the same host at /ws; see package connection.
package api
