// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Probes backend availability before opening the push channel
//   - Maintains one WebSocket session subscribed to the market channel
//   - Reconnects abnormal closes with exponential backoff, up to a budget
//   - Falls back to REST polling when the backend or budget is exhausted
//   - Routes incoming messages to the Message Router
//
// A session closed with code 1000, or closed locally, is never reconnected.
package connection
