// Package signaling is the camera's client side of the Jumbo signaling
// protocol: one outbound WebSocket carrying JSON envelopes.
//
// Inbound requests (sdp, candidate, hangup) are dispatched to a Handler;
// responses (sdp answers, local candidates) are written back with Send.
// Malformed or unsupported input is logged and dropped, never answered.
package signaling
