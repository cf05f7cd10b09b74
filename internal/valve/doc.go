// Package valve implements the per-device session for the thermostatic
// radiator valve protocol.
//
// A Session owns the peripheral handle and its two protocol characteristics
// (write fff1, notify fff2). Connect walks the connection state machine,
// restarting the whole sequence when a step times out. Once connected, field
// reads and writes are framed by package protocol and exchanged through a
// correlator that serializes requests and retries on response timeouts.
package valve
