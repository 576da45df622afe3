// Package signaling exchanges WebRTC session descriptions and connectivity
// candidates with a realtime provider.
//
// Two paths exist. The single-exchange path posts the local offer over HTTPS
// and reads the answer from the response body (SDPExchanger), optionally
// after trading a long-lived API key for an ephemeral credential
// (EphemeralKeyClient). The duplex path (SocketSignaler) keeps a websocket
// open and runs a ping/pong/offer/answer handshake, carrying trickled
// candidates in both directions.
//
// Every path reports completion through a Once, which fires exactly one time
// even when the reader goroutine and a cancellation race to finish it.
package signaling
