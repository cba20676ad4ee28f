// Package tls10engine provides a pure, I/O-free TLS 1.0 (protocol version
// 3.1) server-side record and handshake engine.
//
// The engine never reads or writes a socket itself: it consumes bytes
// arriving from the network and returns bytes to send back, plus a list
// of events describing what happened. Callers own all I/O, making the
// engine trivial to drive from a net.Conn, a test harness, or a fuzzer.
//
// # Quick Start
//
//	import "github.com/pzverkov-student/tls10-engine/pkg/engine"
//
//	e := engine.New(certChain, privateKey)
//	state := e.InitialState()
//	state, out, events, err := e.Handle(state, incoming)
//	conn.Write(out)
//
// # Package Structure
//
// The engine is organized into several packages, bottom-up:
//
//   - pkg/primitives: the narrow crypto capability surface (RSA, HMAC, PRF,
//     stream/block ciphers, randomness) the core drives through an
//     interface rather than importing crypto/* directly.
//   - pkg/protocol: TLS 1.0 wire format — record headers, handshake
//     message framing, and message encode/decode.
//   - pkg/record: the record layer's MAC-then-pad-then-cipher transform
//     and chained-IV bookkeeping, per direction.
//   - pkg/handshake: the pure ClientHello→Finished state machine,
//     including renegotiation.
//   - pkg/engine: the top-level driver that ties record splitting,
//     decryption, handshake processing, and encryption into a single
//     Handle call and reports Events to the caller.
//   - pkg/metrics: structured logging and optional tracing.
//   - internal/constants: protocol constants and cipher suite parameters.
//   - internal/errors: typed errors for protocol, MAC, and crypto failures.
//
// # Security Properties
//
//   - Server-authenticated RSA key exchange (TLS_RSA_WITH_*).
//   - Master secret and key material derived via the TLS 1.0 PRF
//     (P_MD5 XOR P_SHA1, RFC 2246 §5).
//   - Constant-time Finished verify_data comparison.
//   - No partial-record buffering: malformed framing fails fast rather
//     than accumulating attacker-controlled state.
//
// # Testing
//
// Package tests use only the standard library's testing package, in the
// style of the rest of this module:
//
//	go test ./...
//
// # References
//
//   - RFC 2246: The TLS Protocol Version 1.0
package tls10engine
