// Package protocol defines the TLS 1.0 message flow this engine drives:
//
//	Client                                  Server
//	    | -------- ClientHello -------------> |
//	    | <------- ServerHello --------------- |
//	    | <------- Certificate --------------- |
//	    | <------- ServerHelloDone ----------- |
//	    | -------- ClientKeyExchange --------> |
//	    | -------- ChangeCipherSpec ---------> |
//	    | -------- Finished ------------------> |
//	    | <------- ChangeCipherSpec ----------- |
//	    | <------- Finished ------------------- |
//	    |      === application data ===        |
package protocol

import (
	"github.com/pzverkov-student/tls10-engine/internal/constants"
	qerrors "github.com/pzverkov-student/tls10-engine/internal/errors"
)

// ContentType identifies the record layer payload kind.
type ContentType = uint8

// HandshakeType identifies a handshake message kind.
type HandshakeType = uint8

// RecordHeader is the 5-byte record layer framing that precedes every
// fragment: content type, version, and big-endian length.
type RecordHeader struct {
	Type    ContentType
	Version Version
	Length  uint16
}

// HandshakeHeader is the 4-byte framing that precedes every handshake
// message body: message type and a 3-byte big-endian length.
type HandshakeHeader struct {
	Type   HandshakeType
	Length uint32 // fits in 24 bits on the wire
}

// ClientHello is the message that opens or renegotiates a connection.
type ClientHello struct {
	Version      Version
	Random       [32]byte
	SessionID    []byte // accepted but never reused; this core has no resumption
	CipherSuites []constants.CipherSuite
	Compression  []uint8
	// Extensions are parsed as an opaque blob and ignored: this core
	// speaks only the empty-extensions profile.
	Extensions []byte
}

// Validate checks structural validity independent of negotiation outcome.
func (m *ClientHello) Validate() error {
	if len(m.CipherSuites) == 0 {
		return qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}
	if len(m.SessionID) > 32 {
		return qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}
	return nil
}

// ServerHello is the server's response selecting a cipher suite.
type ServerHello struct {
	Version     Version
	Random      [32]byte
	SessionID   []byte // always empty in this core: no resumption
	CipherSuite constants.CipherSuite
	Compression uint8 // always 0 (null)
}

// Certificate carries the server's DER-encoded certificate chain.
type Certificate struct {
	CertChain [][]byte
}

// ServerHelloDone has no body.
type ServerHelloDone struct{}

// ClientKeyExchange carries the RSA-encrypted pre-master secret.
type ClientKeyExchange struct {
	EncryptedPreMasterSecret []byte
}

// Finished carries the 12-byte verify_data produced by the PRF over the
// handshake transcript.
type Finished struct {
	VerifyData [constants.VerifyDataSize]byte
}

// ChangeCipherSpec is the single-byte message that activates a pending
// cipher for the direction it travels in.
type ChangeCipherSpec struct{}

// AlertLevel distinguishes warning from fatal alerts (RFC 2246 §7.2).
type AlertLevel = uint8

const (
	AlertLevelWarning AlertLevel = 1
	AlertLevelFatal   AlertLevel = 2
)

// Alert carries a level and description byte pair.
type Alert struct {
	Level       AlertLevel
	Description uint8
}

// Alert description codes this engine may surface or emit (RFC 2246 §7.2.2).
const (
	AlertCloseNotify          uint8 = 0
	AlertUnexpectedMessage    uint8 = 10
	AlertBadRecordMAC         uint8 = 20
	AlertDecryptionFailed     uint8 = 21
	AlertHandshakeFailure     uint8 = 40
	AlertIllegalParameter     uint8 = 47
	AlertInternalError        uint8 = 80
)
