// Package constants defines wire-level sizes and identifiers for the TLS 1.0
// (protocol version 3.1, RFC 2246) record-and-handshake engine.
package constants

// ProtocolVersion is the wire version this engine always writes and the only
// version it accepts on ClientHello: major 3, minor 1 (TLS 1.0).
var ProtocolVersion = [2]byte{3, 1}

// Record content types (RFC 2246 §6.2.1).
const (
	ContentTypeChangeCipherSpec uint8 = 20
	ContentTypeAlert            uint8 = 21
	ContentTypeHandshake        uint8 = 22
	ContentTypeApplicationData  uint8 = 23
)

// Handshake message types (RFC 2246 §7.4).
const (
	HandshakeTypeClientHello       uint8 = 1
	HandshakeTypeServerHello       uint8 = 2
	HandshakeTypeCertificate       uint8 = 11
	HandshakeTypeServerHelloDone   uint8 = 14
	HandshakeTypeClientKeyExchange uint8 = 16
	HandshakeTypeFinished          uint8 = 20
)

// Field sizes fixed by the protocol.
const (
	RecordHeaderSize    = 5  // content type (1) + version (2) + length (2)
	HandshakeHeaderSize = 4  // message type (1) + length (3)
	RandomSize          = 32 // client_random / server_random
	MasterSecretSize    = 48
	PreMasterSecretSize = 48
	VerifyDataSize      = 12 // Finished.verify_data
	SequenceSize        = 8  // sequence number width in the MAC input
)

// Finished label strings used by the PRF (RFC 2246 §7.4.9).
const (
	FinishedLabelClient = "client finished"
	FinishedLabelServer = "server finished"
)

// Master-secret / key-block PRF labels (RFC 2246 §8.1, §6.3).
const (
	MasterSecretLabel = "master secret"
	KeyExpansionLabel = "key expansion"
)

// CipherSuite identifies a (key exchange, bulk cipher, MAC) triple. The
// wire encoding is the two-byte IANA-assigned value.
type CipherSuite uint16

// Supported cipher suites. All three use RSA key exchange (no Server Key
// Exchange message, consistent with this engine's scope); they differ only
// in the bulk cipher, exercising both the record layer's stream-cipher path
// (RC4) and its block-cipher path (3DES, AES).
const (
	TLS_RSA_WITH_3DES_EDE_CBC_SHA CipherSuite = 0x000A
	TLS_RSA_WITH_RC4_128_SHA      CipherSuite = 0x0005
	TLS_RSA_WITH_AES_128_CBC_SHA  CipherSuite = 0x002F
	TLS_NULL_WITH_NULL_NULL       CipherSuite = 0x0000
)

// String returns the IANA registry name of the suite.
func (cs CipherSuite) String() string {
	switch cs {
	case TLS_RSA_WITH_3DES_EDE_CBC_SHA:
		return "TLS_RSA_WITH_3DES_EDE_CBC_SHA"
	case TLS_RSA_WITH_RC4_128_SHA:
		return "TLS_RSA_WITH_RC4_128_SHA"
	case TLS_RSA_WITH_AES_128_CBC_SHA:
		return "TLS_RSA_WITH_AES_128_CBC_SHA"
	case TLS_NULL_WITH_NULL_NULL:
		return "TLS_NULL_WITH_NULL_NULL"
	default:
		return "UNKNOWN_CIPHER_SUITE"
	}
}

// DefaultServerSuites is the suite list this engine advertises support for,
// in preference order. TLS_RSA_WITH_3DES_EDE_CBC_SHA is mandatory per spec.
func DefaultServerSuites() []CipherSuite {
	return []CipherSuite{
		TLS_RSA_WITH_3DES_EDE_CBC_SHA,
		TLS_RSA_WITH_AES_128_CBC_SHA,
		TLS_RSA_WITH_RC4_128_SHA,
	}
}

// CipherKind distinguishes the record layer's two cipher treatments.
type CipherKind int

const (
	CipherKindStream CipherKind = iota
	CipherKindBlock
)

// CipherParams carries the sizes and kind needed to build a record-layer
// cipher context (record.State) for a given suite, plus its MAC hash name.
type CipherParams struct {
	Kind        CipherKind
	KeySize     int
	IVSize      int // 0 for stream ciphers
	BlockSize   int // 0 for stream ciphers
	MACKeySize  int
	MACHashName string // "sha1"
}

// ParamsFor returns the cipher parameters for a supported suite, and false
// for anything else (including TLS_NULL_WITH_NULL_NULL).
func ParamsFor(cs CipherSuite) (CipherParams, bool) {
	switch cs {
	case TLS_RSA_WITH_3DES_EDE_CBC_SHA:
		return CipherParams{Kind: CipherKindBlock, KeySize: 24, IVSize: 8, BlockSize: 8, MACKeySize: 20, MACHashName: "sha1"}, true
	case TLS_RSA_WITH_AES_128_CBC_SHA:
		return CipherParams{Kind: CipherKindBlock, KeySize: 16, IVSize: 16, BlockSize: 16, MACKeySize: 20, MACHashName: "sha1"}, true
	case TLS_RSA_WITH_RC4_128_SHA:
		return CipherParams{Kind: CipherKindStream, KeySize: 16, IVSize: 0, BlockSize: 0, MACKeySize: 20, MACHashName: "sha1"}, true
	default:
		return CipherParams{}, false
	}
}
