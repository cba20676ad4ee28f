// codec.go implements TLS 1.0 record and handshake message encode/decode
// using golang.org/x/crypto/cryptobyte, the same length-prefixed builder/
// parser primitives crypto/tls itself is built on.
package protocol

import (
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	qerrors "github.com/pzverkov-student/tls10-engine/internal/errors"
)

// SplitRecords walks buf and returns every complete (header, fragment)
// pair it contains, plus the number of leading bytes consumed. It never
// buffers: a record whose declared length exceeds the remaining bytes is
// reported via UnexpectedFragmentError rather than held back, per this
// engine's no-partial-record-buffering contract.
func SplitRecords(buf []byte) (records []struct {
	Header   RecordHeader
	Fragment []byte
}, consumed int, err error) {
	offset := 0
	for offset < len(buf) {
		remaining := buf[offset:]
		if len(remaining) < constants.RecordHeaderSize {
			break
		}
		hdr, err := ParseRecordHeader(remaining[:constants.RecordHeaderSize])
		if err != nil {
			return nil, offset, err
		}
		total := constants.RecordHeaderSize + int(hdr.Length)
		if total > len(remaining) {
			return nil, offset, qerrors.NewUnexpectedFragmentError(int(hdr.Length), len(remaining)-constants.RecordHeaderSize)
		}
		fragment := remaining[constants.RecordHeaderSize:total]
		records = append(records, struct {
			Header   RecordHeader
			Fragment []byte
		}{Header: hdr, Fragment: fragment})
		offset += total
	}
	return records, offset, nil
}

// ParseRecordHeader parses the fixed 5-byte record header.
func ParseRecordHeader(b []byte) (RecordHeader, error) {
	s := cryptobyte.String(b)
	var typ uint8
	var major, minor uint8
	var length uint16
	if !s.ReadUint8(&typ) || !s.ReadUint8(&major) || !s.ReadUint8(&minor) || !s.ReadUint16(&length) {
		return RecordHeader{}, qerrors.NewProtocolError("record_header", qerrors.ErrMalformedHandshake)
	}
	return RecordHeader{Type: typ, Version: Version{Major: major, Minor: minor}, Length: length}, nil
}

// MarshalRecordHeader assembles the fixed 5-byte record header.
func MarshalRecordHeader(h RecordHeader) []byte {
	var b cryptobyte.Builder
	b.AddUint8(h.Type)
	b.AddUint8(h.Version.Major)
	b.AddUint8(h.Version.Minor)
	b.AddUint16(h.Length)
	return b.BytesOrPanic()
}

// ParseHandshakeHeader parses the 4-byte handshake message framing.
func ParseHandshakeHeader(b []byte) (HandshakeHeader, []byte, error) {
	s := cryptobyte.String(b)
	var typ uint8
	var body cryptobyte.String
	if !s.ReadUint8(&typ) || !s.ReadUint24LengthPrefixed(&body) {
		return HandshakeHeader{}, nil, qerrors.NewProtocolError("handshake_header", qerrors.ErrMalformedHandshake)
	}
	return HandshakeHeader{Type: typ, Length: uint32(len(body))}, []byte(body), nil
}

// marshalHandshake wraps body in the 1-byte-type + 3-byte-length framing.
func marshalHandshake(typ uint8, body []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint8(typ)
	b.AddUint24LengthPrefixed(func(inner *cryptobyte.Builder) {
		inner.AddBytes(body)
	})
	return b.BytesOrPanic()
}

// MarshalClientHello assembles the handshake-framed ClientHello wire bytes.
func MarshalClientHello(m *ClientHello) []byte {
	var b cryptobyte.Builder
	b.AddUint8(m.Version.Major)
	b.AddUint8(m.Version.Minor)
	b.AddBytes(m.Random[:])
	b.AddUint8LengthPrefixed(func(inner *cryptobyte.Builder) {
		inner.AddBytes(m.SessionID)
	})
	b.AddUint16LengthPrefixed(func(inner *cryptobyte.Builder) {
		for _, cs := range m.CipherSuites {
			inner.AddUint16(uint16(cs))
		}
	})
	b.AddUint8LengthPrefixed(func(inner *cryptobyte.Builder) {
		inner.AddBytes(m.Compression)
	})
	b.AddUint16LengthPrefixed(func(inner *cryptobyte.Builder) {
		inner.AddBytes(m.Extensions)
	})
	return marshalHandshake(constants.HandshakeTypeClientHello, b.BytesOrPanic())
}

// ParseClientHello parses a ClientHello handshake body (framing stripped).
func ParseClientHello(body []byte) (*ClientHello, error) {
	s := cryptobyte.String(body)
	m := &ClientHello{}
	var major, minor uint8
	var random cryptobyte.String
	var sessionID cryptobyte.String
	var suites cryptobyte.String
	var compression cryptobyte.String
	var extensions cryptobyte.String

	if !s.ReadUint8(&major) || !s.ReadUint8(&minor) {
		return nil, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}
	m.Version = Version{Major: major, Minor: minor}

	if !s.ReadBytes((*[]byte)(&random), 32) {
		return nil, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}
	copy(m.Random[:], random)

	if !s.ReadUint8LengthPrefixed(&sessionID) {
		return nil, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}
	m.SessionID = append([]byte(nil), sessionID...)

	if !s.ReadUint16LengthPrefixed(&suites) {
		return nil, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}
	for !suites.Empty() {
		var cs uint16
		if !suites.ReadUint16(&cs) {
			return nil, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
		}
		m.CipherSuites = append(m.CipherSuites, constants.CipherSuite(cs))
	}

	if !s.ReadUint8LengthPrefixed(&compression) {
		return nil, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}
	m.Compression = append([]byte(nil), compression...)

	// Extensions are optional on the wire; TLS 1.0 clients need not send
	// them at all, so their absence is not a framing error.
	if !s.Empty() {
		if !s.ReadUint16LengthPrefixed(&extensions) {
			return nil, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
		}
		m.Extensions = append([]byte(nil), extensions...)
	}

	return m, m.Validate()
}

// MarshalServerHello assembles the handshake-framed ServerHello wire bytes.
func MarshalServerHello(m *ServerHello) []byte {
	var b cryptobyte.Builder
	b.AddUint8(m.Version.Major)
	b.AddUint8(m.Version.Minor)
	b.AddBytes(m.Random[:])
	b.AddUint8LengthPrefixed(func(inner *cryptobyte.Builder) {
		inner.AddBytes(m.SessionID)
	})
	b.AddUint16(uint16(m.CipherSuite))
	b.AddUint8(m.Compression)
	b.AddUint16(0) // empty extensions
	return marshalHandshake(constants.HandshakeTypeServerHello, b.BytesOrPanic())
}

// MarshalCertificate assembles the handshake-framed Certificate message:
// a 3-byte total length followed by 3-byte-length-prefixed DER certs.
func MarshalCertificate(m *Certificate) []byte {
	var b cryptobyte.Builder
	b.AddUint24LengthPrefixed(func(inner *cryptobyte.Builder) {
		for _, der := range m.CertChain {
			inner.AddUint24LengthPrefixed(func(cert *cryptobyte.Builder) {
				cert.AddBytes(der)
			})
		}
	})
	return marshalHandshake(constants.HandshakeTypeCertificate, b.BytesOrPanic())
}

// MarshalServerHelloDone assembles the empty-body ServerHelloDone message.
func MarshalServerHelloDone() []byte {
	return marshalHandshake(constants.HandshakeTypeServerHelloDone, nil)
}

// ParseClientKeyExchange parses a ClientKeyExchange handshake body: a
// 2-byte-length-prefixed PKCS#1-encrypted pre-master secret.
func ParseClientKeyExchange(body []byte) (*ClientKeyExchange, error) {
	s := cryptobyte.String(body)
	var encrypted cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&encrypted) || !s.Empty() {
		return nil, qerrors.NewProtocolError("client_key_exchange", qerrors.ErrMalformedHandshake)
	}
	return &ClientKeyExchange{EncryptedPreMasterSecret: append([]byte(nil), encrypted...)}, nil
}

// MarshalFinished assembles a handshake-framed Finished message.
func MarshalFinished(verifyData [constants.VerifyDataSize]byte) []byte {
	return marshalHandshake(constants.HandshakeTypeFinished, verifyData[:])
}

// ParseFinished parses a Finished handshake body: exactly 12 bytes.
func ParseFinished(body []byte) (*Finished, error) {
	if len(body) != constants.VerifyDataSize {
		return nil, qerrors.NewProtocolError("finished", qerrors.ErrMalformedHandshake)
	}
	var f Finished
	copy(f.VerifyData[:], body)
	return &f, nil
}

// MarshalChangeCipherSpec assembles the one-byte ChangeCipherSpec body.
func MarshalChangeCipherSpec() []byte {
	return []byte{1}
}

// ParseChangeCipherSpec validates a ChangeCipherSpec fragment.
func ParseChangeCipherSpec(body []byte) error {
	if len(body) != 1 || body[0] != 1 {
		return qerrors.NewProtocolError("change_cipher_spec", qerrors.ErrMalformedHandshake)
	}
	return nil
}

// MarshalAlert assembles a 2-byte alert body.
func MarshalAlert(a Alert) []byte {
	return []byte{a.Level, a.Description}
}

// ParseAlert parses a 2-byte alert body.
func ParseAlert(body []byte) (Alert, error) {
	if len(body) != 2 {
		return Alert{}, qerrors.NewProtocolError("alert", qerrors.ErrMalformedHandshake)
	}
	return Alert{Level: body[0], Description: body[1]}, nil
}

// RecordMACInput assembles the TLS 1.0 record MAC input: sequence (8
// bytes big-endian) || type (1) || version (2) || length (2) || fragment.
func RecordMACInput(sequence uint64, contentType uint8, version Version, fragment []byte) []byte {
	out := make([]byte, constants.SequenceSize+1+2+2+len(fragment))
	binary.BigEndian.PutUint64(out[0:8], sequence)
	out[8] = contentType
	out[9] = version.Major
	out[10] = version.Minor
	binary.BigEndian.PutUint16(out[11:13], uint16(len(fragment)))
	copy(out[13:], fragment)
	return out
}
