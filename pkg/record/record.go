// Package record implements the TLS 1.0 record layer's cryptographic
// transform: MAC-then-pad-then-cipher on encrypt, and its inverse on
// decrypt, with the chained-IV and sequence-number bookkeeping RFC 2246
// §6.2 requires. It holds no sockets and does no framing; pkg/protocol
// owns the wire format and pkg/handshake/pkg/engine own the control flow.
package record

import (
	"crypto/subtle"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	qerrors "github.com/pzverkov-student/tls10-engine/internal/errors"
	"github.com/pzverkov-student/tls10-engine/pkg/primitives"
	"github.com/pzverkov-student/tls10-engine/pkg/protocol"
)

// State is one direction's (read or write) cipher context. The zero value
// is the null cipher: records pass through unmodified, as used before the
// first ChangeCipherSpec of a connection.
type State struct {
	active bool
	params constants.CipherParams
	cipher primitives.CipherID
	key    []byte
	iv     []byte // chained IV for CBC suites; unused for stream suites
	macKey []byte
	seq    uint64
}

// NewActiveState builds a State for a negotiated, keyed cipher suite.
func NewActiveState(suite constants.CipherSuite, key, iv, macKey []byte) (State, error) {
	params, ok := constants.ParamsFor(suite)
	if !ok {
		return State{}, qerrors.NewCryptoError("new_active_state", qerrors.ErrNoSupportedSuite)
	}
	var cipherID primitives.CipherID
	switch suite {
	case constants.TLS_RSA_WITH_RC4_128_SHA:
		cipherID = primitives.CipherRC4
	case constants.TLS_RSA_WITH_3DES_EDE_CBC_SHA:
		cipherID = primitives.Cipher3DES
	case constants.TLS_RSA_WITH_AES_128_CBC_SHA:
		cipherID = primitives.CipherAES128
	default:
		return State{}, qerrors.NewCryptoError("new_active_state", qerrors.ErrNoSupportedSuite)
	}
	return State{
		active: true,
		params: params,
		cipher: cipherID,
		key:    append([]byte(nil), key...),
		iv:     append([]byte(nil), iv...),
		macKey: append([]byte(nil), macKey...),
	}, nil
}

// Active reports whether s applies a real cipher (post-ChangeCipherSpec).
func (s State) Active() bool {
	return s.active
}

// Sequence returns the next sequence number s will use.
func (s State) Sequence() uint64 {
	return s.seq
}

// Encrypt protects one fragment for transmission under s, returning the
// wire-ready ciphertext fragment and the advanced state. With the null
// cipher it returns plaintext unchanged but still advances the sequence
// number, since TLS counts every record regardless of cipher state.
func Encrypt(p primitives.Primitives, s State, contentType uint8, version protocol.Version, plaintext []byte) ([]byte, State, error) {
	if !s.active {
		next := s
		next.seq++
		return plaintext, next, nil
	}

	macInput := protocol.RecordMACInput(s.seq, contentType, version, plaintext)
	mac := p.HMAC(primitives.HashSHA1, s.macKey, macInput)

	switch s.params.Kind {
	case constants.CipherKindStream:
		stream, err := p.NewStreamCipher(s.cipher, s.key)
		if err != nil {
			return nil, s, err
		}
		payload := append(append([]byte{}, plaintext...), mac...)
		ciphertext := make([]byte, len(payload))
		stream.XORKeyStream(ciphertext, payload)

		next := s
		next.seq++
		return ciphertext, next, nil

	case constants.CipherKindBlock:
		payload := append(append([]byte{}, plaintext...), mac...)
		payload = appendPadding(payload, s.params.BlockSize)

		ciphertext, newIV, err := p.BlockEncrypt(s.cipher, s.key, s.iv, payload)
		if err != nil {
			return nil, s, err
		}

		next := s
		next.iv = newIV
		next.seq++
		return ciphertext, next, nil

	default:
		return nil, s, qerrors.NewCryptoError("encrypt", qerrors.ErrNoSupportedSuite)
	}
}

// appendPadding pads payload to a multiple of blockSize using TLS 1.0's
// padding format: padLen repeated padLen+1 times, where 0 <= padLen <= 255.
func appendPadding(payload []byte, blockSize int) []byte {
	padLen := blockSize - (len(payload)+1)%blockSize
	if padLen == blockSize {
		padLen = 0
	}
	for i := 0; i <= padLen; i++ {
		payload = append(payload, byte(padLen))
	}
	return payload
}

// Decrypt authenticates and unwraps one received fragment under s,
// returning the recovered plaintext and advanced state. Any MAC or
// padding failure is reported as a BadMacError, so both map to the same
// error kind; the wrapped cause (ErrBadMAC, ErrBadPadding or
// ErrShortCiphertext) still tells the caller which check failed.
func Decrypt(p primitives.Primitives, s State, contentType uint8, version protocol.Version, ciphertext []byte) ([]byte, State, error) {
	if !s.active {
		next := s
		next.seq++
		return ciphertext, next, nil
	}

	macSize := 20 // HMAC-SHA1

	switch s.params.Kind {
	case constants.CipherKindStream:
		stream, err := p.NewStreamCipher(s.cipher, s.key)
		if err != nil {
			return nil, s, err
		}
		payload := make([]byte, len(ciphertext))
		stream.XORKeyStream(payload, ciphertext)

		if len(payload) < macSize {
			return nil, s, qerrors.NewBadMacError(qerrors.ErrBadMAC)
		}
		plaintext := payload[:len(payload)-macSize]
		gotMAC := payload[len(payload)-macSize:]

		macInput := protocol.RecordMACInput(s.seq, contentType, version, plaintext)
		wantMAC := p.HMAC(primitives.HashSHA1, s.macKey, macInput)
		if subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
			return nil, s, qerrors.NewBadMacError(qerrors.ErrBadMAC)
		}

		next := s
		next.seq++
		return plaintext, next, nil

	case constants.CipherKindBlock:
		if len(ciphertext) == 0 || len(ciphertext)%s.params.BlockSize != 0 {
			return nil, s, qerrors.NewBadMacError(qerrors.ErrShortCiphertext)
		}
		payload, newIV, err := p.BlockDecrypt(s.cipher, s.key, s.iv, ciphertext)
		if err != nil {
			return nil, s, qerrors.NewBadMacError(err)
		}

		unpadded, ok := stripPadding(payload, s.params.BlockSize)
		if !ok || len(unpadded) < macSize {
			// Still advance IV so the caller cannot distinguish a
			// padding failure from a short fragment by retrying.
			next := s
			next.iv = newIV
			next.seq++
			return nil, next, qerrors.NewBadMacError(qerrors.ErrBadPadding)
		}

		plaintext := unpadded[:len(unpadded)-macSize]
		gotMAC := unpadded[len(unpadded)-macSize:]
		macInput := protocol.RecordMACInput(s.seq, contentType, version, plaintext)
		wantMAC := p.HMAC(primitives.HashSHA1, s.macKey, macInput)

		next := s
		next.iv = newIV
		next.seq++
		if subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
			return nil, next, qerrors.NewBadMacError(qerrors.ErrBadMAC)
		}
		return plaintext, next, nil

	default:
		return nil, s, qerrors.NewCryptoError("decrypt", qerrors.ErrNoSupportedSuite)
	}
}

// stripPadding validates and removes TLS 1.0 block padding from payload.
func stripPadding(payload []byte, blockSize int) ([]byte, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	padLen := int(payload[len(payload)-1])
	if padLen+1 > len(payload) {
		return nil, false
	}
	for i := len(payload) - padLen - 1; i < len(payload); i++ {
		if int(payload[i]) != padLen {
			return nil, false
		}
	}
	return payload[:len(payload)-padLen-1], true
}
