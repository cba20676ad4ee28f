// Package errors defines the error kinds produced by the TLS 1.0
// record-and-handshake engine. Every error raised on an attacker-reachable
// path is one of these four kinds, returned as a value, never a panic.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol-phase failures: unexpected message for the
// current handshake state, malformed framing, and negotiation failure.
var (
	ErrUnexpectedMessage     = errors.New("protocol: unexpected message for current state")
	ErrMalformedHandshake    = errors.New("protocol: malformed handshake message")
	ErrNoSupportedSuite      = errors.New("protocol: client offered no supported cipher suite")
	ErrFinishedMismatch      = errors.New("protocol: finished verify_data mismatch")
	ErrChangeCipherSpecState = errors.New("protocol: change_cipher_spec received outside KeysExchanged")
)

// Sentinel errors for record-layer MAC/padding failures.
var (
	ErrBadMAC          = errors.New("record: mac verification failed")
	ErrBadPadding      = errors.New("record: block cipher padding malformed")
	ErrShortCiphertext = errors.New("record: ciphertext shorter than mac/padding overhead")
)

// Sentinel errors for primitive-layer failures.
var (
	ErrRSADecrypt         = errors.New("crypto: rsa decryption failed")
	ErrPreMasterSecretLen = errors.New("crypto: decrypted pre-master secret is not 48 bytes")
	ErrRandomSource       = errors.New("crypto: random source failed")
)

// ProtocolError wraps a handshake-phase failure with the phase name in
// which it was detected (e.g. "client_hello", "client_key_exchange",
// "finished").
type ProtocolError struct {
	Phase string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tls10: protocol error in %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError constructs a ProtocolError.
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// BadMacError wraps a record-layer authentication failure.
type BadMacError struct {
	Err error
}

func (e *BadMacError) Error() string {
	return fmt.Sprintf("tls10: bad mac: %v", e.Err)
}

func (e *BadMacError) Unwrap() error { return e.Err }

// NewBadMacError constructs a BadMacError.
func NewBadMacError(err error) *BadMacError {
	return &BadMacError{Err: err}
}

// CryptoError wraps a primitive-layer failure (RSA decrypt, PRF, cipher).
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("tls10: crypto error in %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// NewCryptoError constructs a CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// UnexpectedFragmentError means a record header declared a length the
// driver does not have enough input bytes to satisfy. The core does not
// buffer partial records; the host must resubmit once more bytes arrive.
type UnexpectedFragmentError struct {
	Declared  int
	Available int
}

func (e *UnexpectedFragmentError) Error() string {
	return fmt.Sprintf("tls10: record declares length %d but only %d bytes available", e.Declared, e.Available)
}

// NewUnexpectedFragmentError constructs an UnexpectedFragmentError.
func NewUnexpectedFragmentError(declared, available int) *UnexpectedFragmentError {
	return &UnexpectedFragmentError{Declared: declared, Available: available}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }
