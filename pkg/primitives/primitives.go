// Package primitives defines the narrow capability surface the TLS 1.0
// engine consumes cryptography through. The handshake state machine and
// record layer never import crypto/* directly; they call this interface,
// so the engine stays testable against a deterministic fake and swappable
// onto a different crypto backend without touching protocol logic.
package primitives

import (
	"crypto/cipher"
	"crypto/rsa"
)

// HashAlgorithm names a MAC hash. TLS 1.0's mandatory suites use SHA-1.
type HashAlgorithm int

const (
	HashSHA1 HashAlgorithm = iota
	HashMD5
)

// CipherID names a bulk cipher algorithm, independent of key exchange.
type CipherID int

const (
	CipherRC4 CipherID = iota
	Cipher3DES
	CipherAES128
)

// Primitives is the complete set of cryptographic operations the core
// consumes. Every method is a pure function of its arguments except
// RandomBytes, whose non-determinism is the engine's only side channel.
type Primitives interface {
	// RSADecrypt performs PKCS#1 v1.5 decryption of ciphertext under priv.
	RSADecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error)

	// HMAC computes a keyed MAC of message under key, using the named hash.
	HMAC(alg HashAlgorithm, key, message []byte) []byte

	// PRFMasterSecret derives the 48-byte master secret from the
	// pre-master secret and the client_random||server_random seed.
	PRFMasterSecret(preMasterSecret []byte, seed []byte) [48]byte

	// PRFKeyBlock derives n bytes of key material from the master secret
	// and the server_random||client_random seed.
	PRFKeyBlock(n int, masterSecret [48]byte, seed []byte) []byte

	// PRFFinished derives the 12-byte Finished verify_data for the given
	// label ("client finished" or "server finished") and transcript hash
	// input (the raw transcript bytes; this implementation hashes them
	// internally per RFC 2246 §7.4.9).
	PRFFinished(masterSecret [48]byte, label string, transcript []byte) [12]byte

	// NewStreamCipher returns an initialized RC4 keystream. Only valid
	// for CipherRC4.
	NewStreamCipher(id CipherID, key []byte) (cipher.Stream, error)

	// BlockEncrypt CBC-encrypts plaintext under key/iv and returns the
	// ciphertext plus the new IV to chain into the next record (the last
	// ciphertext block), per TLS 1.0's chained-IV rule.
	BlockEncrypt(id CipherID, key, iv, plaintext []byte) (ciphertext, newIV []byte, err error)

	// BlockDecrypt is the inverse of BlockEncrypt.
	BlockDecrypt(id CipherID, key, iv, ciphertext []byte) (plaintext, newIV []byte, err error)

	// RandomBytes returns n cryptographically secure random bytes.
	RandomBytes(n int) ([]byte, error)
}
