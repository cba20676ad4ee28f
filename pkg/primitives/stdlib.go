package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/rsa"
	"crypto/sha1"
	"hash"
	"io"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	qerrors "github.com/pzverkov-student/tls10-engine/internal/errors"
)

// Stdlib implements Primitives entirely on top of the standard library's
// crypto packages. It holds no state: every method is a pure function of
// its arguments except RandomBytes, which reads crypto/rand.
type Stdlib struct {
	// Rand supplies randomness for RandomBytes and RSA decryption's blind.
	// Defaults to crypto/rand.Reader when nil.
	Rand io.Reader
}

func (s Stdlib) reader() io.Reader {
	if s.Rand != nil {
		return s.Rand
	}
	return rand.Reader
}

// RSADecrypt performs PKCS#1 v1.5 decryption. TLS 1.0 servers must not
// leak a distinguishable error for malformed PKCS#1 padding (the Bleichen-
// bacher oracle); crypto/rsa.DecryptPKCS1v15SessionKey exists for exactly
// this reason, but this core needs the raw pre-master secret length
// validated by the caller, so it uses the plain decrypt and returns a
// CryptoError on padding failure. The handshake layer aborts on that
// error; it does not substitute a random pre-master secret as RFC 2246
// §7.4.7.1 describes.
func (s Stdlib) RSADecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptPKCS1v15(s.reader(), priv, ciphertext)
	if err != nil {
		return nil, qerrors.NewCryptoError("rsa_decrypt", err)
	}
	return plaintext, nil
}

func newHash(alg HashAlgorithm) func() hash.Hash {
	switch alg {
	case HashMD5:
		return md5.New
	default:
		return sha1.New
	}
}

// HMAC computes a keyed hash using the named algorithm.
func (s Stdlib) HMAC(alg HashAlgorithm, key, message []byte) []byte {
	mac := hmac.New(newHash(alg), key)
	mac.Write(message)
	return mac.Sum(nil)
}

// pHash implements RFC 2246 §5's P_hash data expansion function, writing
// exactly len(out) bytes of HMAC_hash(secret, A(i) || seed) output.
func pHash(newHashFn func() hash.Hash, secret, seed []byte, out []byte) {
	a := seed
	written := 0
	for written < len(out) {
		mac := hmac.New(newHashFn, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(newHashFn, secret)
		mac.Write(a)
		mac.Write(seed)
		chunk := mac.Sum(nil)

		n := copy(out[written:], chunk)
		written += n
	}
}

// prf implements RFC 2246 §5's PRF: P_MD5(S1, label||seed) XOR
// P_SHA1(S2, label||seed), where S1 and S2 are the two (possibly
// overlapping) halves of secret.
func prf(secret []byte, label string, seed []byte, length int) []byte {
	half := (len(secret) + 1) / 2
	s1 := secret[:half]
	s2 := secret[len(secret)-half:]

	labelSeed := make([]byte, 0, len(label)+len(seed))
	labelSeed = append(labelSeed, label...)
	labelSeed = append(labelSeed, seed...)

	md5Out := make([]byte, length)
	sha1Out := make([]byte, length)
	pHash(md5.New, s1, labelSeed, md5Out)
	pHash(sha1.New, s2, labelSeed, sha1Out)

	out := make([]byte, length)
	for i := range out {
		out[i] = md5Out[i] ^ sha1Out[i]
	}
	return out
}

// PRFMasterSecret derives master_secret = PRF(pre_master_secret,
// "master secret", client_random || server_random)[0..48).
func (s Stdlib) PRFMasterSecret(preMasterSecret []byte, seed []byte) [48]byte {
	var out [48]byte
	copy(out[:], prf(preMasterSecret, constants.MasterSecretLabel, seed, constants.MasterSecretSize))
	return out
}

// PRFKeyBlock derives key_block = PRF(master_secret, "key expansion",
// server_random || client_random)[0..n).
func (s Stdlib) PRFKeyBlock(n int, masterSecret [48]byte, seed []byte) []byte {
	return prf(masterSecret[:], constants.KeyExpansionLabel, seed, n)
}

// PRFFinished derives verify_data = PRF(master_secret, label,
// MD5(transcript) || SHA1(transcript))[0..12), per RFC 2246 §7.4.9.
func (s Stdlib) PRFFinished(masterSecret [48]byte, label string, transcript []byte) [12]byte {
	md5Sum := md5.Sum(transcript)
	sha1Sum := sha1.Sum(transcript)
	seed := append(append([]byte{}, md5Sum[:]...), sha1Sum[:]...)

	var out [12]byte
	copy(out[:], prf(masterSecret[:], label, seed, 12))
	return out
}

// NewStreamCipher returns an RC4-128 keystream.
func (s Stdlib) NewStreamCipher(id CipherID, key []byte) (cipher.Stream, error) {
	if id != CipherRC4 {
		return nil, qerrors.NewCryptoError("new_stream_cipher", qerrors.ErrRandomSource)
	}
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, qerrors.NewCryptoError("new_stream_cipher", err)
	}
	return c, nil
}

func blockFor(id CipherID, key []byte) (cipher.Block, error) {
	switch id {
	case Cipher3DES:
		return des.NewTripleDESCipher(key)
	case CipherAES128:
		return aes.NewCipher(key)
	default:
		return nil, qerrors.NewCryptoError("block_for", qerrors.ErrRandomSource)
	}
}

// BlockEncrypt CBC-encrypts plaintext, which must already be a multiple of
// the cipher's block size (padding is the record layer's responsibility),
// and returns the new chained IV (the final ciphertext block).
func (s Stdlib) BlockEncrypt(id CipherID, key, iv, plaintext []byte) ([]byte, []byte, error) {
	block, err := blockFor(id, key)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("block_encrypt", err)
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, nil, qerrors.NewCryptoError("block_encrypt", qerrors.ErrBadPadding)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	newIV := append([]byte(nil), ciphertext[len(ciphertext)-block.BlockSize():]...)
	return ciphertext, newIV, nil
}

// BlockDecrypt is the inverse of BlockEncrypt.
func (s Stdlib) BlockDecrypt(id CipherID, key, iv, ciphertext []byte) ([]byte, []byte, error) {
	block, err := blockFor(id, key)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("block_decrypt", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 || len(ciphertext) == 0 {
		return nil, nil, qerrors.NewCryptoError("block_decrypt", qerrors.ErrShortCiphertext)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	newIV := append([]byte(nil), ciphertext[len(ciphertext)-block.BlockSize():]...)
	return plaintext, newIV, nil
}

// RandomBytes returns n bytes read from the configured entropy source.
func (s Stdlib) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.reader(), buf); err != nil {
		return nil, qerrors.NewCryptoError("random_bytes", qerrors.ErrRandomSource)
	}
	return buf, nil
}
