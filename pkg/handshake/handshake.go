// Package handshake implements the server-side TLS 1.0 handshake state
// machine as a pure function: given the current State and an inbound
// handshake message or ChangeCipherSpec, it returns the next State plus
// the records to send and any cipher activations the caller (pkg/engine)
// must apply to its record-layer contexts. It performs no I/O and owns
// no sockets; pkg/protocol supplies wire encoding and pkg/primitives
// supplies cryptography.
package handshake

import (
	"crypto/rsa"
	"crypto/subtle"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	qerrors "github.com/pzverkov-student/tls10-engine/internal/errors"
	"github.com/pzverkov-student/tls10-engine/pkg/primitives"
	"github.com/pzverkov-student/tls10-engine/pkg/protocol"
)

// Config is the server identity and policy the state machine negotiates
// against. It does not change across a connection's lifetime, including
// renegotiations.
type Config struct {
	CertChain       [][]byte
	PrivateKey      *rsa.PrivateKey
	SupportedSuites []constants.CipherSuite
}

// Phase identifies where in the handshake flow a connection sits.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseAwaitingClientKeyExchange
	PhaseAwaitingChangeCipherSpec
	PhaseAwaitingFinished
	PhaseEstablished
)

// keyMaterial holds the key_block split derived once the master secret is
// known, ready to hand to the record layer when each side's
// ChangeCipherSpec takes effect.
type keyMaterial struct {
	clientMACKey, serverMACKey []byte
	clientKey, serverKey       []byte
	clientIV, serverIV         []byte
}

// State is the handshake state machine's complete state. The zero value
// is a freshly accepted, unauthenticated connection.
type State struct {
	Phase        Phase
	Suite        constants.CipherSuite
	ClientRandom [32]byte
	ServerRandom [32]byte
	MasterSecret [48]byte
	Transcript   []byte

	keys keyMaterial
}

// Direction identifies which side of the connection a cipher activation
// applies to.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

// Activation instructs the caller to build a new record-layer cipher
// context for one direction using the given suite and key material.
type Activation struct {
	Direction Direction
	Suite     constants.CipherSuite
	Key       []byte
	IV        []byte
	MACKey    []byte
}

// OutputRecord is a record the caller must send, already encoded as a
// handshake or ChangeCipherSpec fragment.
type OutputRecord struct {
	ContentType uint8
	Payload     []byte
}

// Result carries everything a single inbound message produces: the
// advanced state, records to emit, and any cipher activations. The caller
// encrypts Records under the write cipher in effect before this Result,
// and only then applies Activations, so they take effect for the records
// of later Results.
type Result struct {
	State       State
	Records     []OutputRecord
	Activations []Activation
	// Established reports whether this call completed (or re-completed,
	// after a renegotiation) the handshake.
	Established bool
}

// HandleMessage processes one framed handshake message (4-byte header
// plus body, as produced by pkg/protocol's Marshal/Parse pair) against
// state and cfg.
func HandleMessage(p primitives.Primitives, cfg Config, state State, framed []byte) (Result, error) {
	hdr, body, err := protocol.ParseHandshakeHeader(framed)
	if err != nil {
		return Result{}, err
	}

	switch hdr.Type {
	case constants.HandshakeTypeClientHello:
		return handleClientHello(p, cfg, state, framed, body)
	case constants.HandshakeTypeClientKeyExchange:
		return handleClientKeyExchange(p, cfg, state, framed, body)
	case constants.HandshakeTypeFinished:
		return handleFinished(p, cfg, state, framed, body)
	default:
		return Result{}, qerrors.NewProtocolError("handshake_message", qerrors.ErrUnexpectedMessage)
	}
}

func handleClientHello(p primitives.Primitives, cfg Config, state State, framed, body []byte) (Result, error) {
	if state.Phase != PhaseInitial && state.Phase != PhaseEstablished {
		return Result{}, qerrors.NewProtocolError("client_hello", qerrors.ErrUnexpectedMessage)
	}
	ch, err := protocol.ParseClientHello(body)
	if err != nil {
		return Result{}, err
	}
	if !ch.Version.IsTLS10() {
		return Result{}, qerrors.NewProtocolError("client_hello", qerrors.ErrMalformedHandshake)
	}

	suite, ok := selectSuite(cfg.SupportedSuites, ch.CipherSuites)
	if !ok {
		return Result{}, qerrors.NewProtocolError("client_hello", qerrors.ErrNoSupportedSuite)
	}

	serverRandomBytes, err := p.RandomBytes(constants.RandomSize)
	if err != nil {
		return Result{}, err
	}
	var serverRandom [32]byte
	copy(serverRandom[:], serverRandomBytes)

	next := State{
		Phase:        PhaseAwaitingClientKeyExchange,
		Suite:        suite,
		ClientRandom: ch.Random,
		ServerRandom: serverRandom,
		// A new ClientHello, whether the first or a renegotiation,
		// starts a fresh Finished transcript (RFC 2246 §7.4.9).
		Transcript: append([]byte(nil), framed...),
	}

	sh := &protocol.ServerHello{
		Version:     protocol.TLS10,
		Random:      serverRandom,
		CipherSuite: suite,
	}
	shWire := protocol.MarshalServerHello(sh)
	certWire := protocol.MarshalCertificate(&protocol.Certificate{CertChain: cfg.CertChain})
	doneWire := protocol.MarshalServerHelloDone()

	next.Transcript = append(next.Transcript, shWire...)
	next.Transcript = append(next.Transcript, certWire...)
	next.Transcript = append(next.Transcript, doneWire...)

	return Result{
		State: next,
		Records: []OutputRecord{
			{ContentType: constants.ContentTypeHandshake, Payload: shWire},
			{ContentType: constants.ContentTypeHandshake, Payload: certWire},
			{ContentType: constants.ContentTypeHandshake, Payload: doneWire},
		},
	}, nil
}

// selectSuite returns the first server-preferred suite the client also
// offered.
func selectSuite(serverSuites, clientSuites []constants.CipherSuite) (constants.CipherSuite, bool) {
	offered := make(map[constants.CipherSuite]bool, len(clientSuites))
	for _, cs := range clientSuites {
		offered[cs] = true
	}
	for _, cs := range serverSuites {
		if offered[cs] {
			return cs, true
		}
	}
	return 0, false
}

func handleClientKeyExchange(p primitives.Primitives, cfg Config, state State, framed, body []byte) (Result, error) {
	if state.Phase != PhaseAwaitingClientKeyExchange {
		return Result{}, qerrors.NewProtocolError("client_key_exchange", qerrors.ErrUnexpectedMessage)
	}
	cke, err := protocol.ParseClientKeyExchange(body)
	if err != nil {
		return Result{}, err
	}

	// RFC 2246 §7.4.7.1 requires a failed decryption or a wrong-length
	// plaintext to be handled identically to a valid one, continuing the
	// handshake with a randomly generated pre-master secret, so that the
	// failure is not a Bleichenbacher decryption oracle for the peer.
	// This engine does not implement that substitution: it aborts with a
	// CryptoError on either failure. That is a known gap against a
	// fully hardened server, accepted here because closing it needs a
	// primitives-level contract (a fixed-length RSA decrypt that never
	// signals failure through its return path) this facade does not yet
	// offer; see DESIGN.md Open Question 1.
	pms, err := p.RSADecrypt(cfg.PrivateKey, cke.EncryptedPreMasterSecret)
	if err != nil || len(pms) != constants.PreMasterSecretSize {
		return Result{}, qerrors.NewCryptoError("client_key_exchange", qerrors.ErrPreMasterSecretLen)
	}

	seed := append(append([]byte{}, state.ClientRandom[:]...), state.ServerRandom[:]...)
	masterSecret := p.PRFMasterSecret(pms, seed)

	params, ok := constants.ParamsFor(state.Suite)
	if !ok {
		return Result{}, qerrors.NewCryptoError("client_key_exchange", qerrors.ErrNoSupportedSuite)
	}
	keyBlockSeed := append(append([]byte{}, state.ServerRandom[:]...), state.ClientRandom[:]...)
	keyBlockLen := 2*params.MACKeySize + 2*params.KeySize + 2*params.IVSize
	keyBlock := p.PRFKeyBlock(keyBlockLen, masterSecret, keyBlockSeed)

	offset := 0
	take := func(n int) []byte {
		b := keyBlock[offset : offset+n]
		offset += n
		return b
	}
	km := keyMaterial{
		clientMACKey: take(params.MACKeySize),
		serverMACKey: take(params.MACKeySize),
		clientKey:    take(params.KeySize),
		serverKey:    take(params.KeySize),
	}
	if params.IVSize > 0 {
		km.clientIV = take(params.IVSize)
		km.serverIV = take(params.IVSize)
	}

	next := state
	next.Phase = PhaseAwaitingChangeCipherSpec
	next.MasterSecret = masterSecret
	next.keys = km
	next.Transcript = append(append([]byte(nil), state.Transcript...), framed...)

	return Result{State: next}, nil
}

// HandleChangeCipherSpec processes the client's ChangeCipherSpec record,
// which is not a handshake message and so carries no transcript bytes. Per
// the KeysExchanged+CHANGE_CIPHER_SPEC transition, it also emits the
// server's own outbound ChangeCipherSpec and activates the write direction
// here, before the server Finished is built, so that message is encrypted
// under the just-installed cipher rather than the one it replaces. The read
// direction activates in the same step: the client's own Finished, which
// follows its ChangeCipherSpec on the wire, arrives already under the new
// read cipher.
func HandleChangeCipherSpec(state State) (Result, error) {
	if state.Phase != PhaseAwaitingChangeCipherSpec {
		return Result{}, qerrors.NewProtocolError("change_cipher_spec", qerrors.ErrChangeCipherSpecState)
	}
	next := state
	next.Phase = PhaseAwaitingFinished
	return Result{
		State: next,
		Records: []OutputRecord{
			{ContentType: constants.ContentTypeChangeCipherSpec, Payload: protocol.MarshalChangeCipherSpec()},
		},
		Activations: []Activation{
			{
				Direction: DirectionRead,
				Suite:     state.Suite,
				Key:       state.keys.clientKey,
				IV:        state.keys.clientIV,
				MACKey:    state.keys.clientMACKey,
			},
			{
				Direction: DirectionWrite,
				Suite:     state.Suite,
				Key:       state.keys.serverKey,
				IV:        state.keys.serverIV,
				MACKey:    state.keys.serverMACKey,
			},
		},
	}, nil
}

func handleFinished(p primitives.Primitives, cfg Config, state State, framed, body []byte) (Result, error) {
	if state.Phase != PhaseAwaitingFinished {
		return Result{}, qerrors.NewProtocolError("finished", qerrors.ErrUnexpectedMessage)
	}
	clientFinished, err := protocol.ParseFinished(body)
	if err != nil {
		return Result{}, err
	}

	expected := p.PRFFinished(state.MasterSecret, constants.FinishedLabelClient, state.Transcript)
	if subtle.ConstantTimeCompare(expected[:], clientFinished.VerifyData[:]) != 1 {
		return Result{}, qerrors.NewProtocolError("finished", qerrors.ErrFinishedMismatch)
	}

	transcriptWithClientFinished := append(append([]byte(nil), state.Transcript...), framed...)
	serverVerify := p.PRFFinished(state.MasterSecret, constants.FinishedLabelServer, transcriptWithClientFinished)
	serverFinishedWire := protocol.MarshalFinished(serverVerify)

	next := state
	next.Phase = PhaseEstablished
	// The Finished transcript is not needed once the handshake completes.
	next.Transcript = nil

	// The write cipher was already activated when the preceding
	// ChangeCipherSpec was processed (see HandleChangeCipherSpec), so this
	// message is encrypted under it without a further activation here.
	return Result{
		State: next,
		Records: []OutputRecord{
			{ContentType: constants.ContentTypeHandshake, Payload: serverFinishedWire},
		},
		Established: true,
	}, nil
}
