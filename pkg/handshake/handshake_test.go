package handshake_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	"github.com/pzverkov-student/tls10-engine/pkg/handshake"
	"github.com/pzverkov-student/tls10-engine/pkg/primitives"
	"github.com/pzverkov-student/tls10-engine/pkg/protocol"
)

// fixedRandomPrimitives wraps Stdlib but replaces RandomBytes and
// RSADecrypt with deterministic stand-ins, so handshake tests can predict
// the server_random and pre-master secret without touching crypto/rand.
type fixedRandomPrimitives struct {
	primitives.Stdlib
	serverRandom []byte
	pms          []byte
}

func (f fixedRandomPrimitives) RandomBytes(n int) ([]byte, error) {
	if n == len(f.serverRandom) {
		return f.serverRandom, nil
	}
	return f.Stdlib.RandomBytes(n)
}

func (f fixedRandomPrimitives) RSADecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return f.pms, nil
}

func testConfig(t *testing.T) (handshake.Config, fixedRandomPrimitives) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg := handshake.Config{
		CertChain:       [][]byte{[]byte("fake-der-certificate")},
		PrivateKey:      priv,
		SupportedSuites: constants.DefaultServerSuites(),
	}
	p := fixedRandomPrimitives{
		serverRandom: bytes.Repeat([]byte{0x42}, constants.RandomSize),
		pms:          bytes.Repeat([]byte{0x24}, constants.PreMasterSecretSize),
	}
	return cfg, p
}

func clientHelloWire(suites ...constants.CipherSuite) []byte {
	ch := &protocol.ClientHello{
		Version:      protocol.TLS10,
		CipherSuites: suites,
		Compression:  []uint8{0},
	}
	for i := range ch.Random {
		ch.Random[i] = byte(i)
	}
	return protocol.MarshalClientHello(ch)
}

func TestFullHandshakeEstablishesConnection(t *testing.T) {
	cfg, p := testConfig(t)

	r1, err := handshake.HandleMessage(p, cfg, handshake.State{}, clientHelloWire(constants.DefaultServerSuites()...))
	if err != nil {
		t.Fatalf("ClientHello: %v", err)
	}
	if r1.State.Phase != handshake.PhaseAwaitingClientKeyExchange {
		t.Fatalf("phase after ClientHello = %v, want AwaitingClientKeyExchange", r1.State.Phase)
	}
	if len(r1.Records) != 3 {
		t.Fatalf("got %d records after ClientHello, want 3", len(r1.Records))
	}

	cke := &protocol.ClientKeyExchange{EncryptedPreMasterSecret: bytes.Repeat([]byte{0xAA}, 128)}
	var b []byte
	b = append(b, byte(len(cke.EncryptedPreMasterSecret)>>8), byte(len(cke.EncryptedPreMasterSecret)))
	b = append(b, cke.EncryptedPreMasterSecret...)
	var cb []byte
	cb = append(cb, constants.HandshakeTypeClientKeyExchange)
	cb = append(cb, byte(len(b)>>16), byte(len(b)>>8), byte(len(b)))
	cb = append(cb, b...)

	r2, err := handshake.HandleMessage(p, cfg, r1.State, cb)
	if err != nil {
		t.Fatalf("ClientKeyExchange: %v", err)
	}
	if r2.State.Phase != handshake.PhaseAwaitingChangeCipherSpec {
		t.Fatalf("phase after ClientKeyExchange = %v, want AwaitingChangeCipherSpec", r2.State.Phase)
	}

	r3, err := handshake.HandleChangeCipherSpec(r2.State)
	if err != nil {
		t.Fatalf("ChangeCipherSpec: %v", err)
	}
	if r3.State.Phase != handshake.PhaseAwaitingFinished {
		t.Fatalf("phase after ChangeCipherSpec = %v, want AwaitingFinished", r3.State.Phase)
	}
	// The outbound ChangeCipherSpec and the write-direction activation
	// both happen here, not at Finished, so that the server Finished
	// below is encrypted under the cipher this step installs.
	if len(r3.Records) != 1 || r3.Records[0].ContentType != constants.ContentTypeChangeCipherSpec {
		t.Fatalf("expected one ChangeCipherSpec record, got %+v", r3.Records)
	}
	if len(r3.Activations) != 2 {
		t.Fatalf("expected read+write activations, got %+v", r3.Activations)
	}
	if r3.Activations[0].Direction != handshake.DirectionRead || r3.Activations[1].Direction != handshake.DirectionWrite {
		t.Fatalf("expected read then write activation, got %+v", r3.Activations)
	}

	clientVerify := p.PRFFinished(r2.State.MasterSecret, constants.FinishedLabelClient, r2.State.Transcript)
	finishedWire := protocol.MarshalFinished(clientVerify)

	r4, err := handshake.HandleMessage(p, cfg, r3.State, finishedWire)
	if err != nil {
		t.Fatalf("Finished: %v", err)
	}
	if !r4.Established {
		t.Fatal("expected handshake to be Established")
	}
	if r4.State.Phase != handshake.PhaseEstablished {
		t.Fatalf("phase after Finished = %v, want Established", r4.State.Phase)
	}
	if len(r4.Records) != 1 || r4.Records[0].ContentType != constants.ContentTypeHandshake {
		t.Fatalf("got %+v records after Finished, want 1 (server Finished)", r4.Records)
	}
	if len(r4.Activations) != 0 {
		t.Fatalf("expected no activations at Finished, got %+v", r4.Activations)
	}
}

func TestClientHelloRejectsWhenNoSuiteOverlaps(t *testing.T) {
	cfg, p := testConfig(t)
	_, err := handshake.HandleMessage(p, cfg, handshake.State{}, clientHelloWire(0x1234))
	if err == nil {
		t.Fatal("expected error for no overlapping cipher suite")
	}
}

func TestFinishedRejectsWrongVerifyData(t *testing.T) {
	cfg, p := testConfig(t)

	r1, err := handshake.HandleMessage(p, cfg, handshake.State{}, clientHelloWire(constants.DefaultServerSuites()...))
	if err != nil {
		t.Fatalf("ClientHello: %v", err)
	}

	cke := &protocol.ClientKeyExchange{EncryptedPreMasterSecret: bytes.Repeat([]byte{0xAA}, 128)}
	var b []byte
	b = append(b, byte(len(cke.EncryptedPreMasterSecret)>>8), byte(len(cke.EncryptedPreMasterSecret)))
	b = append(b, cke.EncryptedPreMasterSecret...)
	var cb []byte
	cb = append(cb, constants.HandshakeTypeClientKeyExchange)
	cb = append(cb, byte(len(b)>>16), byte(len(b)>>8), byte(len(b)))
	cb = append(cb, b...)

	r2, err := handshake.HandleMessage(p, cfg, r1.State, cb)
	if err != nil {
		t.Fatalf("ClientKeyExchange: %v", err)
	}
	r3, err := handshake.HandleChangeCipherSpec(r2.State)
	if err != nil {
		t.Fatalf("ChangeCipherSpec: %v", err)
	}

	var wrongVerify [constants.VerifyDataSize]byte
	finishedWire := protocol.MarshalFinished(wrongVerify)

	if _, err := handshake.HandleMessage(p, cfg, r3.State, finishedWire); err == nil {
		t.Fatal("expected error for mismatched Finished verify_data")
	}
}

func TestMessageOutOfOrderIsRejected(t *testing.T) {
	cfg, p := testConfig(t)
	var wrongVerify [constants.VerifyDataSize]byte
	finishedWire := protocol.MarshalFinished(wrongVerify)
	if _, err := handshake.HandleMessage(p, cfg, handshake.State{}, finishedWire); err == nil {
		t.Fatal("expected error for Finished before ClientHello")
	}
}

func TestRenegotiationResetsTranscript(t *testing.T) {
	cfg, p := testConfig(t)

	established := handshake.State{Phase: handshake.PhaseEstablished, Transcript: []byte("stale transcript")}
	r, err := handshake.HandleMessage(p, cfg, established, clientHelloWire(constants.DefaultServerSuites()...))
	if err != nil {
		t.Fatalf("renegotiation ClientHello: %v", err)
	}
	if bytes.Contains(r.State.Transcript, []byte("stale transcript")) {
		t.Error("renegotiation did not reset transcript")
	}
}
