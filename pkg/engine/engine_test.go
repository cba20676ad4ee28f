package engine_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	"github.com/pzverkov-student/tls10-engine/pkg/engine"
	"github.com/pzverkov-student/tls10-engine/pkg/primitives"
	"github.com/pzverkov-student/tls10-engine/pkg/protocol"
	"github.com/pzverkov-student/tls10-engine/pkg/record"
)

// fixedPrimitives pins the server_random and the decrypted pre-master
// secret so a test acting as the client can predict every derived key
// without parsing the server's wire output.
type fixedPrimitives struct {
	primitives.Stdlib
	serverRandom []byte
	pms          []byte
}

func (f fixedPrimitives) RandomBytes(n int) ([]byte, error) {
	if n == len(f.serverRandom) {
		return f.serverRandom, nil
	}
	return f.Stdlib.RandomBytes(n)
}

func (f fixedPrimitives) RSADecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return f.pms, nil
}

func clientHelloRecord(random [32]byte, suites ...constants.CipherSuite) ([]byte, []byte) {
	ch := &protocol.ClientHello{
		Version:      protocol.TLS10,
		Random:       random,
		CipherSuites: suites,
		Compression:  []uint8{0},
	}
	wire := protocol.MarshalClientHello(ch)
	rec := append(protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: constants.ContentTypeHandshake, Version: protocol.TLS10, Length: uint16(len(wire)),
	}), wire...)
	return rec, wire
}

func clientKeyExchangeRecord(encryptedPMS []byte) ([]byte, []byte) {
	var body []byte
	body = append(body, byte(len(encryptedPMS)>>8), byte(len(encryptedPMS)))
	body = append(body, encryptedPMS...)
	var wire []byte
	wire = append(wire, constants.HandshakeTypeClientKeyExchange)
	wire = append(wire, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
	wire = append(wire, body...)
	rec := append(protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: constants.ContentTypeHandshake, Version: protocol.TLS10, Length: uint16(len(wire)),
	}), wire...)
	return rec, wire
}

func changeCipherSpecRecord() []byte {
	wire := protocol.MarshalChangeCipherSpec()
	return append(protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: constants.ContentTypeChangeCipherSpec, Version: protocol.TLS10, Length: uint16(len(wire)),
	}), wire...)
}

// deriveKeys replicates the server's RFC 2246 §6.3 key_block split for a
// stream-cipher suite, so the test can act as the client without access
// to the engine's internal state.
func deriveKeys(pms, clientRandom, serverRandom []byte) (masterSecret [48]byte, clientMAC, serverMAC, clientKey, serverKey []byte) {
	p := primitives.Stdlib{}
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	masterSecret = p.PRFMasterSecret(pms, seed)

	kbSeed := append(append([]byte{}, serverRandom...), clientRandom...)
	keyBlock := p.PRFKeyBlock(72, masterSecret, kbSeed) // 2*20 MAC + 2*16 key, RC4 has no IV
	clientMAC = keyBlock[0:20]
	serverMAC = keyBlock[20:40]
	clientKey = keyBlock[40:56]
	serverKey = keyBlock[56:72]
	return
}

func newTestEngine(suite constants.CipherSuite, serverRandom, pms []byte) (*engine.Engine, *rsa.PrivateKey) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		panic(err)
	}
	p := fixedPrimitives{serverRandom: serverRandom, pms: pms}
	e := engine.New([][]byte{[]byte("fake-der-certificate")}, priv,
		engine.WithCipherSuites(suite),
		engine.WithPrimitives(p),
	)
	return e, priv
}

func TestEngineHandshakeAndApplicationData(t *testing.T) {
	suite := constants.TLS_RSA_WITH_RC4_128_SHA
	serverRandom := bytes.Repeat([]byte{0x42}, 32)
	pms := bytes.Repeat([]byte{0x24}, 48)
	e, _ := newTestEngine(suite, serverRandom, pms)

	var clientRandom [32]byte
	for i := range clientRandom {
		clientRandom[i] = byte(i)
	}

	state := e.InitialState()

	chRec, chWire := clientHelloRecord(clientRandom, suite)
	state, out1, events1, err := e.Handle(state, chRec)
	if err != nil {
		t.Fatalf("ClientHello Handle: %v", err)
	}
	if len(events1) != 0 {
		t.Fatalf("unexpected events after ClientHello: %+v", events1)
	}

	flightRecords, consumed, err := protocol.SplitRecords(out1)
	if err != nil {
		t.Fatalf("SplitRecords(out1): %v", err)
	}
	if consumed != len(out1) || len(flightRecords) != 3 {
		t.Fatalf("expected 3 flight records, got %d (consumed %d/%d)", len(flightRecords), consumed, len(out1))
	}
	var transcript []byte
	transcript = append(transcript, chWire...)
	for _, r := range flightRecords {
		transcript = append(transcript, r.Fragment...)
	}

	encryptedPMS := bytes.Repeat([]byte{0xAB}, 128) // value irrelevant: fixedPrimitives.RSADecrypt ignores it
	ckeRec, ckeWire := clientKeyExchangeRecord(encryptedPMS)
	state, out2, events2, err := e.Handle(state, ckeRec)
	if err != nil {
		t.Fatalf("ClientKeyExchange Handle: %v", err)
	}
	if len(out2) != 0 || len(events2) != 0 {
		t.Fatalf("unexpected output/events after ClientKeyExchange: out=%v events=%+v", out2, events2)
	}
	transcript = append(transcript, ckeWire...)

	masterSecret, clientMAC, serverMAC, clientKey, serverKey := deriveKeys(pms, clientRandom[:], serverRandom)

	clientWrite, err := record.NewActiveState(suite, clientKey, nil, clientMAC)
	if err != nil {
		t.Fatalf("NewActiveState(client): %v", err)
	}
	serverWrite, err := record.NewActiveState(suite, serverKey, nil, serverMAC)
	if err != nil {
		t.Fatalf("NewActiveState(server): %v", err)
	}

	p := primitives.Stdlib{}
	clientVerify := p.PRFFinished(masterSecret, constants.FinishedLabelClient, transcript)
	finishedWire := protocol.MarshalFinished(clientVerify)

	finishedCiphertext, clientWrite, err := record.Encrypt(p, clientWrite, constants.ContentTypeHandshake, protocol.TLS10, finishedWire)
	if err != nil {
		t.Fatalf("Encrypt(client Finished): %v", err)
	}
	finishedRec := append(protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: constants.ContentTypeHandshake, Version: protocol.TLS10, Length: uint16(len(finishedCiphertext)),
	}), finishedCiphertext...)

	combined := append(append([]byte{}, changeCipherSpecRecord()...), finishedRec...)
	state, out3, events3, err := e.Handle(state, combined)
	if err != nil {
		t.Fatalf("CCS+Finished Handle: %v", err)
	}
	foundComplete := false
	for _, ev := range events3 {
		if ev.Kind == engine.EventHandshakeComplete {
			foundComplete = true
		}
	}
	if !foundComplete {
		t.Fatalf("expected EventHandshakeComplete, got %+v", events3)
	}
	if !state.Established() {
		t.Fatal("expected state.Established() == true")
	}

	serverFlight, consumed, err := protocol.SplitRecords(out3)
	if err != nil || consumed != len(out3) {
		t.Fatalf("SplitRecords(out3): %v consumed=%d/%d", err, consumed, len(out3))
	}
	if len(serverFlight) != 2 {
		t.Fatalf("expected 2 server records (CCS + Finished), got %d", len(serverFlight))
	}
	serverFinishedPlaintext, serverWrite, err := record.Decrypt(p, serverWrite, serverFlight[1].Header.Type, serverFlight[1].Header.Version, serverFlight[1].Fragment)
	if err != nil {
		t.Fatalf("Decrypt(server Finished): %v", err)
	}
	if len(serverFinishedPlaintext) < 4 {
		t.Fatalf("server Finished plaintext too short: %x", serverFinishedPlaintext)
	}

	appData := []byte("hello from client")
	appCiphertext, _, err := record.Encrypt(p, clientWrite, constants.ContentTypeApplicationData, protocol.TLS10, appData)
	if err != nil {
		t.Fatalf("Encrypt(app data): %v", err)
	}
	appRec := append(protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: constants.ContentTypeApplicationData, Version: protocol.TLS10, Length: uint16(len(appCiphertext)),
	}), appCiphertext...)

	_, _, events4, err := e.Handle(state, appRec)
	if err != nil {
		t.Fatalf("application data Handle: %v", err)
	}
	if len(events4) != 1 || events4[0].Kind != engine.EventApplicationData || !bytes.Equal(events4[0].Data, appData) {
		t.Fatalf("unexpected application data events: %+v", events4)
	}

	newState, serverAppRec, err := e.Send(state, []byte("hello from server"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = newState
	serverAppRecords, _, err := protocol.SplitRecords(serverAppRec)
	if err != nil || len(serverAppRecords) != 1 {
		t.Fatalf("SplitRecords(serverAppRec): %v", err)
	}
	decrypted, _, err := record.Decrypt(p, serverWrite, serverAppRecords[0].Header.Type, serverAppRecords[0].Header.Version, serverAppRecords[0].Fragment)
	if err != nil {
		t.Fatalf("Decrypt(server app data): %v", err)
	}
	if string(decrypted) != "hello from server" {
		t.Fatalf("Decrypt(server app data) = %q", decrypted)
	}
}

func TestEngineRejectsUnsupportedCipherSuite(t *testing.T) {
	e, _ := newTestEngine(constants.TLS_RSA_WITH_RC4_128_SHA, bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 48))
	var clientRandom [32]byte
	chRec, _ := clientHelloRecord(clientRandom, constants.TLS_RSA_WITH_AES_128_CBC_SHA)

	if _, _, _, err := e.Handle(e.InitialState(), chRec); err == nil {
		t.Fatal("expected error: client offered a suite the server does not support")
	}
}

func TestEngineRejectsTamperedApplicationData(t *testing.T) {
	suite := constants.TLS_RSA_WITH_RC4_128_SHA
	serverRandom := bytes.Repeat([]byte{0x42}, 32)
	pms := bytes.Repeat([]byte{0x24}, 48)
	e, _ := newTestEngine(suite, serverRandom, pms)

	var clientRandom [32]byte
	state := e.InitialState()

	chRec, chWire := clientHelloRecord(clientRandom, suite)
	state, out1, _, err := e.Handle(state, chRec)
	if err != nil {
		t.Fatalf("ClientHello: %v", err)
	}
	flightRecords, _, _ := protocol.SplitRecords(out1)
	var transcript []byte
	transcript = append(transcript, chWire...)
	for _, r := range flightRecords {
		transcript = append(transcript, r.Fragment...)
	}

	encryptedPMS := bytes.Repeat([]byte{0xAB}, 128)
	ckeRec, ckeWire := clientKeyExchangeRecord(encryptedPMS)
	state, _, _, err = e.Handle(state, ckeRec)
	if err != nil {
		t.Fatalf("ClientKeyExchange: %v", err)
	}
	transcript = append(transcript, ckeWire...)

	masterSecret, clientMAC, _, clientKey, _ := deriveKeys(pms, clientRandom[:], serverRandom)
	clientWrite, err := record.NewActiveState(suite, clientKey, nil, clientMAC)
	if err != nil {
		t.Fatalf("NewActiveState: %v", err)
	}
	p := primitives.Stdlib{}
	clientVerify := p.PRFFinished(masterSecret, constants.FinishedLabelClient, transcript)
	finishedWire := protocol.MarshalFinished(clientVerify)
	finishedCiphertext, clientWrite, err := record.Encrypt(p, clientWrite, constants.ContentTypeHandshake, protocol.TLS10, finishedWire)
	if err != nil {
		t.Fatalf("Encrypt(Finished): %v", err)
	}
	finishedRec := append(protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: constants.ContentTypeHandshake, Version: protocol.TLS10, Length: uint16(len(finishedCiphertext)),
	}), finishedCiphertext...)
	combined := append(append([]byte{}, changeCipherSpecRecord()...), finishedRec...)
	state, _, _, err = e.Handle(state, combined)
	if err != nil {
		t.Fatalf("CCS+Finished: %v", err)
	}

	appCiphertext, _, err := record.Encrypt(p, clientWrite, constants.ContentTypeApplicationData, protocol.TLS10, []byte("tamper me"))
	if err != nil {
		t.Fatalf("Encrypt(app data): %v", err)
	}
	appCiphertext[0] ^= 0xFF
	appRec := append(protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: constants.ContentTypeApplicationData, Version: protocol.TLS10, Length: uint16(len(appCiphertext)),
	}), appCiphertext...)

	if _, _, _, err := e.Handle(state, appRec); err == nil {
		t.Fatal("expected error decrypting tampered application data")
	}
}
