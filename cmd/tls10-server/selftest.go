package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	"github.com/pzverkov-student/tls10-engine/pkg/engine"
	"github.com/pzverkov-student/tls10-engine/pkg/primitives"
	"github.com/pzverkov-student/tls10-engine/pkg/protocol"
	"github.com/pzverkov-student/tls10-engine/pkg/record"
)

// selftestCommand drives the engine through a complete handshake and an
// application-data round trip entirely in-process, playing the client
// side by hand. It exists to demonstrate the engine's external contract
// without requiring a second TLS implementation on the other end of a
// socket.
func selftestCommand() {
	p := primitives.Stdlib{}
	certDER, serverKey, err := generateSelfSignedCert()
	must(err)

	suite := constants.TLS_RSA_WITH_AES_128_CBC_SHA
	e := engine.New([][]byte{certDER}, serverKey, engine.WithCipherSuites(suite))
	state := e.InitialState()

	var clientRandom [32]byte
	must(fill(clientRandom[:]))

	ch := &protocol.ClientHello{
		Version:      protocol.TLS10,
		Random:       clientRandom,
		CipherSuites: []constants.CipherSuite{suite},
		Compression:  []uint8{0},
	}
	chWire := protocol.MarshalClientHello(ch)
	chRecord := frame(constants.ContentTypeHandshake, chWire)

	state, flight, _, err := e.Handle(state, chRecord)
	must(err)
	flightRecords, _, err := protocol.SplitRecords(flight)
	must(err)

	transcript := append([]byte{}, chWire...)
	for _, r := range flightRecords {
		transcript = append(transcript, r.Fragment...)
	}

	pms := make([]byte, 48)
	must(fill(pms))
	pms[0], pms[1] = protocol.TLS10.Major, protocol.TLS10.Minor

	encryptedPMS, err := rsa.EncryptPKCS1v15(rand.Reader, &serverKey.PublicKey, pms)
	must(err)
	var ckeBody []byte
	ckeBody = append(ckeBody, byte(len(encryptedPMS)>>8), byte(len(encryptedPMS)))
	ckeBody = append(ckeBody, encryptedPMS...)
	var ckeWire []byte
	ckeWire = append(ckeWire, constants.HandshakeTypeClientKeyExchange)
	ckeWire = append(ckeWire, byte(len(ckeBody)>>16), byte(len(ckeBody)>>8), byte(len(ckeBody)))
	ckeWire = append(ckeWire, ckeBody...)
	ckeRecord := frame(constants.ContentTypeHandshake, ckeWire)

	state, _, _, err = e.Handle(state, ckeRecord)
	must(err)
	transcript = append(transcript, ckeWire...)

	// The selftest cannot observe the server_random the engine chose
	// internally (only a socket peer would, via the ServerHello it
	// already received), so it recovers it from the flight it was sent.
	serverRandom, cipherSuite, err := parseServerHello(flightRecords[0].Fragment)
	must(err)
	if cipherSuite != suite {
		fmt.Fprintf(os.Stderr, "server selected unexpected suite %v\n", cipherSuite)
		os.Exit(1)
	}

	params, _ := constants.ParamsFor(suite)
	seed := append(append([]byte{}, clientRandom[:]...), serverRandom[:]...)
	masterSecret := p.PRFMasterSecret(pms, seed)
	kbSeed := append(append([]byte{}, serverRandom[:]...), clientRandom[:]...)
	keyBlockLen := 2*params.MACKeySize + 2*params.KeySize + 2*params.IVSize
	keyBlock := p.PRFKeyBlock(keyBlockLen, masterSecret, kbSeed)

	off := 0
	take := func(n int) []byte { b := keyBlock[off : off+n]; off += n; return b }
	clientMAC, serverMAC := take(params.MACKeySize), take(params.MACKeySize)
	clientKey, serverKey2 := take(params.KeySize), take(params.KeySize)
	clientIV, serverIV := take(params.IVSize), take(params.IVSize)

	clientWrite, err := record.NewActiveState(suite, clientKey, clientIV, clientMAC)
	must(err)
	serverRead, err := record.NewActiveState(suite, serverKey2, serverIV, serverMAC)
	must(err)

	clientVerify := p.PRFFinished(masterSecret, constants.FinishedLabelClient, transcript)
	finishedWire := protocol.MarshalFinished(clientVerify)
	finishedCiphertext, clientWrite, err := record.Encrypt(p, clientWrite, constants.ContentTypeHandshake, protocol.TLS10, finishedWire)
	must(err)
	finishedRecord := frame(constants.ContentTypeHandshake, finishedCiphertext)

	ccsWire := protocol.MarshalChangeCipherSpec()
	ccsRecord := frame(constants.ContentTypeChangeCipherSpec, ccsWire)

	state, serverFlight, events, err := e.Handle(state, append(ccsRecord, finishedRecord...))
	must(err)

	complete := false
	for _, ev := range events {
		if ev.Kind == engine.EventHandshakeComplete {
			complete = true
		}
	}
	if !complete || !state.Established() {
		fmt.Fprintln(os.Stderr, "handshake did not complete")
		os.Exit(1)
	}

	// Decrypt the server's own Finished record under the independently
	// derived server key material to confirm the engine activated the
	// write-side cipher the selftest expects, not just that it claims to.
	serverFlightRecords, _, err := protocol.SplitRecords(serverFlight)
	must(err)
	if len(serverFlightRecords) != 2 {
		fmt.Fprintf(os.Stderr, "expected CCS + Finished, got %d records\n", len(serverFlightRecords))
		os.Exit(1)
	}
	serverFinishedPlaintext, _, err := record.Decrypt(p, serverRead, serverFlightRecords[1].Header.Type, serverFlightRecords[1].Header.Version, serverFlightRecords[1].Fragment)
	must(err)
	serverFinishedMsg, err := protocol.ParseFinished(serverFinishedPlaintext[4:])
	must(err)
	expectedServerVerify := p.PRFFinished(masterSecret, constants.FinishedLabelServer, append(transcript, finishedWire...))
	if !bytes.Equal(serverFinishedMsg.VerifyData[:], expectedServerVerify[:]) {
		fmt.Fprintln(os.Stderr, "server Finished verify_data mismatch")
		os.Exit(1)
	}
	fmt.Println("handshake complete")

	message := []byte("hello from the selftest client")
	appCiphertext, _, err := record.Encrypt(p, clientWrite, constants.ContentTypeApplicationData, protocol.TLS10, message)
	must(err)
	_, _, events, err = e.Handle(state, frame(constants.ContentTypeApplicationData, appCiphertext))
	must(err)

	for _, ev := range events {
		if ev.Kind == engine.EventApplicationData {
			if bytes.Equal(ev.Data, message) {
				fmt.Printf("application data round trip OK: %q\n", ev.Data)
				return
			}
			fmt.Fprintf(os.Stderr, "application data mismatch: got %q, want %q\n", ev.Data, message)
			os.Exit(1)
		}
	}
	fmt.Fprintln(os.Stderr, "no application data event received")
	os.Exit(1)
}

func frame(contentType uint8, payload []byte) []byte {
	header := protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type: contentType, Version: protocol.TLS10, Length: uint16(len(payload)),
	})
	return append(header, payload...)
}

func fill(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// parseServerHello extracts the fields the selftest client needs to
// derive key material, without a general-purpose ServerHello parser in
// pkg/protocol (the engine never needs to parse the messages it emits).
func parseServerHello(framed []byte) ([32]byte, constants.CipherSuite, error) {
	var random [32]byte
	hdr, body, err := protocol.ParseHandshakeHeader(framed)
	if err != nil {
		return random, 0, err
	}
	if hdr.Type != constants.HandshakeTypeServerHello || len(body) < 2+32+1 {
		return random, 0, fmt.Errorf("malformed ServerHello")
	}
	copy(random[:], body[2:34])
	offset := 34
	sessionIDLen := int(body[offset])
	offset += 1 + sessionIDLen
	if len(body) < offset+2 {
		return random, 0, fmt.Errorf("malformed ServerHello")
	}
	suite := constants.CipherSuite(uint16(body[offset])<<8 | uint16(body[offset+1]))
	return random, suite, nil
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "selftest failed:", err)
		os.Exit(1)
	}
}
