// Package engine is the top-level driver that ties the wire codec, the
// record layer, and the handshake state machine into a single pure
// Handle call: bytes in, bytes out, events out. It owns no socket and
// starts no goroutine; the caller is responsible for all I/O and for
// persisting the State it receives back between calls.
package engine

import (
	"context"
	"crypto/rsa"

	"github.com/pzverkov-student/tls10-engine/internal/constants"
	qerrors "github.com/pzverkov-student/tls10-engine/internal/errors"
	"github.com/pzverkov-student/tls10-engine/pkg/handshake"
	"github.com/pzverkov-student/tls10-engine/pkg/metrics"
	"github.com/pzverkov-student/tls10-engine/pkg/primitives"
	"github.com/pzverkov-student/tls10-engine/pkg/protocol"
	"github.com/pzverkov-student/tls10-engine/pkg/record"
)

// State is the complete, opaque connection state a caller threads through
// successive Handle and Send calls.
type State struct {
	handshake   handshake.State
	readCipher  record.State
	writeCipher record.State
}

// Engine is a configured TLS 1.0 server identity plus the cryptographic
// and observability backends it drives through. It is safe for
// concurrent use: every method is a pure function of its State argument.
type Engine struct {
	cfg        handshake.Config
	primitives primitives.Primitives
	logger     *metrics.Logger
	tracer     metrics.Tracer
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default null logger.
func WithLogger(l *metrics.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the default no-op tracer.
func WithTracer(t metrics.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCipherSuites overrides the default suite preference list.
func WithCipherSuites(suites ...constants.CipherSuite) Option {
	return func(e *Engine) { e.cfg.SupportedSuites = suites }
}

// WithPrimitives overrides the default standard-library crypto backend,
// primarily for tests.
func WithPrimitives(p primitives.Primitives) Option {
	return func(e *Engine) { e.primitives = p }
}

// New builds an Engine that authenticates as certChain/privateKey.
func New(certChain [][]byte, privateKey *rsa.PrivateKey, opts ...Option) *Engine {
	e := &Engine{
		cfg: handshake.Config{
			CertChain:       certChain,
			PrivateKey:      privateKey,
			SupportedSuites: constants.DefaultServerSuites(),
		},
		primitives: primitives.Stdlib{},
		logger:     metrics.NullLogger(),
		tracer:     metrics.NoOpTracer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitialState returns the State for a freshly accepted connection.
func (e *Engine) InitialState() State {
	return State{}
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventHandshakeComplete EventKind = iota
	EventApplicationData
	EventAlertReceived
	EventFatalError
)

// Event is one observable outcome of a Handle call. A single Handle call
// may produce several, in the order their causing records appeared on
// the wire.
type Event struct {
	Kind  EventKind
	Data  []byte // set for EventApplicationData
	Alert protocol.Alert
	Err   error // set for EventFatalError
}

// Handle advances state by the complete TLS records contained in input
// and returns the advanced state, bytes the caller must write back to
// the peer, and any events the records produced. input must contain only
// complete records; a trailing partial record is reported as an error
// rather than buffered, since this engine keeps no I/O state of its own.
func (e *Engine) Handle(state State, input []byte) (State, []byte, []Event, error) {
	_, end := e.tracer.StartSpan(context.Background(), metrics.SpanEngineHandle)
	var handleErr error
	defer func() { end(handleErr) }()

	records, consumed, err := protocol.SplitRecords(input)
	if err != nil {
		handleErr = err
		return state, nil, nil, err
	}
	if consumed != len(input) {
		handleErr = qerrors.NewUnexpectedFragmentError(len(input)-consumed, 0)
		return state, nil, nil, handleErr
	}

	var output []byte
	var events []Event

	for _, rec := range records {
		plaintext, nextRead, err := record.Decrypt(e.primitives, state.readCipher, rec.Header.Type, rec.Header.Version, rec.Fragment)
		if err != nil {
			handleErr = err
			return state, output, events, err
		}
		state.readCipher = nextRead

		switch rec.Header.Type {
		case constants.ContentTypeHandshake:
			var out []byte
			var evs []Event
			out, evs, err = e.handleHandshakeFragment(&state, plaintext)
			if err != nil {
				handleErr = err
				return state, output, events, err
			}
			output = append(output, out...)
			events = append(events, evs...)

		case constants.ContentTypeChangeCipherSpec:
			if err := protocol.ParseChangeCipherSpec(plaintext); err != nil {
				handleErr = err
				return state, output, events, err
			}
			result, err := handshake.HandleChangeCipherSpec(state.handshake)
			if err != nil {
				handleErr = err
				return state, output, events, err
			}
			state.handshake = result.State
			// Records must be encrypted under the cipher in effect before
			// this step's activations take it over: the outbound
			// ChangeCipherSpec goes out under the old (often null) write
			// cipher, and only the server Finished that follows, in a
			// later Handle iteration, is encrypted under the new one.
			for _, rec := range result.Records {
				wire, err := e.encryptRecord(&state, rec)
				if err != nil {
					handleErr = err
					return state, output, events, err
				}
				output = append(output, wire...)
			}
			if err := applyActivations(&state, result.Activations); err != nil {
				handleErr = err
				return state, output, events, err
			}

		case constants.ContentTypeAlert:
			alert, err := protocol.ParseAlert(plaintext)
			if err != nil {
				handleErr = err
				return state, output, events, err
			}
			events = append(events, Event{Kind: EventAlertReceived, Alert: alert})

		case constants.ContentTypeApplicationData:
			// During a renegotiation, application data keeps flowing under
			// the previous read cipher until the client's ChangeCipherSpec.
			renegotiating := state.readCipher.Active() &&
				(state.handshake.Phase == handshake.PhaseAwaitingClientKeyExchange ||
					state.handshake.Phase == handshake.PhaseAwaitingChangeCipherSpec)
			if state.handshake.Phase != handshake.PhaseEstablished && !renegotiating {
				handleErr = qerrors.NewProtocolError("application_data", qerrors.ErrUnexpectedMessage)
				return state, output, events, handleErr
			}
			events = append(events, Event{Kind: EventApplicationData, Data: plaintext})

		default:
			handleErr = qerrors.NewProtocolError("record_header", qerrors.ErrUnexpectedMessage)
			return state, output, events, handleErr
		}
	}

	return state, output, events, nil
}

// handleHandshakeFragment walks the one or more handshake messages a
// decrypted handshake-content-type fragment may contain and drives each
// through the handshake state machine.
func (e *Engine) handleHandshakeFragment(state *State, fragment []byte) ([]byte, []Event, error) {
	var output []byte
	var events []Event
	offset := 0
	for offset < len(fragment) {
		hdr, body, err := protocol.ParseHandshakeHeader(fragment[offset:])
		if err != nil {
			return output, events, err
		}
		msgLen := 4 + len(body)

		result, err := handshake.HandleMessage(e.primitives, e.cfg, state.handshake, fragment[offset:offset+msgLen])
		if err != nil {
			return output, events, err
		}
		state.handshake = result.State
		offset += msgLen

		for _, rec := range result.Records {
			wire, err := e.encryptRecord(state, rec)
			if err != nil {
				return output, events, err
			}
			output = append(output, wire...)
		}
		if err := applyActivations(state, result.Activations); err != nil {
			return output, events, err
		}
		if result.Established {
			events = append(events, Event{Kind: EventHandshakeComplete})
		}
	}
	return output, events, nil
}

// encryptRecord protects one handshake-produced record and frames it for
// the wire.
func (e *Engine) encryptRecord(state *State, rec handshake.OutputRecord) ([]byte, error) {
	ciphertext, next, err := record.Encrypt(e.primitives, state.writeCipher, rec.ContentType, protocol.TLS10, rec.Payload)
	if err != nil {
		return nil, err
	}
	state.writeCipher = next
	header := protocol.MarshalRecordHeader(protocol.RecordHeader{
		Type:    rec.ContentType,
		Version: protocol.TLS10,
		Length:  uint16(len(ciphertext)),
	})
	return append(header, ciphertext...), nil
}

// applyActivations installs new record-layer cipher contexts as
// instructed by the handshake state machine.
func applyActivations(state *State, activations []handshake.Activation) error {
	for _, act := range activations {
		s, err := record.NewActiveState(act.Suite, act.Key, act.IV, act.MACKey)
		if err != nil {
			return err
		}
		switch act.Direction {
		case handshake.DirectionRead:
			state.readCipher = s
		case handshake.DirectionWrite:
			state.writeCipher = s
		}
	}
	return nil
}

// Send encrypts and frames application data for transmission. It is only
// valid once the handshake has completed.
func (e *Engine) Send(state State, plaintext []byte) (State, []byte, error) {
	if state.handshake.Phase != handshake.PhaseEstablished {
		return state, nil, qerrors.NewProtocolError("application_data", qerrors.ErrUnexpectedMessage)
	}
	wire, err := e.encryptRecord(&state, handshake.OutputRecord{
		ContentType: constants.ContentTypeApplicationData,
		Payload:     plaintext,
	})
	if err != nil {
		return state, nil, err
	}
	return state, wire, nil
}

// SendAlert encrypts and frames an alert for transmission.
func (e *Engine) SendAlert(state State, alert protocol.Alert) (State, []byte, error) {
	wire, err := e.encryptRecord(&state, handshake.OutputRecord{
		ContentType: constants.ContentTypeAlert,
		Payload:     protocol.MarshalAlert(alert),
	})
	if err != nil {
		return state, nil, err
	}
	return state, wire, nil
}

// Established reports whether state has completed (or re-completed,
// after a renegotiation) its handshake.
func (state State) Established() bool {
	return state.handshake.Phase == handshake.PhaseEstablished
}
