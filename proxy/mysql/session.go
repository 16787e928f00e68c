package mysql

import (
	"net"

	"github.com/mickamy/mysqlfaultproxy/replay"
	"github.com/mickamy/mysqlfaultproxy/statediff"
)

// Phase is the session's position in the MySQL connection lifecycle.
type Phase int

const (
	PhaseHandshake Phase = iota
	PhaseHandshakeResponse
	PhaseTlsExchange
	PhaseAuthInit
	PhaseAuthSwitchResponse
	PhaseAuthFailed
	PhaseAuthComplete
	PhaseCommand
	PhasePendingResponse
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshake:
		return "Handshake"
	case PhaseHandshakeResponse:
		return "HandshakeResponse"
	case PhaseTlsExchange:
		return "TlsExchange"
	case PhaseAuthInit:
		return "AuthInit"
	case PhaseAuthSwitchResponse:
		return "AuthSwitchResponse"
	case PhaseAuthFailed:
		return "AuthFailed"
	case PhaseAuthComplete:
		return "AuthComplete"
	case PhaseCommand:
		return "Command"
	case PhasePendingResponse:
		return "PendingResponse"
	default:
		return "Unknown"
	}
}

// serverEnd / clientEnd are the phase sets the exchange loop uses to
// decide when to flip read direction.
var serverEnd = map[Phase]bool{
	PhaseHandshakeResponse:  true,
	PhaseCommand:            true,
	PhaseAuthSwitchResponse: true,
}

var clientEnd = map[Phase]bool{
	PhaseAuthInit:        true,
	PhasePendingResponse: true,
	PhaseAuthComplete:    true,
}

// Session holds everything the accumulators and response pipeline need for
// one accepted client connection. It is owned by a single goroutine for its
// entire lifetime; nothing else touches it.
type Session struct {
	Phase              Phase
	ClientCaps         Capability
	LastCommand        *Command
	Response           *ResponseAccumulator
	PartialClientBytes []byte
	PartialServerBytes []byte

	// Handshake, AuthSwitchRequest, and AuthSwitchResponse retain the most
	// recent record of their kind observed during the connection phase.
	// Nothing downstream currently reads them; they are carried so the
	// phase accumulators that produce them can satisfy the
	// accumulation-complete-implies-delta contract without inventing a
	// session field that's thrown away.
	Handshake          *Handshake
	AuthSwitchRequest  *AuthSwitchRequest
	AuthSwitchResponse []byte

	ClientTransport net.Conn
	ServerTransport net.Conn

	DiffStore *statediff.Store

	InterceptWrites bool

	// LogUnsupportedQueries escalates SQL shapes the rewriting pipeline
	// cannot handle (unparseable SELECTs, predicate shapes the evaluator
	// rejects) from silent fail-open to logged errors. Driven by the
	// PANIC_ON_UNSUPPORTED_QUERY environment flag.
	LogUnsupportedQueries bool

	ReplayBus   *replay.Bus
	ReplayStore *replay.Store
}

// Delta is the subset of session state an accumulator computed while
// consuming a packet. Zero-value fields mean "no change". Handshake and
// auth fields exist so every accumulator can honor the "complete implies a
// delta" contract; the session itself has no present use for the
// handshake/auth records beyond carrying them, so it simply stores the
// most recent one observed.
type Delta struct {
	ClientCaps         *Capability
	LastCommand        *Command
	Response           *ResponseAccumulator
	Handshake          *Handshake
	AuthSwitchRequest  *AuthSwitchRequest
	AuthSwitchResponse []byte
}

// Merge applies a non-nil delta's fields onto the session.
func (s *Session) Merge(d Delta) {
	if d.ClientCaps != nil {
		s.ClientCaps = *d.ClientCaps
	}
	if d.LastCommand != nil {
		s.LastCommand = d.LastCommand
	}
	if d.Response != nil {
		s.Response = d.Response
	}
	if d.Handshake != nil {
		s.Handshake = d.Handshake
	}
	if d.AuthSwitchRequest != nil {
		s.AuthSwitchRequest = d.AuthSwitchRequest
	}
	if d.AuthSwitchResponse != nil {
		s.AuthSwitchResponse = d.AuthSwitchResponse
	}
}
