package mysql

import "fmt"

// Accumulator is the shared contract every phase's packet consumer
// implements: read one packet, mutate itself and (optionally) the packet,
// and report which phase the session moves to next.
type Accumulator interface {
	Consume(pkt *Packet, sess *Session) (Phase, error)
	AccumulationComplete() bool
	Delta() *Delta
}

// accumulatorFor selects the accumulator for the session's current phase,
// reusing the session-scoped response accumulator while PendingResponse is
// active rather than constructing a fresh one.
func accumulatorFor(sess *Session) (Accumulator, error) {
	switch sess.Phase {
	case PhaseHandshake:
		return &HandshakeAcc{}, nil
	case PhaseHandshakeResponse:
		return &HandshakeResponseAcc{}, nil
	case PhaseTlsExchange:
		return nil, fmt.Errorf("mysql: no accumulator consumes packets during TlsExchange")
	case PhaseAuthInit:
		return &AuthInitAcc{}, nil
	case PhaseAuthSwitchResponse:
		return &AuthSwitchResponseAcc{}, nil
	case PhaseAuthFailed:
		return nil, fmt.Errorf("mysql: session in AuthFailed must not receive further packets")
	case PhaseAuthComplete:
		return &AuthCompleteAcc{}, nil
	case PhaseCommand:
		return &CommandAcc{}, nil
	case PhasePendingResponse:
		if sess.Response == nil {
			sess.Response = &ResponseAccumulator{}
		}
		return sess.Response, nil
	default:
		return nil, fmt.Errorf("mysql: unhandled phase %s", sess.Phase)
	}
}
