package mysql

import (
	"fmt"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

// CommandAcc reads the command byte starting a client request and resets
// the session's response accumulator for whatever reply follows.
type CommandAcc struct {
	Command  Command
	complete bool
}

func (a *CommandAcc) Consume(pkt *Packet, sess *Session) (Phase, error) {
	if len(pkt.Body) == 0 {
		return 0, fmt.Errorf("mysql: empty command packet")
	}

	code := CommandCode(pkt.Body[0])
	rest := pkt.Body[1:]

	var arg []byte
	switch code {
	case ComQuery:
		if sess.ClientCaps.Has(ClientQueryAttributes) {
			parsed, err := decodeQueryAttributes(rest)
			if err != nil {
				return 0, fmt.Errorf("mysql: COM_QUERY with query attributes: %w", err)
			}
			arg = parsed
		} else {
			arg = rest
		}
	default:
		arg = rest
	}

	a.Command = Command{Code: code, Arg: arg}
	a.complete = true

	if code == ComStmtClose {
		return PhaseCommand, nil
	}
	return PhasePendingResponse, nil
}

// decodeQueryAttributes parses the parameter_count / parameter_set_count
// preamble COM_QUERY carries under ClientQueryAttributes and returns the
// query text that follows. The null-bitmap and new_params_bind_flag are
// only on the wire when parameter_count > 0.
//
// Bound query attributes (parameter_count > 0) are not decoded; rather
// than silently mis-decode them, this refuses that shape with an error the
// caller turns into a session close.
func decodeQueryAttributes(body []byte) ([]byte, error) {
	off := 0

	paramCount, n, err := wire.IntLenEnc(body[off:])
	if err != nil {
		return nil, fmt.Errorf("parameter_count: %w", err)
	}
	off += n

	paramSetCount, n, err := wire.IntLenEnc(body[off:])
	if err != nil {
		return nil, fmt.Errorf("parameter_set_count: %w", err)
	}
	off += n
	if paramSetCount != 1 {
		return nil, fmt.Errorf("parameter_set_count = %d, want 1", paramSetCount)
	}

	if paramCount > 0 {
		return nil, fmt.Errorf("bound query attributes (parameter_count=%d) are not supported", paramCount)
	}

	query, _ := wire.StringEOFEnc(body[off:])
	return []byte(query), nil
}

func (a *CommandAcc) AccumulationComplete() bool { return a.complete }

func (a *CommandAcc) Delta() *Delta {
	cmd := a.Command
	return &Delta{LastCommand: &cmd, Response: &ResponseAccumulator{}}
}
