package mysql

import (
	"fmt"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

// AuthSwitchRequest is the server's request that the client switch auth
// plugins mid-handshake.
type AuthSwitchRequest struct {
	StatusTag          uint8
	PluginName         string
	PluginProvidedData string
}

// AuthSwitchRequestAcc decodes an auth-switch-request packet. It is never
// dispatched directly from accumulatorFor; AuthInitAcc delegates to it when
// it sees the 0xFE status tag.
type AuthSwitchRequestAcc struct {
	Request  AuthSwitchRequest
	complete bool
}

func (a *AuthSwitchRequestAcc) Consume(pkt *Packet, _ *Session) (Phase, error) {
	body := pkt.Body
	off := 0

	statusTag, n, err := wire.IntFixedLen(body[off:], 1)
	if err != nil {
		return 0, fmt.Errorf("mysql: auth switch request status_tag: %w", err)
	}
	off += n
	if statusTag != 0xfe {
		return 0, fmt.Errorf("mysql: auth switch request status_tag = 0x%02x, want 0xfe", statusTag)
	}

	pluginName, n, err := wire.StringNullEnc(body[off:])
	if err != nil {
		return 0, fmt.Errorf("mysql: auth switch request plugin_name: %w", err)
	}
	off += n

	data, _ := wire.StringEOFEnc(body[off:])

	a.Request = AuthSwitchRequest{StatusTag: uint8(statusTag), PluginName: pluginName, PluginProvidedData: data}
	a.complete = true
	return PhaseAuthSwitchResponse, nil
}

func (a *AuthSwitchRequestAcc) AccumulationComplete() bool { return a.complete }

func (a *AuthSwitchRequestAcc) Delta() *Delta {
	if !a.complete {
		return nil
	}
	return &Delta{AuthSwitchRequest: &a.Request}
}

// AuthInitAcc inspects the first post-handshake-response server packet and
// routes to whichever continuation the auth flow takes. Since it delegates
// the actual packet to whichever sub-accumulator owns that continuation, it
// keeps that sub-accumulator's delta around so its own Delta() can still
// honor the accumulation-complete-implies-delta contract.
type AuthInitAcc struct {
	complete bool
	delta    *Delta
}

func (a *AuthInitAcc) Consume(pkt *Packet, sess *Session) (Phase, error) {
	if len(pkt.Body) == 0 {
		return 0, fmt.Errorf("mysql: empty packet in AuthInit")
	}

	switch pkt.Body[0] {
	case 0xfe:
		// Auth-switch-request: https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_connection_phase_packets_protocol_auth_switch_request.html
		a.complete = true
		sub := &AuthSwitchRequestAcc{}
		phase, err := sub.Consume(pkt, sess)
		a.delta = sub.Delta()
		return phase, err
	case 0x00:
		// Credentials from HandshakeResponse were already sufficient.
		a.complete = true
		sub := &AuthCompleteAcc{}
		phase, err := sub.Consume(pkt, sess)
		a.delta = sub.Delta()
		return phase, err
	case 0x01:
		// AuthMoreData.
		if len(pkt.Body) < 2 {
			return 0, fmt.Errorf("mysql: truncated AuthMoreData packet")
		}
		a.complete = true
		a.delta = &Delta{}
		switch pkt.Body[1] {
		case 0x03:
			return PhaseAuthComplete, nil
		case 0x04:
			return PhaseAuthSwitchResponse, nil
		default:
			return 0, fmt.Errorf("mysql: unhandled AuthMoreData subtype 0x%02x", pkt.Body[1])
		}
	default:
		return PhaseAuthInit, nil
	}
}

func (a *AuthInitAcc) AccumulationComplete() bool { return a.complete }

func (a *AuthInitAcc) Delta() *Delta {
	if !a.complete {
		return nil
	}
	if a.delta != nil {
		return a.delta
	}
	return &Delta{}
}

// AuthSwitchResponseAcc forwards the client's opaque auth-switch response
// blob without interpreting it.
type AuthSwitchResponseAcc struct {
	Data     []byte
	complete bool
}

func (a *AuthSwitchResponseAcc) Consume(pkt *Packet, _ *Session) (Phase, error) {
	a.Data = pkt.Body
	a.complete = true
	return PhaseAuthComplete, nil
}

func (a *AuthSwitchResponseAcc) AccumulationComplete() bool { return a.complete }

func (a *AuthSwitchResponseAcc) Delta() *Delta {
	if !a.complete {
		return nil
	}
	return &Delta{AuthSwitchResponse: a.Data}
}

// AuthCompleteAcc expects an Ok or Error packet terminating the auth flow.
// A caching_sha2 full-auth exchange over plaintext interleaves one more
// round before the Ok: the server's AuthMoreData reply carrying its RSA
// public key, which the client answers with the encrypted password. That
// continuation routes back to AuthSwitchResponse so the exchange loop flips
// direction for it.
//
// AuthCompleteAcc carries no record of its own beyond the phase transition,
// so its delta is non-nil but empty once complete: the invariant is about
// signaling that accumulation finished, not that there is always session
// state to merge.
type AuthCompleteAcc struct {
	complete bool
}

func (a *AuthCompleteAcc) Consume(pkt *Packet, _ *Session) (Phase, error) {
	a.complete = true
	switch pkt.Type {
	case TypeOk:
		return PhaseCommand, nil
	case TypeError:
		return PhaseAuthFailed, nil
	default:
		if len(pkt.Body) > 0 && pkt.Body[0] == 0x01 {
			return PhaseAuthSwitchResponse, nil
		}
		return 0, fmt.Errorf("mysql: unexpected packet type %s completing auth", pkt.Type)
	}
}

func (a *AuthCompleteAcc) AccumulationComplete() bool { return a.complete }

func (a *AuthCompleteAcc) Delta() *Delta {
	if !a.complete {
		return nil
	}
	return &Delta{}
}
