package mysql

import (
	"fmt"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

// Handshake is the fully-decoded HandshakeV10 packet the server sends first.
type Handshake struct {
	ProtocolVersion     uint8
	ServerVersion       string
	ThreadID            uint32
	AuthPluginDataPart1 string
	Capabilities        Capability
	CharacterSet        uint8
	StatusFlags         ServerStatus
	AuthPluginDataLen   uint8
	AuthPluginDataPart2 string
	AuthPluginName      string
}

// HandshakeAcc decodes the server's v10 greeting (S→C, phase Handshake).
type HandshakeAcc struct {
	Handshake Handshake
	complete  bool
}

func (a *HandshakeAcc) Consume(pkt *Packet, _ *Session) (Phase, error) {
	body := pkt.Body
	off := 0

	protoVer, n, err := wire.IntFixedLen(body[off:], 1)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake protocol_version: %w", err)
	}
	off += n
	if protoVer != 0x0a {
		return 0, fmt.Errorf("mysql: unsupported handshake protocol version 0x%02x", protoVer)
	}
	a.Handshake.ProtocolVersion = uint8(protoVer)

	serverVersion, n, err := wire.StringNullEnc(body[off:])
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake server_version: %w", err)
	}
	off += n
	a.Handshake.ServerVersion = serverVersion

	threadID, n, err := wire.IntFixedLen(body[off:], 4)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake thread_id: %w", err)
	}
	off += n
	a.Handshake.ThreadID = uint32(threadID)

	authData1, n, err := wire.StringFixedLen(body[off:], 8)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake auth_plugin_data_part_1: %w", err)
	}
	off += n
	a.Handshake.AuthPluginDataPart1 = authData1

	off++ // filler 0x00

	capLower, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake capability_flags_lower: %w", err)
	}
	off += n

	charset, n, err := wire.IntFixedLen(body[off:], 1)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake character_set: %w", err)
	}
	off += n
	a.Handshake.CharacterSet = uint8(charset)

	statusFlags, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake status_flags: %w", err)
	}
	off += n
	a.Handshake.StatusFlags = ServerStatus(statusFlags)

	capUpper, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake capability_flags_upper: %w", err)
	}
	off += n

	caps := Capability(capLower | capUpper<<16)
	a.Handshake.Capabilities = caps

	var authPluginDataLen uint8
	if caps.Has(ClientPluginAuth) {
		l, n, err := wire.IntFixedLen(body[off:], 1)
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake auth_plugin_data_length: %w", err)
		}
		off += n
		authPluginDataLen = uint8(l)
	} else {
		off++ // single zero byte in place of the length
	}
	a.Handshake.AuthPluginDataLen = authPluginDataLen

	off += 10 // reserved, must be zero

	part2Len := int(authPluginDataLen) - 8
	if part2Len < 13 {
		part2Len = 13
	}
	authData2, n, err := wire.StringFixedLen(body[off:], part2Len)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake auth_plugin_data_part_2: %w", err)
	}
	off += n
	a.Handshake.AuthPluginDataPart2 = authData2

	if caps.Has(ClientPluginAuth) {
		name, _, err := wire.StringNullEnc(body[off:])
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake auth_plugin_name: %w", err)
		}
		a.Handshake.AuthPluginName = name
	}

	a.complete = true
	return PhaseHandshakeResponse, nil
}

func (a *HandshakeAcc) AccumulationComplete() bool { return a.complete }

func (a *HandshakeAcc) Delta() *Delta {
	if !a.complete {
		return nil
	}
	return &Delta{Handshake: &a.Handshake}
}
