package mysql

import (
	"fmt"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

const handshakeResponseFillerLen = 23

// HandshakeResponse is the fully-decoded HandshakeResponse41 packet.
type HandshakeResponse struct {
	ClientFlag           Capability
	MaxPacketSize        uint32
	CharacterSet         uint8
	Username             string
	AuthResponse         string
	Database             string
	ClientPluginName     string
	ConnectionAttrs      map[string]string
	ZSTDCompressionLevel uint8
}

// HandshakeResponseAcc decodes the client's Protocol41 handshake response
// (C→S, phase HandshakeResponse).
type HandshakeResponseAcc struct {
	Response HandshakeResponse
	complete bool
}

func (a *HandshakeResponseAcc) Consume(pkt *Packet, _ *Session) (Phase, error) {
	body := pkt.Body
	off := 0

	clientFlag, n, err := wire.IntFixedLen(body[off:], 4)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake response client_flag: %w", err)
	}
	off += n
	caps := Capability(clientFlag)
	if !caps.Has(ClientProtocol41) {
		return 0, fmt.Errorf("mysql: handshake response without ClientProtocol41 is not supported")
	}

	maxPacketSize, n, err := wire.IntFixedLen(body[off:], 4)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake response max_packet_size: %w", err)
	}
	off += n

	charset, n, err := wire.IntFixedLen(body[off:], 1)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake response character_set: %w", err)
	}
	off += n

	_, n, err = wire.StringFixedLen(body[off:], handshakeResponseFillerLen)
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake response filler: %w", err)
	}
	off += n

	// An SSL-request truncates the packet right here: client_flag +
	// max_packet_size + character_set + filler, nothing else. Detect it
	// before attempting to parse fields that were never sent.
	if caps.Has(ClientSSL) && off == len(body) {
		a.Response = HandshakeResponse{ClientFlag: caps, MaxPacketSize: uint32(maxPacketSize), CharacterSet: uint8(charset)}
		a.complete = true
		return PhaseTlsExchange, nil
	}

	username, n, err := wire.StringNullEnc(body[off:])
	if err != nil {
		return 0, fmt.Errorf("mysql: handshake response username: %w", err)
	}
	off += n

	var authResponse string
	if caps.Has(ClientPluginAuthLenEncClientData) {
		authResponse, n, err = wire.StringLenEnc(body[off:])
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake response auth_response (len-enc): %w", err)
		}
		off += n
	} else {
		authLen, n, err := wire.IntFixedLen(body[off:], 1)
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake response auth_response_length: %w", err)
		}
		off += n
		authResponse, n, err = wire.StringFixedLen(body[off:], int(authLen))
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake response auth_response: %w", err)
		}
		off += n
	}

	var database string
	if caps.Has(ClientConnectWithDB) {
		database, n, err = wire.StringNullEnc(body[off:])
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake response database: %w", err)
		}
		off += n
	}

	var pluginName string
	if caps.Has(ClientPluginAuth) {
		pluginName, n, err = wire.StringNullEnc(body[off:])
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake response client_plugin_name: %w", err)
		}
		off += n
	}

	attrs := map[string]string{}
	if caps.Has(ClientConnectAttrs) {
		attrsLen, n, err := wire.IntLenEnc(body[off:])
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake response connection_attrs_length: %w", err)
		}
		off += n
		end := off + int(attrsLen)
		for off < end {
			key, n, err := wire.StringLenEnc(body[off:])
			if err != nil {
				return 0, fmt.Errorf("mysql: handshake response connection attr key: %w", err)
			}
			off += n
			val, n, err := wire.StringLenEnc(body[off:])
			if err != nil {
				return 0, fmt.Errorf("mysql: handshake response connection attr value: %w", err)
			}
			off += n
			attrs[key] = val
		}
	}

	var zstdLevel uint8
	if caps.Has(ClientZSTDCompressionAlgorithm) {
		lvl, n, err := wire.IntFixedLen(body[off:], 1)
		if err != nil {
			return 0, fmt.Errorf("mysql: handshake response zstd_compression_level: %w", err)
		}
		off += n
		zstdLevel = uint8(lvl)
	}

	a.Response = HandshakeResponse{
		ClientFlag:           caps,
		MaxPacketSize:        uint32(maxPacketSize),
		CharacterSet:         uint8(charset),
		Username:             username,
		AuthResponse:         authResponse,
		Database:             database,
		ClientPluginName:     pluginName,
		ConnectionAttrs:      attrs,
		ZSTDCompressionLevel: zstdLevel,
	}
	a.complete = true
	return PhaseAuthInit, nil
}

func (a *HandshakeResponseAcc) AccumulationComplete() bool { return a.complete }

func (a *HandshakeResponseAcc) Delta() *Delta {
	caps := a.Response.ClientFlag
	return &Delta{ClientCaps: &caps}
}
