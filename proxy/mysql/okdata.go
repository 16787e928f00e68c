package mysql

import (
	"fmt"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

// OkData is the decoded body of an Ok packet.
type OkData struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  ServerStatus
	Warnings     uint16
}

// DecodeOkData decodes an Ok packet body. caps gates the Protocol41 fields;
// session-track payloads under ClientSessionTrack are skipped, since the
// core never inspects their content.
func DecodeOkData(body []byte, caps Capability) (OkData, error) {
	var ok OkData
	off := 1 // skip the 0x00 header byte

	affected, n, err := wire.IntLenEnc(body[off:])
	if err != nil {
		return ok, fmt.Errorf("mysql: ok affected_rows: %w", err)
	}
	off += n
	ok.AffectedRows = affected

	lastID, n, err := wire.IntLenEnc(body[off:])
	if err != nil {
		return ok, fmt.Errorf("mysql: ok last_insert_id: %w", err)
	}
	off += n
	ok.LastInsertID = lastID

	if caps.Has(ClientProtocol41) {
		status, n, err := wire.IntFixedLen(body[off:], 2)
		if err != nil {
			return ok, fmt.Errorf("mysql: ok status_flags: %w", err)
		}
		off += n
		ok.StatusFlags = ServerStatus(status)

		warnings, n, err := wire.IntFixedLen(body[off:], 2)
		if err != nil {
			return ok, fmt.Errorf("mysql: ok warnings: %w", err)
		}
		off += n
		ok.Warnings = uint16(warnings)
	}

	return ok, nil
}

// EncodeOkData encodes an Ok packet body, the inverse of DecodeOkData. It is
// used by write interception to synthesize a fake Ok in place of forwarding
// a write statement upstream.
func EncodeOkData(ok OkData, caps Capability) []byte {
	out := []byte{0x00}
	out = append(out, wire.EncodeIntLenEnc(ok.AffectedRows)...)
	out = append(out, wire.EncodeIntLenEnc(ok.LastInsertID)...)
	if caps.Has(ClientProtocol41) {
		out = append(out, wire.EncodeIntFixedLen(uint64(ok.StatusFlags), 2)...)
		out = append(out, wire.EncodeIntFixedLen(uint64(ok.Warnings), 2)...)
	}
	return out
}

// EofData is the decoded body of an Eof packet.
type EofData struct {
	Warnings    uint16
	StatusFlags ServerStatus
}

// DecodeEofData decodes an Eof packet body under the given capability set.
func DecodeEofData(body []byte, caps Capability) (EofData, error) {
	var eof EofData
	if !caps.Has(ClientProtocol41) {
		return eof, nil
	}
	if len(body) < 5 {
		return eof, fmt.Errorf("mysql: short eof packet")
	}
	warnings, n, err := wire.IntFixedLen(body[1:], 2)
	if err != nil {
		return eof, fmt.Errorf("mysql: eof warnings: %w", err)
	}
	eof.Warnings = uint16(warnings)

	status, _, err := wire.IntFixedLen(body[1+n:], 2)
	if err != nil {
		return eof, fmt.Errorf("mysql: eof status_flags: %w", err)
	}
	eof.StatusFlags = ServerStatus(status)
	return eof, nil
}

// ErrorData is the decoded body of an Error packet.
type ErrorData struct {
	Code     uint16
	SQLState string
	Message  string
}

// DecodeErrorData decodes an Error packet body. caps gates the SQL-state
// field, which MySQL only sends under ClientProtocol41.
func DecodeErrorData(body []byte, caps Capability) (ErrorData, error) {
	var e ErrorData
	off := 1 // skip 0xFF

	code, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return e, fmt.Errorf("mysql: error code: %w", err)
	}
	off += n
	e.Code = uint16(code)

	if caps.Has(ClientProtocol41) && off < len(body) && body[off] == '#' {
		off++
		sqlState, n, err := wire.StringFixedLen(body[off:], 5)
		if err != nil {
			return e, fmt.Errorf("mysql: error sql_state: %w", err)
		}
		off += n
		e.SQLState = sqlState
	}

	msg, _ := wire.StringEOFEnc(body[off:])
	e.Message = msg
	return e, nil
}
