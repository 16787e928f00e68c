package mysql

import (
	"fmt"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

// rsState is the Response Accumulator's internal sub-state machine, reset
// every time a new command starts.
type rsState int

const (
	rsInitiated rsState = iota
	rsMetaExchange
	rsColumnCount
	rsHydrateColumns
	rsColumnsHydrated
	rsHydrateRows
	rsPrepareParams
	rsPrepareParamEOF
	rsPrepareColumns
	rsPrepareColumnEOF
	rsComplete
)

// PrepareOK is the decoded body of a COM_STMT_PREPARE_OK packet.
type PrepareOK struct {
	Status          byte
	StatementID     uint32
	NumColumns      uint16
	NumParams       uint16
	WarningCount    uint16
	MetadataFollows *byte
}

func decodePrepareOK(body []byte, caps Capability) (PrepareOK, error) {
	var ok PrepareOK
	if len(body) < 12 {
		return ok, fmt.Errorf("mysql: short COM_STMT_PREPARE_OK packet")
	}
	ok.Status = body[0]
	off := 1

	stmtID, n, err := wire.IntFixedLen(body[off:], 4)
	if err != nil {
		return ok, fmt.Errorf("mysql: prepare_ok statement_id: %w", err)
	}
	off += n
	ok.StatementID = uint32(stmtID)

	numCols, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return ok, fmt.Errorf("mysql: prepare_ok num_columns: %w", err)
	}
	off += n
	ok.NumColumns = uint16(numCols)

	numParams, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return ok, fmt.Errorf("mysql: prepare_ok num_params: %w", err)
	}
	off += n
	ok.NumParams = uint16(numParams)

	off++ // reserved filler byte

	warnings, n, err := wire.IntFixedLen(body[off:], 2)
	if err != nil {
		return ok, fmt.Errorf("mysql: prepare_ok warning_count: %w", err)
	}
	off += n
	ok.WarningCount = uint16(warnings)

	if caps.Has(ClientOptionalResultSetMetadata) && off < len(body) {
		b := body[off]
		ok.MetadataFollows = &b
	}
	return ok, nil
}

// ResponseAccumulator drives the Command→Response half of a round trip: it
// reads however many packets the server's reply takes, rewrites row
// contents via RowRewrite as they pass through, and reports the accumulated
// result back to the session once the reply is fully framed.
type ResponseAccumulator struct {
	state rsState

	command     CommandCode
	opaqueRows  bool // COM_STMT_EXECUTE rows are binary-encoded; no rewrite
	metaFollows bool
	columnCount int
	columns     []ColumnDefinition
	selectWhere whereLookup
	skippedPkts int

	prepare        *PrepareOK
	prepareParams  []ColumnDefinition
	prepareColumns []ColumnDefinition

	Error    *ErrorData
	Ok       *OkData
	complete bool
}

// whereLookup lazily parses the current command's SQL once, memoizing both
// the "did we try" bit and the result so repeated rows don't re-parse.
type whereLookup struct {
	tried bool
	expr  any // sqlparser.Expr, boxed to avoid importing sqlparser into every mysql/ file
}

func (r *ResponseAccumulator) Consume(pkt *Packet, sess *Session) (Phase, error) {
	if sess.LastCommand == nil {
		return 0, fmt.Errorf("mysql: response accumulator invoked with no pending command")
	}
	if r.state == rsInitiated && r.command == 0 {
		r.command = sess.LastCommand.Code
	}

	for {
		phase, reprocess, err := r.step(pkt, sess)
		if err != nil {
			return 0, err
		}
		if !reprocess {
			return phase, nil
		}
	}
}

// step advances the state machine by (up to) one packet. reprocess reports
// whether the same packet must be fed through the new state immediately
// after a transition that consumed no bytes.
func (r *ResponseAccumulator) step(pkt *Packet, sess *Session) (Phase, bool, error) {
	if pkt.Type == TypeError && r.state != rsComplete {
		errData, err := DecodeErrorData(pkt.Body, sess.ClientCaps)
		if err != nil {
			return 0, false, err
		}
		r.Error = &errData
		r.state = rsComplete
		return sess.Phase, true, nil
	}

	switch r.state {
	case rsInitiated:
		return r.stepInitiated(pkt, sess)

	case rsMetaExchange:
		if len(pkt.Body) < 1 {
			return 0, false, fmt.Errorf("mysql: short metadata-exchange packet")
		}
		r.metaFollows = pkt.Body[0] == 1
		r.state = rsColumnCount
		return sess.Phase, false, nil

	case rsColumnCount:
		count, _, err := wire.IntLenEnc(pkt.Body)
		if err != nil {
			return 0, false, fmt.Errorf("mysql: column_count: %w", err)
		}
		r.columnCount = int(count)
		if r.columnCount == 0 {
			r.state = rsComplete
			return sess.Phase, true, nil
		}
		// Under ClientOptionalResultSetMetadata the server omits the column
		// definition block entirely when the metadata-follows byte said so.
		if sess.ClientCaps.Has(ClientOptionalResultSetMetadata) && !r.metaFollows {
			r.state = rsColumnsHydrated
		} else {
			r.state = rsHydrateColumns
		}
		return sess.Phase, false, nil

	case rsHydrateColumns:
		// COM_FIELD_LIST carries no up-front column_count; its column stream
		// is terminated by an Eof instead.
		if pkt.Type == TypeEof && r.command == ComFieldList {
			r.state = rsComplete
			return sess.Phase, true, nil
		}
		col, err := DecodeColumnDefinition41(pkt.Body)
		if err != nil {
			return 0, false, fmt.Errorf("mysql: column definition: %w", err)
		}
		r.columns = append(r.columns, col)
		if r.columnCount >= 0 && len(r.columns) == r.columnCount {
			r.state = rsColumnsHydrated
		}
		return sess.Phase, false, nil

	case rsColumnsHydrated:
		if sess.ClientCaps.Has(ClientDeprecateEOF) {
			r.state = rsHydrateRows
			return sess.Phase, true, nil
		}
		if pkt.Type != TypeEof {
			return 0, false, fmt.Errorf("mysql: expected Eof terminating column definitions, got %s", pkt.Type)
		}
		r.state = rsHydrateRows
		return sess.Phase, false, nil

	case rsHydrateRows:
		return r.stepHydrateRows(pkt, sess)

	case rsPrepareParams:
		col, err := DecodeColumnDefinition41(pkt.Body)
		if err != nil {
			return 0, false, fmt.Errorf("mysql: prepare param definition: %w", err)
		}
		r.prepareParams = append(r.prepareParams, col)
		if len(r.prepareParams) == int(r.prepare.NumParams) {
			if sess.ClientCaps.Has(ClientDeprecateEOF) {
				return r.afterPrepareParams(sess)
			}
			r.state = rsPrepareParamEOF
		}
		return sess.Phase, false, nil

	case rsPrepareParamEOF:
		if pkt.Type != TypeEof {
			return 0, false, fmt.Errorf("mysql: expected Eof terminating prepare params, got %s", pkt.Type)
		}
		return r.afterPrepareParams(sess)

	case rsPrepareColumns:
		col, err := DecodeColumnDefinition41(pkt.Body)
		if err != nil {
			return 0, false, fmt.Errorf("mysql: prepare column definition: %w", err)
		}
		r.prepareColumns = append(r.prepareColumns, col)
		if len(r.prepareColumns) == int(r.prepare.NumColumns) {
			if sess.ClientCaps.Has(ClientDeprecateEOF) {
				return r.finishPrepare()
			}
			r.state = rsPrepareColumnEOF
		}
		return sess.Phase, false, nil

	case rsPrepareColumnEOF:
		if pkt.Type != TypeEof {
			return 0, false, fmt.Errorf("mysql: expected Eof terminating prepare columns, got %s", pkt.Type)
		}
		return r.finishPrepare()

	case rsComplete:
		if pkt.Type == TypeOk {
			ok, err := DecodeOkData(pkt.Body, sess.ClientCaps)
			if err != nil {
				return 0, false, err
			}
			r.Ok = &ok
		}
		r.complete = true
		return PhaseCommand, false, nil

	default:
		return 0, false, fmt.Errorf("mysql: unhandled response accumulator state %d", r.state)
	}
}

func (r *ResponseAccumulator) stepInitiated(pkt *Packet, sess *Session) (Phase, bool, error) {
	switch r.command {
	case ComStmtPrepare:
		// Prepare-ok is itself the first packet: decode it in place, then
		// decide whether param/column definitions follow.
		prep, err := decodePrepareOK(pkt.Body, sess.ClientCaps)
		if err != nil {
			return 0, false, err
		}
		r.prepare = &prep
		switch {
		case prep.NumParams > 0:
			r.state = rsPrepareParams
		case prep.NumColumns > 0:
			r.state = rsPrepareColumns
		default:
			return r.finishPrepare()
		}
		return sess.Phase, false, nil

	case ComStmtReset, ComStmtClose, ComQuit, ComPing, ComInitDB:
		r.state = rsComplete
		return sess.Phase, true, nil

	case ComFieldList:
		r.state = rsHydrateColumns
		r.columnCount = -1 // ComFieldList has no up-front column_count; terminated by Eof instead
		return sess.Phase, true, nil

	case ComStmtExecute:
		r.opaqueRows = true
		fallthrough
	case ComQuery:
		// A statement that produces no result set (INSERT, SET, ...) answers
		// with a bare Ok; there is no column count to parse.
		if pkt.Type == TypeOk {
			r.state = rsComplete
			return sess.Phase, true, nil
		}
		if sess.ClientCaps.Has(ClientOptionalResultSetMetadata) {
			r.state = rsMetaExchange
		} else {
			r.state = rsColumnCount
		}
		return sess.Phase, true, nil

	default:
		r.state = rsComplete
		return sess.Phase, true, nil
	}
}

// afterPrepareParams moves past the parameter-definition block: on to the
// column definitions if the statement produces any, otherwise the prepare
// response is over.
func (r *ResponseAccumulator) afterPrepareParams(sess *Session) (Phase, bool, error) {
	if r.prepare.NumColumns > 0 {
		r.state = rsPrepareColumns
		return sess.Phase, false, nil
	}
	return r.finishPrepare()
}

// finishPrepare marks a COM_STMT_PREPARE response complete. Unlike the text
// result-set path there is no trailing packet: the final definition (or its
// Eof) has already been consumed.
func (r *ResponseAccumulator) finishPrepare() (Phase, bool, error) {
	r.state = rsComplete
	r.complete = true
	return PhaseCommand, false, nil
}

func (r *ResponseAccumulator) stepHydrateRows(pkt *Packet, sess *Session) (Phase, bool, error) {
	switch pkt.Type {
	case TypeOther:
		// Binary-protocol rows and rows whose column metadata the server
		// never sent pass through untouched; rewriting needs decoded columns.
		if r.opaqueRows || len(r.columns) == 0 {
			return sess.Phase, false, nil
		}
		if err := rowRewrite(pkt, sess, r.columns, &r.selectWhere); err != nil {
			return 0, false, err
		}
		if pkt.Skip {
			r.skippedPkts++
		}
		return sess.Phase, false, nil

	case TypeOk:
		ok, err := DecodeOkData(pkt.Body, sess.ClientCaps)
		if err != nil {
			return 0, false, err
		}
		r.Ok = &ok
		if ok.StatusFlags.Has(ServerMoreResultsExist) {
			// This terminator is consumed here; the next packet opens the
			// next result set.
			r.resetForNextResultSet()
			return sess.Phase, false, nil
		}
		r.state = rsComplete
		return sess.Phase, true, nil

	case TypeEof:
		eof, err := DecodeEofData(pkt.Body, sess.ClientCaps)
		if err != nil {
			return 0, false, err
		}
		if eof.StatusFlags.Has(ServerMoreResultsExist) {
			r.resetForNextResultSet()
			return sess.Phase, false, nil
		}
		r.state = rsComplete
		return sess.Phase, true, nil

	default:
		r.state = rsComplete
		return sess.Phase, true, nil
	}
}

func (r *ResponseAccumulator) resetForNextResultSet() {
	r.state = rsInitiated
	r.columns = nil
	r.columnCount = 0
	r.metaFollows = false
	r.selectWhere = whereLookup{}
}

func (r *ResponseAccumulator) AccumulationComplete() bool { return r.complete }

func (r *ResponseAccumulator) Delta() *Delta {
	return &Delta{Response: r}
}

// SkippedPackets reports how many rows RowRewrite suppressed in this
// response, the value Reframe uses to repair sequence numbers.
func (r *ResponseAccumulator) SkippedPackets() int { return r.skippedPkts }
