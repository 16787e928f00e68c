package mysql

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/mickamy/mysqlfaultproxy/statediff"
)

// insertIDCounter is the process-global monotonically-increasing
// last_insert_id handed out for synthesized INSERT Ok packets. Only the
// bottom 8 bits are ever surfaced; wraparound is tolerated.
var insertIDCounter atomic.Uint32

func nextFakeInsertID() uint64 {
	return uint64(insertIDCounter.Add(1) & 0xFF)
}

// interceptWrite answers write statements locally: when interception is
// enabled and the just-framed client packet is a single COM_QUERY beginning
// with insert/update/delete, synthesize a fake Ok instead of forwarding the
// statement upstream, recording any UPDATE as a state-diff overlay entry.
// It reports whether the packet was intercepted (the caller must then skip
// forwarding it upstream).
func interceptWrite(pkt *Packet, cmd Command, sess *Session) (bool, error) {
	if !sess.InterceptWrites || cmd.Code != ComQuery {
		return false, nil
	}

	query := cmd.Query()
	kind := statediff.ClassifyQuery(query)
	if kind == statediff.StatementOther {
		return false, nil
	}

	if kind == statediff.StatementUpdate {
		recordUpdateDiff(sess, query)
	}

	var lastInsertID uint64
	if kind == statediff.StatementInsert {
		lastInsertID = nextFakeInsertID()
	}

	ok := OkData{AffectedRows: 1, LastInsertID: lastInsertID}
	body := EncodeOkData(ok, sess.ClientCaps)
	reply := Packet{
		Header: PacketHeader{Size: uint32(len(body)), Seq: pkt.Header.Seq + 1},
		Body:   body,
		Type:   TypeOk,
	}
	if _, err := sess.ClientTransport.Write(reply.Bytes()); err != nil {
		return true, fmt.Errorf("mysql: write intercepted Ok: %w", err)
	}

	sess.Phase = PhaseCommand
	return true, nil
}

// recordUpdateDiff parses query as an UPDATE and inserts its
// {predicate, assignments} into sess.DiffStore under its target table.
// Unsupported UPDATE shapes are logged and dropped; they never fail the
// session.
func recordUpdateDiff(sess *Session, query string) {
	if sess.DiffStore == nil {
		return
	}
	stmt, err := statediff.ParseStatement(query)
	if err != nil {
		log.Printf("mysql: write interception: parse %q: %v", query, err)
		return
	}
	table, predicate, assignments, err := statediff.ExtractUpdate(stmt)
	if err != nil {
		log.Printf("mysql: write interception: extract UPDATE %q: %v", query, err)
		return
	}
	sess.DiffStore.Insert(table, predicate, assignments)
}
