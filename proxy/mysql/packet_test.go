package mysql

import (
	"bytes"
	"testing"

	"github.com/mickamy/mysqlfaultproxy/wire"
)

func header(size uint32, seq uint8) []byte {
	return []byte{byte(size), byte(size >> 8), byte(size >> 16), seq}
}

func TestFrameSingleCompletePacket(t *testing.T) {
	buf := append(header(3, 0), []byte("abc")...)
	packets, partial, err := Frame(nil, buf, PhaseCommand)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if len(partial) != 0 {
		t.Fatalf("partial = %v, want empty", partial)
	}
	if len(packets) != 1 || string(packets[0].Body) != "abc" {
		t.Fatalf("packets = %+v, want one packet with body %q", packets, "abc")
	}
	if packets[0].Header.Seq != 0 || packets[0].Header.Size != 3 {
		t.Fatalf("header = %+v, want {size:3 seq:0}", packets[0].Header)
	}
}

func TestFrameBuffersShortRead(t *testing.T) {
	full := append(header(5, 0), []byte("hello")...)
	// Feed only the first 6 of 9 bytes: a complete header but a short body.
	packets, partial, err := Frame(nil, full[:6], PhaseCommand)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if len(packets) != 0 {
		t.Fatalf("packets = %+v, want none until the body completes", packets)
	}
	if !bytes.Equal(partial, full[:6]) {
		t.Fatalf("partial = % x, want % x", partial, full[:6])
	}

	packets, partial, err = Frame(partial, full[6:], PhaseCommand)
	if err != nil {
		t.Fatalf("Frame (continuation): %v", err)
	}
	if len(partial) != 0 {
		t.Fatalf("partial = %v, want empty once the packet completes", partial)
	}
	if len(packets) != 1 || string(packets[0].Body) != "hello" {
		t.Fatalf("packets = %+v, want one packet with body %q", packets, "hello")
	}
}

func TestFrameOutOfOrderPacketIsFatal(t *testing.T) {
	// seq 5 then seq 7: the framer must reject the gap rather than silently
	// accept it.
	buf := append(header(1, 5), byte('a'))
	buf = append(buf, header(1, 7)...)
	buf = append(buf, byte('b'))

	if _, _, err := Frame(nil, buf, PhaseCommand); err == nil {
		t.Fatal("expected an error for an out-of-order packet sequence")
	}
}

func TestFrameSequenceWrapsAt256(t *testing.T) {
	buf := append(header(1, 255), byte('a'))
	buf = append(buf, header(1, 0)...)
	buf = append(buf, byte('b'))

	packets, _, err := Frame(nil, buf, PhaseCommand)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
}

func TestReframeDropsSkippedAndShiftsSequence(t *testing.T) {
	packets := []Packet{
		{Header: PacketHeader{Size: 1, Seq: 10}, Body: []byte("a"), SkipOffset: 0},
		{Header: PacketHeader{Size: 1, Seq: 11}, Body: []byte("b"), Skip: true, SkipOffset: 1},
		{Header: PacketHeader{Size: 1, Seq: 12}, Body: []byte("c"), SkipOffset: 1},
	}
	out := Reframe(packets)

	seqs, bodies := splitFramed(t, out)
	if !bytes.Equal(seqs, []byte{10, 11}) {
		t.Fatalf("seqs = %v, want [10 11]", seqs)
	}
	if bodies[0] != "a" || bodies[1] != "c" {
		t.Fatalf("bodies = %v, want [a c]", bodies)
	}
}

// TestReframeRepairsSequenceAcrossBatches is the regression test for the bug
// where Reframe's sequence-shift counter reset to zero on every call instead
// of carrying the response's cumulative skip count: a response whose
// suppressed row and terminator arrive in separate Read() batches used to
// come out with a gap in the sequence numbers.
func TestReframeRepairsSequenceAcrossBatches(t *testing.T) {
	batch1 := []Packet{
		{Header: PacketHeader{Size: 1, Seq: 10}, Body: []byte("row1"), SkipOffset: 0},
		{Header: PacketHeader{Size: 1, Seq: 11}, Body: []byte("row2"), Skip: true, SkipOffset: 1},
	}
	batch2 := []Packet{
		{Header: PacketHeader{Size: 1, Seq: 12}, Body: []byte("row3"), SkipOffset: 1},
		{Header: PacketHeader{Size: 1, Seq: 13}, Body: []byte("term"), SkipOffset: 1},
	}

	out := append(Reframe(batch1), Reframe(batch2)...)

	seqs, _ := splitFramed(t, out)
	want := []byte{10, 11, 12}
	if !bytes.Equal(seqs, want) {
		t.Fatalf("seqs across batches = %v, want %v (contiguous mod 256)", seqs, want)
	}
}

// splitFramed decodes a Reframe'd byte stream back into its sequence numbers
// and bodies, for assertions.
func splitFramed(t *testing.T, buf []byte) ([]byte, []string) {
	t.Helper()
	var seqs []byte
	var bodies []string
	off := 0
	for off < len(buf) {
		if len(buf)-off < 4 {
			t.Fatalf("truncated header at offset %d", off)
		}
		size := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16
		seq := buf[off+3]
		body := buf[off+4 : off+4+int(size)]
		seqs = append(seqs, seq)
		bodies = append(bodies, string(body))
		off += 4 + int(size)
	}
	return seqs, bodies
}

func TestClassifyHeuristic(t *testing.T) {
	cases := []struct {
		name  string
		body  []byte
		phase Phase
		want  PacketType
	}{
		{"ok", append([]byte{0x00}, make([]byte, 10)...), PhaseCommand, TypeOk},
		{"eof short", []byte{0xFE, 0x00, 0x00}, PhaseCommand, TypeEof},
		{"eof at size boundary", append([]byte{0xFE}, make([]byte, 8)...), PhaseCommand, TypeEof},
		{"long-int-like 0xFE is not eof past size boundary", append([]byte{0xFE}, make([]byte, 9)...), PhaseCommand, TypeOther},
		{"error", []byte{0xFF, 0x01, 0x02}, PhaseCommand, TypeError},
		{"command", []byte{0x03, 'x'}, PhaseCommand, TypeCommand},
		{"other outside command phase", []byte{0x03, 'x'}, PhasePendingResponse, TypeOther},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classify(c.body, c.phase); got != c.want {
				t.Errorf("classify(%v, %s) = %s, want %s", c.body, c.phase, got, c.want)
			}
		})
	}
}

// TestResponseAccumulatorBareOkReply covers statements that produce no
// result set: the server answers a COM_QUERY with a single Ok packet, which
// must complete the response immediately instead of being misread as a
// zero-value column count.
func TestResponseAccumulatorBareOkReply(t *testing.T) {
	sess := &Session{
		ClientCaps:  ClientProtocol41,
		LastCommand: &Command{Code: ComQuery, Arg: []byte("SET autocommit=1")},
	}
	resp := &ResponseAccumulator{}
	sess.Response = resp

	ok := &Packet{Header: PacketHeader{Size: 7, Seq: 1}, Body: []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}, Type: TypeOk}
	phase, err := resp.Consume(ok, sess)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if phase != PhaseCommand {
		t.Fatalf("phase = %s, want Command", phase)
	}
	if !resp.AccumulationComplete() {
		t.Fatal("expected accumulation complete after a bare Ok reply")
	}
	if resp.Ok == nil {
		t.Fatal("expected the Ok payload to be recorded")
	}
}

// coldefBody builds a minimal but well-formed ColumnDefinition41 body.
func coldefBody(name string) []byte {
	var b []byte
	for _, s := range []string{"def", "", "", "", name, ""} {
		b = append(b, wire.EncodeStringLenEnc(s)...)
	}
	b = append(b, wire.EncodeIntLenEnc(0x0c)...)
	b = append(b, wire.EncodeIntFixedLen(0x21, 2)...) // character_set
	b = append(b, wire.EncodeIntFixedLen(11, 4)...)   // column_length
	b = append(b, wire.EncodeIntFixedLen(8, 1)...)    // field_type: longlong
	b = append(b, wire.EncodeIntFixedLen(0, 2)...)    // flags
	b = append(b, wire.EncodeIntFixedLen(0, 1)...)    // decimals
	b = append(b, wire.EncodeIntFixedLen(0, 2)...)    // reserved
	return b
}

// TestResponseAccumulatorPrepareOkPath walks a COM_STMT_PREPARE reply with
// two parameters and one column through the accumulator: prepare-ok, param
// definitions, Eof, column definition, Eof. The final Eof must complete the
// response; no trailing packet follows a prepare reply.
func TestResponseAccumulatorPrepareOkPath(t *testing.T) {
	sess := &Session{
		ClientCaps:  ClientProtocol41,
		LastCommand: &Command{Code: ComStmtPrepare, Arg: []byte("SELECT ? + ?")},
	}
	resp := &ResponseAccumulator{}
	sess.Response = resp

	prepareOK := []byte{0x00}
	prepareOK = append(prepareOK, wire.EncodeIntFixedLen(1, 4)...) // statement_id
	prepareOK = append(prepareOK, wire.EncodeIntFixedLen(1, 2)...) // num_columns
	prepareOK = append(prepareOK, wire.EncodeIntFixedLen(2, 2)...) // num_params
	prepareOK = append(prepareOK, 0x00)                            // filler
	prepareOK = append(prepareOK, wire.EncodeIntFixedLen(0, 2)...) // warning_count

	eof := []byte{0xFE, 0x00, 0x00, 0x02, 0x00}
	packets := []*Packet{
		{Body: prepareOK, Type: TypeOk},
		{Body: coldefBody("?"), Type: TypeOther},
		{Body: coldefBody("?"), Type: TypeOther},
		{Body: eof, Type: TypeEof},
		{Body: coldefBody("? + ?"), Type: TypeOther},
		{Body: eof, Type: TypeEof},
	}

	var phase Phase
	for i, p := range packets {
		var err error
		phase, err = resp.Consume(p, sess)
		if err != nil {
			t.Fatalf("Consume packet %d: %v", i, err)
		}
		if i < len(packets)-1 && resp.AccumulationComplete() {
			t.Fatalf("accumulation complete after packet %d, want only after the final Eof", i)
		}
	}

	if phase != PhaseCommand {
		t.Fatalf("phase = %s, want Command after the final Eof", phase)
	}
	if !resp.AccumulationComplete() {
		t.Fatal("expected accumulation complete after the final Eof")
	}
	if resp.prepare == nil || resp.prepare.NumParams != 2 || resp.prepare.NumColumns != 1 {
		t.Fatalf("prepare = %+v, want 2 params and 1 column", resp.prepare)
	}
	if len(resp.prepareParams) != 2 || len(resp.prepareColumns) != 1 {
		t.Fatalf("hydrated %d params and %d columns, want 2 and 1",
			len(resp.prepareParams), len(resp.prepareColumns))
	}
}

// TestResponseAccumulatorSuppressesRowAcrossBatches drives the full
// ResponseAccumulator/Reframe path the way conn.go's exchange loop does,
// split across two read batches, and checks the emitted packet stream: a
// row suppressed by the SELECT's WHERE, with every later packet's sequence
// number shifted to stay contiguous.
func TestResponseAccumulatorSuppressesRowAcrossBatches(t *testing.T) {
	cols := []ColumnDefinition{
		{Name: "id", OrgTable: "account"},
		{Name: "balance", OrgTable: "account"},
	}
	sess := &Session{
		ClientCaps: ClientProtocol41 | ClientDeprecateEOF,
		LastCommand: &Command{
			Code: ComQuery,
			Arg:  []byte(`SELECT id, balance FROM account WHERE balance = "7"`),
		},
	}
	resp := &ResponseAccumulator{state: rsHydrateRows, command: ComQuery, columns: cols}
	sess.Response = resp

	row := func(id, balance string) []byte {
		return append(wire.EncodeStringLenEnc(id), wire.EncodeStringLenEnc(balance)...)
	}

	row1 := &Packet{Header: PacketHeader{Size: 0, Seq: 10}, Body: row("1", "7"), Type: TypeOther}
	row2 := &Packet{Header: PacketHeader{Size: 0, Seq: 11}, Body: row("2", "8"), Type: TypeOther}
	row3 := &Packet{Header: PacketHeader{Size: 0, Seq: 12}, Body: row("3", "7"), Type: TypeOther}
	term := &Packet{Header: PacketHeader{Size: 0, Seq: 13}, Body: []byte{0x00, 0, 0, 0, 0, 0, 0}, Type: TypeOk}

	batch1 := []*Packet{row1, row2}
	batch2 := []*Packet{row3, term}

	consume := func(pkts []*Packet) []Packet {
		out := make([]Packet, 0, len(pkts))
		for _, p := range pkts {
			if _, err := resp.Consume(p, sess); err != nil {
				t.Fatalf("Consume: %v", err)
			}
			p.SkipOffset = resp.SkippedPackets()
			out = append(out, *p)
		}
		return out
	}

	out := append(Reframe(consume(batch1)), Reframe(consume(batch2))...)

	seqs, _ := splitFramed(t, out)
	want := []byte{10, 11, 12}
	if !bytes.Equal(seqs, want) {
		t.Fatalf("seqs = %v, want %v (row2 suppressed, row3/term shifted down by one)", seqs, want)
	}
	if !resp.AccumulationComplete() {
		t.Fatal("expected the response accumulator to be complete after the terminating Ok")
	}
}
