package mysql

import (
	"fmt"
)

// PacketType classifies a packet's payload by its leading byte, payload
// length, and the session phase it was read under.
type PacketType int

const (
	TypeOther PacketType = iota
	TypeOk
	TypeEof
	TypeError
	TypeCommand
)

func (t PacketType) String() string {
	switch t {
	case TypeOk:
		return "Ok"
	case TypeEof:
		return "Eof"
	case TypeError:
		return "Error"
	case TypeCommand:
		return "Command"
	default:
		return "Other"
	}
}

// PacketHeader is the 3-byte length + 1-byte sequence prefix of every MySQL
// wire-protocol frame.
type PacketHeader struct {
	Size uint32 // 24-bit payload length
	Seq  uint8
}

func (h PacketHeader) Bytes() [4]byte {
	var out [4]byte
	out[0] = byte(h.Size)
	out[1] = byte(h.Size >> 8)
	out[2] = byte(h.Size >> 16)
	out[3] = h.Seq
	return out
}

// Packet is one fully-framed MySQL wire packet plus the bookkeeping the
// rewriting pipeline attaches to it.
type Packet struct {
	Header PacketHeader
	Body   []byte
	Type   PacketType
	Skip   bool

	// SkipOffset is the number of packets suppressed so far in the current
	// response, as of the moment this packet was consumed (inclusive of
	// this packet, if it is itself skipped). A response accumulator sets
	// this from its own cumulative, response-scoped counter so Reframe can
	// repair sequence numbers correctly even when one response spans
	// multiple read batches.
	SkipOffset int
}

// Bytes re-serializes the packet's current header and body.
func (p Packet) Bytes() []byte {
	hdr := p.Header.Bytes()
	out := make([]byte, 0, 4+len(p.Body))
	out = append(out, hdr[:]...)
	out = append(out, p.Body...)
	return out
}

// classify assigns a PacketType from the payload's leading byte, following
// the same size heuristic MySQL itself uses to disambiguate an Eof packet
// from a length-encoded-integer column count starting with 0xFE.
func classify(body []byte, phase Phase) PacketType {
	if len(body) == 0 {
		return TypeOther
	}
	switch {
	case body[0] == 0x00 && len(body) >= 7:
		return TypeOk
	case body[0] == 0xFE && len(body) <= 9:
		return TypeEof
	case body[0] == 0xFF:
		return TypeError
	case phase == PhaseCommand:
		return TypeCommand
	default:
		return TypeOther
	}
}

// Frame splits partial+newBytes into complete, sequence-classified packets,
// returning any leftover bytes that did not form a complete packet.
//
// Adjacent packets in the returned slice must satisfy
// next.Seq == (prev.Seq+1) mod 256; a violation is reported as an error,
// matching the framer's fatal-desync contract.
func Frame(partial, newBytes []byte, phase Phase) ([]Packet, []byte, error) {
	buf := make([]byte, 0, len(partial)+len(newBytes))
	buf = append(buf, partial...)
	buf = append(buf, newBytes...)

	var packets []Packet
	offset := 0

	for {
		if offset == len(buf) {
			return packets, nil, nil
		}
		if len(buf)-offset < 4 {
			return packets, buf[offset:], nil
		}

		size := uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16
		seq := buf[offset+3]

		if len(buf)-offset < 4+int(size) {
			return packets, buf[offset:], nil
		}

		body := make([]byte, size)
		copy(body, buf[offset+4:offset+4+int(size)])

		pkt := Packet{
			Header: PacketHeader{Size: size, Seq: seq},
			Body:   body,
			Type:   classify(body, phase),
		}

		if len(packets) > 0 {
			prev := packets[len(packets)-1].Header.Seq
			if (pkt.Header.Seq != 0 && prev != pkt.Header.Seq-1) || (pkt.Header.Seq == 0 && prev != 255) {
				return nil, nil, fmt.Errorf("mysql: out-of-order packet: seq %d follows seq %d", pkt.Header.Seq, prev)
			}
		}

		packets = append(packets, pkt)
		offset += 4 + int(size)
	}
}

// Reframe re-serializes a packet batch, dropping packets marked Skip and
// repairing sequence numbers so the emitted subset stays contiguous modulo
// 256. The repair uses each packet's own SkipOffset rather than a counter
// local to this batch, so a response whose suppressed rows and terminator
// straddle more than one Read() call still comes out contiguous: the
// response accumulator's cumulative skip count is carried on the packet
// itself, not reset per batch.
func Reframe(packets []Packet) []byte {
	var out []byte
	for _, p := range packets {
		if p.Skip {
			continue
		}
		seq := p.Header.Seq - uint8(p.SkipOffset) //nolint:gosec // modulo-256 wraparound is intentional
		p.Header.Seq = seq
		p.Header.Size = uint32(len(p.Body))
		out = append(out, p.Bytes()...)
	}
	return out
}
