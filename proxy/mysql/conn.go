package mysql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/mickamy/mysqlfaultproxy/proxy"
)

const readBufferSize = 16 * 1024

// Conn owns one accepted client connection's entire lifetime: dialing
// upstream, driving the protocol state machine, and running the
// direction-flipping exchange loop: a single-threaded, half-duplex pump
// rather than a pair of relay goroutines.
type Conn struct {
	id      string
	session *Session
	emit    func(proxy.Event)
}

func newConn(id string, clientConn, upstreamConn net.Conn, sess *Session, emit func(proxy.Event)) *Conn {
	sess.Phase = PhaseHandshake
	sess.ClientTransport = clientConn
	sess.ServerTransport = upstreamConn
	return &Conn{id: id, session: sess, emit: emit}
}

// serve drives the session until a transport closes, a protocol violation
// is detected, or auth fails. The very first half always reads the server's
// greeting, after which each half's ending phase (serverEnd/clientEnd in
// session.go) determines the next direction, so the two halves simply
// alternate.
func (c *Conn) serve(ctx context.Context) error {
	defer func() {
		_ = c.session.ClientTransport.Close()
		_ = c.session.ServerTransport.Close()
	}()

	fromServer := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.runHalf(fromServer); err != nil {
			return err
		}
		if c.session.Phase == PhaseAuthFailed {
			return nil
		}
		fromServer = !fromServer
	}
}

// runHalf reads and forwards packets in one direction until the session's
// phase crosses into the opposite direction's territory or auth terminates.
// A TLS switchover does not end the half: both transports are re-wrapped
// and reading continues in the same direction.
func (c *Conn) runHalf(fromServer bool) error {
	sess := c.session
	var respCapture []byte

	for {
		switch {
		case sess.Phase == PhaseAuthFailed:
			return nil

		case sess.Phase == PhaseTlsExchange:
			if err := switchoverToTLS(sess); err != nil {
				return err
			}
			c.emit(proxy.Event{Kind: proxy.EventTLSUpgrade, SessionID: c.id, Time: time.Now()})
			sess.Phase = PhaseHandshakeResponse
			continue
		}

		src, dst, partial := c.transports(fromServer)

		buf := make([]byte, readBufferSize)
		n, err := src.Read(buf)
		if err != nil {
			if isClosedErr(err) {
				return io.EOF
			}
			return fmt.Errorf("mysql: read: %w", err)
		}

		packets, leftover, err := Frame(*partial, buf[:n], sess.Phase)
		if err != nil {
			return err
		}
		*partial = leftover

		for i := range packets {
			if err := c.consume(&packets[i], fromServer); err != nil {
				return err
			}
		}

		out := Reframe(packets)
		if fromServer {
			respCapture = append(respCapture, out...)
		}
		if len(out) > 0 {
			if _, err := dst.Write(out); err != nil {
				return fmt.Errorf("mysql: write: %w", err)
			}
		}

		if fromServer && serverEnd[sess.Phase] {
			c.captureResponse(respCapture)
			return nil
		}
		if !fromServer && clientEnd[sess.Phase] {
			return nil
		}
	}
}

func (c *Conn) transports(fromServer bool) (src, dst net.Conn, partial *[]byte) {
	if fromServer {
		return c.session.ServerTransport, c.session.ClientTransport, &c.session.PartialServerBytes
	}
	return c.session.ClientTransport, c.session.ServerTransport, &c.session.PartialClientBytes
}

// consume feeds one framed packet through its phase's accumulator, merges
// the resulting delta, and-for a just-completed client command-runs the
// delay hook and write interception before the packet is (maybe) forwarded.
func (c *Conn) consume(pkt *Packet, fromServer bool) error {
	sess := c.session

	acc, err := accumulatorFor(sess)
	if err != nil {
		return err
	}

	nextPhase, err := acc.Consume(pkt, sess)
	if err != nil {
		return err
	}
	sess.Phase = nextPhase
	if delta := acc.Delta(); delta != nil {
		sess.Merge(*delta)
	}
	if resp, ok := acc.(*ResponseAccumulator); ok {
		pkt.SkipOffset = resp.SkippedPackets()
	}

	if _, isCommand := acc.(*CommandAcc); !fromServer && isCommand {
		return c.afterCommand(pkt)
	}
	return nil
}

// afterCommand runs the delay hook and write interception for the command
// packet just consumed.
func (c *Conn) afterCommand(pkt *Packet) error {
	sess := c.session
	cmd := *sess.LastCommand

	if d, ok := delayFor(cmd); ok {
		c.emit(proxy.Event{Kind: proxy.EventDelay, SessionID: c.id, Detail: fmt.Sprintf("%s %s", cmd.Code, d), Time: time.Now()})
		time.Sleep(d)
	}

	handled, err := interceptWrite(pkt, cmd, sess)
	if err != nil {
		return err
	}
	if handled {
		pkt.Skip = true
		c.emit(proxy.Event{Kind: proxy.EventIntercepted, SessionID: c.id, Detail: cmd.Query(), Time: time.Now()})
		return nil
	}

	detail := cmd.Code.String()
	if cmd.Code == ComQuery {
		detail = cmd.Query()
	}
	c.emit(proxy.Event{Kind: proxy.EventCommand, SessionID: c.id, Detail: detail, Time: time.Now()})
	return nil
}

// captureResponse feeds a just-completed COM_QUERY response to the replay
// bus: published for future replay when logging is enabled,
// and checked against the replay store so an operator can see a cached
// answer existed, even though this proxy always forwards the live reply.
func (c *Conn) captureResponse(raw []byte) {
	sess := c.session
	if sess.LastCommand == nil || sess.LastCommand.Code != ComQuery {
		return
	}
	query := sess.LastCommand.Query()

	if sess.ReplayStore != nil {
		if entry, found := sess.ReplayStore.Lookup(query); found {
			log.Printf("mysql: replay entry available for %q (%d bytes)", query, len(entry.Output))
		}
	}
	if sess.ReplayBus != nil {
		sess.ReplayBus.Publish(context.Background(), query, raw)
	}
}

func isClosedErr(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Err.Error() == "use of closed network connection"
	}
	return strings.Contains(err.Error(), "closed")
}
