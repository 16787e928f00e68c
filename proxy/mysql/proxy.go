// Package mysql implements a MySQL client/server wire-protocol proxy that
// sits between a client and a real MySQL server, rewriting and optionally
// intercepting traffic rather than merely observing it.
package mysql

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgproxy "github.com/mickamy/mysqlfaultproxy/proxy"
	"github.com/mickamy/mysqlfaultproxy/replay"
	"github.com/mickamy/mysqlfaultproxy/statediff"
)

const eventBufferSize = 256

var _ pkgproxy.Proxy = (*Proxy)(nil)

// Proxy accepts MySQL client connections on ListenAddress and relays each
// to TargetAddress, one Conn per accepted socket.
type Proxy struct {
	ListenAddress         string
	TargetAddress         string
	InterceptWrites       bool
	LogUnsupportedQueries bool
	DiffStore             *statediff.Store
	ReplayBus             *replay.Bus
	ReplayStore           *replay.Store

	events chan pkgproxy.Event

	mu sync.Mutex
	ln net.Listener
}

// New constructs a Proxy. DiffStore, ReplayBus, and ReplayStore may be left
// nil; a nil DiffStore simply means write interception never records
// overlay entries, and nil replay fields mean the replay bus is disabled.
func New(listenAddress, targetAddress string) *Proxy {
	return &Proxy{
		ListenAddress: listenAddress,
		TargetAddress: targetAddress,
		events:        make(chan pkgproxy.Event, eventBufferSize),
	}
}

func (p *Proxy) Events() <-chan pkgproxy.Event { return p.events }

func (p *Proxy) emit(e pkgproxy.Event) {
	select {
	case p.events <- e:
	default:
		// A slow or absent consumer must never stall a session.
	}
}

// ListenAndServe binds ListenAddress and accepts connections until ctx is
// cancelled or the listener fails.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", p.ListenAddress)
	if err != nil {
		return fmt.Errorf("mysql: listen %s: %w", p.ListenAddress, err)
	}

	p.mu.Lock()
	p.ln = ln
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		clientConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mysql: accept: %w", err)
		}
		go p.handle(ctx, clientConn)
	}
}

func (p *Proxy) handle(ctx context.Context, clientConn net.Conn) {
	id := uuid.New().String()
	defer func() { _ = clientConn.Close() }()

	var d net.Dialer
	upstreamConn, err := d.DialContext(ctx, "tcp", p.TargetAddress)
	if err != nil {
		log.Printf("mysql: dial upstream %s: %v", p.TargetAddress, err)
		return
	}
	defer func() { _ = upstreamConn.Close() }()

	sess := &Session{
		DiffStore:             p.DiffStore,
		InterceptWrites:       p.InterceptWrites,
		LogUnsupportedQueries: p.LogUnsupportedQueries,
		ReplayBus:             p.ReplayBus,
		ReplayStore:           p.ReplayStore,
	}
	c := newConn(id, clientConn, upstreamConn, sess, p.emit)

	if err := c.serve(ctx); err != nil && !isClosedErr(err) {
		log.Printf("mysql: session %s: %v", id, err)
		p.emit(pkgproxy.Event{Kind: pkgproxy.EventError, SessionID: id, Detail: err.Error(), Time: time.Now()})
	}
}

// Close stops accepting new connections. In-flight sessions run to
// completion on their own goroutines.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln != nil {
		return p.ln.Close()
	}
	return nil
}
