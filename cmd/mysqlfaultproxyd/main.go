// Command mysqlfaultproxyd runs the MySQL wire-protocol fault-injection
// proxy as a standalone daemon, configured entirely from the environment
// (see the config package) plus a couple of CLI niceties.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mickamy/mysqlfaultproxy/config"
	"github.com/mickamy/mysqlfaultproxy/detect"
	pkgproxy "github.com/mickamy/mysqlfaultproxy/proxy"
	"github.com/mickamy/mysqlfaultproxy/proxy/mysql"
	"github.com/mickamy/mysqlfaultproxy/query"
	"github.com/mickamy/mysqlfaultproxy/replay"
	"github.com/mickamy/mysqlfaultproxy/statediff"
	"github.com/mickamy/mysqlfaultproxy/tui"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mysqlfaultproxyd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mysqlfaultproxyd — MySQL wire-protocol fault-injection proxy\n\nUsage:\n  mysqlfaultproxyd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration is read entirely from the environment: BIND_ADDRESS, "+
			"TARGET_ADDRESS, INTERCEPT_WRITES, PANIC_ON_UNSUPPORTED_QUERY, DIFF_TTL, DELAY_<TOKEN>, "+
			"kafka_replay_log_enable, kafka_replay_response_enable, KAFKA_HOST, KAFKA_TOPIC.\n")
	}
	showVersion := fs.Bool("version", false, "show version and exit")
	withTUI := fs.Bool("tui", false, "run the interactive session console instead of logging to stderr")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mysqlfaultproxyd %s\n", version)
		return
	}

	if err := run(*withTUI); err != nil {
		log.Fatal(err)
	}
}

func run(withTUI bool) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	diffStore := statediff.NewStore(cfg.DiffTTL)
	replayStore := replay.NewStore(cfg.DiffTTL)
	bus := replay.NewBus(cfg.KafkaHost, cfg.KafkaTopic, cfg.KafkaReplayLogEnable, cfg.KafkaReplayRespEnable)
	defer func() { _ = bus.Close() }()

	if cfg.KafkaReplayRespEnable {
		go bus.Consume(ctx, replayStore)
	}

	p := mysql.New(cfg.BindAddress, cfg.TargetAddress)
	p.InterceptWrites = cfg.InterceptWrites
	p.LogUnsupportedQueries = cfg.PanicOnUnsupportedQuery
	p.DiffStore = diffStore
	p.ReplayBus = bus
	p.ReplayStore = replayStore

	if withTUI {
		go func() {
			if err := tui.Run(p.Events()); err != nil {
				log.Printf("console: %v", err)
			}
			stop()
		}()
	} else {
		go logEvents(p.Events())
	}

	log.Printf("proxying %s -> %s (intercept_writes=%t)", cfg.BindAddress, cfg.TargetAddress, cfg.InterceptWrites)
	if err := p.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	return nil
}

// logEvents is the default operator-visibility sink: every notable session
// event gets one log line, plus a burst alert when the same statement shape
// floods through (the N+1 pattern the example client simulates). A richer
// console lives in the tui package.
func logEvents(events <-chan pkgproxy.Event) {
	bursts := detect.New(10, time.Second, 10*time.Second)
	for ev := range events {
		switch ev.Kind {
		case pkgproxy.EventCommand:
			log.Printf("session %s: %s (%s)", ev.SessionID, ev.Detail, query.Normalize(ev.Detail))
			if a := bursts.Observe(ev.Detail, ev.Time); a != nil {
				log.Printf("burst: %q seen %d times within 1s", a.Query, a.Count)
			}
		case pkgproxy.EventIntercepted:
			log.Printf("session %s: intercepted write %q -> %q", ev.SessionID, ev.Detail, query.Normalize(ev.Detail))
		case pkgproxy.EventDelay:
			log.Printf("session %s: delay %s", ev.SessionID, ev.Detail)
		case pkgproxy.EventTLSUpgrade:
			log.Printf("session %s: upgraded to TLS", ev.SessionID)
		case pkgproxy.EventError:
			log.Printf("session %s: %s", ev.SessionID, ev.Detail)
		}
	}
}
