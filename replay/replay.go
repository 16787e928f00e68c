// Package replay implements the optional cross-process replay bus: a
// background consumer tails a Kafka topic for previously captured
// {last_command, output} pairs into a concurrent store that sessions look
// up after a COM_QUERY response. A hit is only logged: sessions always
// forward the live reply and never substitute a stored one.
// Publishing and consuming are both gated by separate environment flags; a
// connect or consume failure is logged and the session proceeds without
// replay.
package replay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Entry is one captured response, keyed by the exact command string that
// produced it.
type Entry struct {
	LastCommand string `json:"last_command"`
	Output      []byte `json:"output"`
}

type record struct {
	entry     Entry
	expiresAt time.Time
}

// Store is the concurrent command_string → base64_output map populated by
// a single background consumer and polled by sessions in the S→C half.
// It shares its TTL source with statediff.Store so both caches expire on
// the same clock.
type Store struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]record
}

// NewStore creates a Store whose entries expire after ttl (0 ⇒ never).
func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, entries: make(map[string]record)}
}

// Put inserts or overwrites the entry for command.
func (s *Store) Put(e Entry) {
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.LastCommand] = record{entry: e, expiresAt: expiresAt}
}

// Lookup returns the replay entry for command, if any, lazily evicting it
// if its TTL has elapsed.
func (s *Store) Lookup(command string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[command]
	if !ok {
		return Entry{}, false
	}
	if !rec.expiresAt.IsZero() && time.Now().After(rec.expiresAt) {
		delete(s.entries, command)
		return Entry{}, false
	}
	return rec.entry, true
}

// Bus wraps a Kafka topic used both to publish locally observed responses
// (kafka_replay_log_enable) and to consume previously published ones into a
// Store (kafka_replay_response_enable).
type Bus struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewBus dials the configured Kafka host/topic for whichever of
// publish/consume the caller enables. A nil writer/reader on the returned
// Bus means that half is disabled. NewBus itself never fails the caller:
// an unreachable broker degrades to running without replay, it does not
// abort the daemon.
func NewBus(host, topic string, enablePublish, enableConsume bool) *Bus {
	if host == "" || topic == "" || (!enablePublish && !enableConsume) {
		return &Bus{}
	}

	b := &Bus{}
	if enablePublish {
		b.writer = &kafka.Writer{
			Addr:                   kafka.TCP(host),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	if enableConsume {
		b.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{host},
			Topic:   topic,
			GroupID: "mysqlfaultproxy",
		})
	}
	return b
}

// Publish writes a captured response to the replay topic. Failures are
// logged, never returned: a publish failure must not fail the session that
// produced the response.
func (b *Bus) Publish(ctx context.Context, lastCommand string, output []byte) {
	if b.writer == nil {
		return
	}
	payload, err := json.Marshal(Entry{LastCommand: lastCommand, Output: output})
	if err != nil {
		log.Printf("replay: marshal entry: %v", err)
		return
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		log.Printf("replay: publish: %v", err)
	}
}

// Consume runs until ctx is cancelled, tailing the replay topic into store.
// Any read/unmarshal error is logged and consumption continues with the
// next message; a broker that's gone is logged once per read attempt, not
// treated as fatal to the daemon.
func (b *Bus) Consume(ctx context.Context, store *Store) {
	if b.reader == nil {
		return
	}
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("replay: consume: %v", err)
			continue
		}
		var e Entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			log.Printf("replay: unmarshal entry: %v", err)
			continue
		}
		store.Put(e)
	}
}

// Close releases the Bus's Kafka client resources.
func (b *Bus) Close() error {
	var err error
	if b.writer != nil {
		err = b.writer.Close()
	}
	if b.reader != nil {
		if cerr := b.reader.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
