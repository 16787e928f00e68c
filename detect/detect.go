// Package detect flags query bursts: the same normalized statement arriving
// many times within a short window, the shape an N+1 access pattern leaves
// when an application fans out per-row SELECTs through the proxy.
package detect

import (
	"sync"
	"time"

	"github.com/mickamy/mysqlfaultproxy/query"
)

// Alert reports a normalized statement that crossed the burst threshold.
type Alert struct {
	Query string
	Count int
}

// Detector counts normalized statements over a sliding window and raises an
// Alert when one crosses the threshold, at most once per cooldown per
// statement shape.
type Detector struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration

	mu        sync.Mutex
	seen      map[string][]time.Time
	lastAlert map[string]time.Time
}

// New creates a Detector.
// threshold: occurrences needed to trigger (e.g., 10).
// window: sliding window the occurrences must fall within (e.g., 1s).
// cooldown: minimum time between alerts for the same statement shape.
func New(threshold int, window, cooldown time.Duration) *Detector {
	return &Detector{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		seen:      make(map[string][]time.Time),
		lastAlert: make(map[string]time.Time),
	}
}

// Observe records one statement occurrence and returns a non-nil Alert when
// its normalized form crosses the threshold within the window, respecting
// the cooldown. Literal values are stripped first, so "WHERE id = 1" and
// "WHERE id = 2" count as the same shape.
func (d *Detector) Observe(sql string, at time.Time) *Alert {
	norm := query.Normalize(sql)
	if norm == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := at.Add(-d.window)
	times := d.seen[norm]
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	times = append(times[start:], at)
	d.seen[norm] = times

	if len(times) < d.threshold {
		return nil
	}
	if last, ok := d.lastAlert[norm]; ok && at.Sub(last) < d.cooldown {
		return nil
	}
	d.lastAlert[norm] = at
	return &Alert{Query: norm, Count: len(times)}
}
