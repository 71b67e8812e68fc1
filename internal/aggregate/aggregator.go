// Package aggregate maintains time-windowed rollups of verification quality
// metrics for the dashboard read path.
//
// Events are folded incrementally into fixed-size time buckets per window;
// snapshots sum the buckets covering the trailing window span, so old data
// ages out without replaying events. Snapshots are cached per
// window-plus-filter key with a TTL; expired keys are recomputed exactly once
// per key regardless of reader concurrency (singleflight), and a recompute
// failure serves the last-known entry flagged stale instead of failing the
// read.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tan-res-space/rag-interface-sub006/internal/quality"
)

// WindowConfig describes one named trailing window.
type WindowConfig struct {
	// Key names the window in snapshot requests (e.g. "24h", "7d").
	Key string

	// Span is the trailing duration the window covers.
	Span time.Duration

	// TTL is how long a cached snapshot of this window stays fresh. Shorter
	// windows typically get shorter TTLs.
	TTL time.Duration

	// Bucket is the fold granularity. Zero selects a default of Span/96,
	// floored at one minute.
	Bucket time.Duration
}

func (w WindowConfig) bucketSize() time.Duration {
	if w.Bucket > 0 {
		return w.Bucket
	}
	b := w.Span / 96
	if b < time.Minute {
		b = time.Minute
	}
	return b
}

// Sample is one verification outcome folded into the windows.
type Sample struct {
	Timestamp  time.Time
	Metrics    quality.Metrics
	Status     string
	Categories []string
}

// Snapshot is an aggregate view over one window, optionally restricted to a
// single category.
type Snapshot struct {
	WindowKey string    `json:"window_key"`
	Category  string    `json:"category,omitempty"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`

	Count          int64   `json:"count"`
	MeanWER        float64 `json:"mean_word_error_rate"`
	MeanAccuracy   float64 `json:"mean_accuracy"`
	MeanSimilarity float64 `json:"mean_similarity"`
	MeanConfidence float64 `json:"mean_confidence"`

	StatusCounts   map[string]int64 `json:"status_counts"`
	CategoryCounts map[string]int64 `json:"category_counts"`

	// Cache metadata.
	ComputedAt time.Time `json:"computed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Stale      bool      `json:"stale,omitempty"`
}

// ErrUnknownWindow reports a snapshot request for an unconfigured window key.
var ErrUnknownWindow = fmt.Errorf("unknown aggregation window")

// sums is an incremental aggregate over a set of samples.
type sums struct {
	count      int64
	wer        float64
	accuracy   float64
	similarity float64
	confidence float64
}

func (s *sums) add(m quality.Metrics) {
	s.count++
	s.wer += m.WordErrorRate
	s.accuracy += m.Accuracy
	s.similarity += m.Similarity
	s.confidence += m.Confidence
}

// bucket aggregates all samples of one time slice: overall sums plus
// per-category sums and per-status counts.
type bucket struct {
	all        sums
	byCategory map[string]*sums
	byStatus   map[string]int64
}

func newBucket() *bucket {
	return &bucket{
		byCategory: make(map[string]*sums),
		byStatus:   make(map[string]int64),
	}
}

// window is the runtime state of one configured window.
type window struct {
	cfg WindowConfig

	mu      sync.Mutex
	buckets map[int64]*bucket
}

// Filters narrow a snapshot request. The cache key encodes them.
type Filters struct {
	// Category restricts the aggregate to samples tagged with this category.
	Category string
}

func (f Filters) key() string {
	var parts []string
	if f.Category != "" {
		parts = append(parts, "category="+f.Category)
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// Aggregator folds verification outcomes into windows and serves cached
// snapshots. Safe for concurrent use.
type Aggregator struct {
	windows map[string]*window

	mu      sync.Mutex
	cache   map[string]*Snapshot
	flights singleflight.Group
	now     func() time.Time

	// recomputes counts cache recomputations, exposed for observability.
	recomputes atomic.Int64
}

// Recomputes returns the number of cache recomputations performed so far.
func (a *Aggregator) Recomputes() int64 { return a.recomputes.Load() }

// New creates an [Aggregator] with the given windows. Duplicate keys and
// non-positive spans are rejected.
func New(windows []WindowConfig) (*Aggregator, error) {
	a := &Aggregator{
		windows: make(map[string]*window, len(windows)),
		cache:   make(map[string]*Snapshot),
		now:     time.Now,
	}
	for _, cfg := range windows {
		if cfg.Key == "" {
			return nil, fmt.Errorf("aggregate: window key is required")
		}
		if cfg.Span <= 0 {
			return nil, fmt.Errorf("aggregate: window %s: span must be positive", cfg.Key)
		}
		if _, dup := a.windows[cfg.Key]; dup {
			return nil, fmt.Errorf("aggregate: window key %q is a duplicate", cfg.Key)
		}
		a.windows[cfg.Key] = &window{cfg: cfg, buckets: make(map[int64]*bucket)}
	}
	return a, nil
}

// Fold adds sample to every window whose trailing range includes the sample
// timestamp. Events older than a window's span are skipped for that window.
func (a *Aggregator) Fold(sample Sample) {
	now := a.now()
	for _, w := range a.windows {
		if sample.Timestamp.Before(now.Add(-w.cfg.Span)) {
			continue
		}
		w.fold(sample)
	}
}

func (w *window) fold(sample Sample) {
	size := w.cfg.bucketSize()
	key := sample.Timestamp.UnixNano() / int64(size)

	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buckets[key]
	if !ok {
		b = newBucket()
		w.buckets[key] = b
	}
	b.all.add(sample.Metrics)
	if sample.Status != "" {
		b.byStatus[sample.Status]++
	}
	for _, c := range sample.Categories {
		cs, ok := b.byCategory[c]
		if !ok {
			cs = &sums{}
			b.byCategory[c] = cs
		}
		cs.add(sample.Metrics)
	}
}

// compute walks the buckets within the trailing span and prunes those that
// have aged out entirely.
func (w *window) compute(now time.Time, f Filters) Snapshot {
	size := w.cfg.bucketSize()
	from := now.Add(-w.cfg.Span)
	minKey := from.UnixNano() / int64(size)

	snap := Snapshot{
		From:           from,
		To:             now,
		StatusCounts:   make(map[string]int64),
		CategoryCounts: make(map[string]int64),
	}
	var total sums

	w.mu.Lock()
	defer w.mu.Unlock()
	for key, b := range w.buckets {
		if key < minKey {
			delete(w.buckets, key)
			continue
		}
		if f.Category != "" {
			if cs, ok := b.byCategory[f.Category]; ok {
				total.count += cs.count
				total.wer += cs.wer
				total.accuracy += cs.accuracy
				total.similarity += cs.similarity
				total.confidence += cs.confidence
			}
		} else {
			total.count += b.all.count
			total.wer += b.all.wer
			total.accuracy += b.all.accuracy
			total.similarity += b.all.similarity
			total.confidence += b.all.confidence
			for st, n := range b.byStatus {
				snap.StatusCounts[st] += n
			}
		}
		for c, cs := range b.byCategory {
			snap.CategoryCounts[c] += cs.count
		}
	}

	snap.Count = total.count
	if total.count > 0 {
		n := float64(total.count)
		snap.MeanWER = total.wer / n
		snap.MeanAccuracy = total.accuracy / n
		snap.MeanSimilarity = total.similarity / n
		snap.MeanConfidence = total.confidence / n
	}
	return snap
}

// Snapshot returns the aggregate for windowKey under f, serving the cached
// entry while fresh. An expired or missing entry is recomputed exactly once
// per key; concurrent readers share the in-flight computation. When the
// context is cancelled mid-recompute, the last-known entry is served with
// Stale set rather than failing the read.
func (a *Aggregator) Snapshot(ctx context.Context, windowKey string, f Filters) (*Snapshot, error) {
	w, ok := a.windows[windowKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWindow, windowKey)
	}

	cacheKey := windowKey
	if fk := f.key(); fk != "" {
		cacheKey += "|" + fk
	}

	a.mu.Lock()
	cached, hit := a.cache[cacheKey]
	a.mu.Unlock()
	now := a.now()
	if hit && now.Before(cached.ExpiresAt) {
		return cached, nil
	}

	result, err, _ := a.flights.Do(cacheKey, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.recomputes.Add(1)
		computedAt := a.now()
		snap := w.compute(computedAt, f)
		snap.WindowKey = windowKey
		snap.Category = f.Category
		snap.ComputedAt = computedAt
		snap.ExpiresAt = computedAt.Add(w.cfg.TTL)

		a.mu.Lock()
		a.cache[cacheKey] = &snap
		a.mu.Unlock()
		return &snap, nil
	})
	if err != nil {
		if cached != nil {
			stale := *cached
			stale.Stale = true
			return &stale, nil
		}
		return nil, fmt.Errorf("aggregate: recompute snapshot %s: %w", cacheKey, err)
	}
	return result.(*Snapshot), nil
}

// Invalidate drops the cached snapshots of every window whose range includes
// ts, forcing recomputation on the next read.
func (a *Aggregator) Invalidate(ts time.Time) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, snap := range a.cache {
		w, ok := a.windows[snap.WindowKey]
		if !ok {
			delete(a.cache, key)
			continue
		}
		if !ts.Before(now.Add(-w.cfg.Span)) {
			delete(a.cache, key)
		}
	}
}

// Windows returns the configured window keys, sorted.
func (a *Aggregator) Windows() []string {
	keys := make([]string, 0, len(a.windows))
	for k := range a.windows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
