package notify

import (
	"sync"
	"time"
)

// Suppressor remembers recently sent notifications so repeated
// occurrences of the same condition (for example an expired refresh
// token failing every scheduled run) do not flood the channel.
type Suppressor struct {
	sent   map[string]*sentRecord
	window time.Duration
	mu     sync.RWMutex
}

type sentRecord struct {
	Key    string
	SentAt time.Time
	Count  int
}

// NewSuppressor creates a suppressor with the given repeat window.
func NewSuppressor(window time.Duration) *Suppressor {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Suppressor{
		sent:   make(map[string]*sentRecord),
		window: window,
	}
}

// Suppressed reports whether a notification with this key was already
// sent inside the window.
func (s *Suppressor) Suppressed(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sent[key]
	if !ok {
		return false
	}
	return time.Since(rec.SentAt) < s.window
}

// Record marks a notification as sent.
func (s *Suppressor) Record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sent[key]; ok {
		rec.SentAt = time.Now()
		rec.Count++
	} else {
		s.sent[key] = &sentRecord{Key: key, SentAt: time.Now(), Count: 1}
	}
}

// Cleanup drops records older than the window.
func (s *Suppressor) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, rec := range s.sent {
		if now.Sub(rec.SentAt) > s.window {
			delete(s.sent, key)
		}
	}
}

// Size returns the number of tracked keys.
func (s *Suppressor) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sent)
}

// Throttler is a token bucket limiting outbound message volume.
type Throttler struct {
	rate       float64 // tokens per second
	bucketSize float64
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewThrottler creates a throttler allowing ratePerMinute messages with
// bursts up to bucketSize.
func NewThrottler(ratePerMinute int, bucketSize int) *Throttler {
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	if bucketSize <= 0 {
		bucketSize = ratePerMinute
	}

	return &Throttler{
		rate:       float64(ratePerMinute) / 60.0,
		bucketSize: float64(bucketSize),
		tokens:     float64(bucketSize),
		lastUpdate: time.Now(),
	}
}

// Allow consumes one token if available.
func (t *Throttler) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

// RetryAfter returns how long until the next token is available.
func (t *Throttler) RetryAfter() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tokens >= 1 {
		return 0
	}

	needed := 1 - t.tokens
	return time.Duration(needed / t.rate * float64(time.Second))
}

func (t *Throttler) refill() {
	now := time.Now()
	elapsed := now.Sub(t.lastUpdate).Seconds()
	t.lastUpdate = now

	t.tokens += t.rate * elapsed
	if t.tokens > t.bucketSize {
		t.tokens = t.bucketSize
	}
}

// Reset refills the bucket.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tokens = t.bucketSize
	t.lastUpdate = time.Now()
}
