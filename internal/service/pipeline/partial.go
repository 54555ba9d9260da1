package pipeline

import (
	"strings"
	"sync"
	"time"
)

// Snapshot is the Partial Tracker's state at a point in time.
type Snapshot struct {
	LatestText  string
	LatestTime  time.Time
	LongestText string
	LongestTime time.Time
}

// Extension is the result of a successful extension check: the tracked
// partial starts with (or merges onto) some base text, and this is what
// it extends to, along with the words that were added.
type Extension struct {
	ExtendedText string
	MissingWords []string
}

// Tracker maintains the latest and longest partial hypothesis seen for
// the current segment. It is reset on every segment close;
// neither latest nor longest ever survives a segment close, and longest
// is never shorter than any partial ever seen in the current segment.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewTracker creates an empty Partial Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update records a newly received partial hypothesis.
func (t *Tracker) Update(text string) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LatestText = text
	t.snap.LatestTime = now
	if len(text) > len(t.snap.LongestText) {
		t.snap.LongestText = text
		t.snap.LongestTime = now
	}
}

// Reset clears all tracked state, called on segment close.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{}
}

// Snapshot returns a copy of the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// MergeWithOverlap is the sole string-stitching primitive in the
// pipeline. It returns prev concatenated with the non-overlapping tail
// of cur, where the overlap is the longest suffix of prev that is also a
// prefix of cur. The match is case-sensitive and operates on
// whitespace-collapsed text. If the resulting concatenation would not
// exceed len(prev) by at least 3 characters — including the case where
// cur is entirely contained in prev, making no progress — it returns "".
func MergeWithOverlap(prev, cur string) string {
	p := CollapseWhitespace(prev)
	c := CollapseWhitespace(cur)
	if p == "" || c == "" {
		return ""
	}

	maxK := len(p)
	if len(c) < maxK {
		maxK = len(c)
	}
	best := 0
	for k := maxK; k > 0; k-- {
		if strings.HasSuffix(p, c[:k]) {
			best = k
			break
		}
	}

	merged := p + c[best:]
	if len(merged) < len(p)+3 {
		return ""
	}
	return merged
}

// CheckLongestExtends reports whether the tracker's longest partial
// starts with base (case-insensitive, whitespace-collapsed, tolerant of
// a >=5-char prefix) and is no older than maxAge.
func (t *Tracker) CheckLongestExtends(base string, maxAge time.Duration) (Extension, bool) {
	t.mu.Lock()
	text, ts := t.snap.LongestText, t.snap.LongestTime
	t.mu.Unlock()
	return checkExtends(base, text, ts, maxAge)
}

// CheckLatestExtends reports whether the tracker's latest partial starts
// with base under the same rules as CheckLongestExtends.
func (t *Tracker) CheckLatestExtends(base string, maxAge time.Duration) (Extension, bool) {
	t.mu.Lock()
	text, ts := t.snap.LatestText, t.snap.LatestTime
	t.mu.Unlock()
	return checkExtends(base, text, ts, maxAge)
}

func checkExtends(base, text string, ts time.Time, maxAge time.Duration) (Extension, bool) {
	if text == "" || ts.IsZero() {
		return Extension{}, false
	}
	if time.Since(ts) > maxAge {
		return Extension{}, false
	}
	if !hasCaseInsensitivePrefix(text, base) {
		return Extension{}, false
	}
	baseWords := wordsOf(base)
	textWords := wordsOf(text)
	var missing []string
	if len(textWords) > len(baseWords) {
		missing = textWords[len(baseWords):]
	}
	return Extension{ExtendedText: CollapseWhitespace(text), MissingWords: missing}, true
}
