package mediasource

import (
	"strconv"
	"sync"
)

// Progress is one download progress report.
type Progress struct {
	Loaded           int64 `json:"loaded"`
	Total            int64 `json:"total"`
	LengthComputable bool  `json:"length_computable"`
}

// ProgressFunc receives download progress.
type ProgressFunc func(Progress)

// ProgressTracker keeps the latest progress of one track download.
type ProgressTracker struct {
	Track TrackKind

	mu   sync.Mutex
	last Progress
	seen bool
}

// NewProgressTracker creates a tracker for track.
func NewProgressTracker(track TrackKind) *ProgressTracker {
	return &ProgressTracker{Track: track}
}

// Update records p.
func (p *ProgressTracker) Update(progress Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last = progress
	p.seen = true
}

// Func returns the tracker as a ProgressFunc.
func (p *ProgressTracker) Func() ProgressFunc {
	return p.Update
}

// Progress returns the last report.
func (p *ProgressTracker) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.last
}

// Percentage returns the downloaded share, or false when the length is
// unknown.
func (p *ProgressTracker) Percentage() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.seen {
		return 0, true
	}
	if !p.last.LengthComputable || p.last.Total <= 0 {
		return 0, false
	}
	return float64(p.last.Loaded) / float64(p.last.Total) * 100, true
}

// String renders the progress text shown next to a progress bar.
func (p *ProgressTracker) String() string {
	pct, ok := p.Percentage()
	if !ok {
		return "Length not computable"
	}
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%: "
}

// IsComplete returns true once every byte of a known length arrived.
func (p *ProgressTracker) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.last.LengthComputable && p.last.Loaded >= p.last.Total
}
