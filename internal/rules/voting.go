package rules

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxTrackedBallots bounds the per-stream vote cache; evicting a stale
// track just restarts its window.
const maxTrackedBallots = 256

type ballot struct {
	votes    []bool // true = observed without helmet
	lastSeen time.Time
}

// helmetVotes keeps a bounded vote history per track ID so that a single
// misdetected frame does not raise a violation. A track is reported only
// when at least VoteThreshold of the last VoteWindow observations agree
// on "no helmet".
type helmetVotes struct {
	mu     sync.Mutex
	cfg    Config
	tracks *lru.Cache[int, *ballot]
}

func newHelmetVotes(cfg Config) *helmetVotes {
	cache, _ := lru.New[int, *ballot](maxTrackedBallots)
	return &helmetVotes{cfg: cfg, tracks: cache}
}

// Cast records one observation for a track and reports whether the track
// is currently in violation.
func (v *helmetVotes) Cast(trackID int, noHelmet bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	b, ok := v.tracks.Get(trackID)
	if !ok {
		b = &ballot{}
		v.tracks.Add(trackID, b)
	}
	b.votes = append(b.votes, noHelmet)
	if len(b.votes) > v.cfg.VoteWindow {
		b.votes = b.votes[len(b.votes)-v.cfg.VoteWindow:]
	}
	b.lastSeen = time.Now()

	against := 0
	for _, no := range b.votes {
		if no {
			against++
		}
	}
	return against >= v.cfg.VoteThreshold
}

// Reset drops all vote history. Called when the stream stops.
func (v *helmetVotes) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tracks.Purge()
}
