package session

import (
	"sort"
	"time"

	"behavior-session-backend/internal/timeline"
)

// DefaultRewardLookahead is how many frames after a rewarded frame are
// flagged as well.
const DefaultRewardLookahead = 10

// Annotations are per-frame masks for one camera.
type Annotations struct {
	Frames *timeline.Table
	Lick   []bool
	Reward []bool
}

// LickFrames flags every frame that overlaps a bout: the bout starts inside
// the frame, ends inside it, or spans it. All comparisons are strict.
func LickFrames(frames, bouts *timeline.Table) []bool {
	out := make([]bool, frames.Len())
	if frames.Len() == 0 || bouts.Len() == 0 {
		return out
	}
	if !monotone(frames) {
		for i, f := range frames.Rows {
			for _, b := range bouts.Rows {
				if overlaps(f, b) {
					out[i] = true
					break
				}
			}
		}
		return out
	}

	idx := newFrameIndex(frames)
	marks := make([]int, len(out)+1)
	mark := func(lo, hi int) {
		if lo < hi {
			marks[lo]++
			marks[hi]--
		}
	}
	for _, b := range bouts.Rows {
		mark(idx.endAfter(b.Start), idx.startAtOrAfter(b.Start))
		mark(idx.endAfter(b.End), idx.startAtOrAfter(b.End))
		mark(idx.startAfter(b.Start), idx.endAtOrAfter(b.End))
	}
	return fold(marks, out)
}

func overlaps(f, b timeline.Interval) bool {
	startsInside := f.Start.Before(b.Start) && f.End.After(b.Start)
	endsInside := f.Start.Before(b.End) && f.End.After(b.End)
	spans := f.Start.After(b.Start) && f.End.Before(b.End)
	return startsInside || endsInside || spans
}

// RewardFrames flags frame j when an event lies strictly inside any of the
// frames j-lookahead through j, so an event in frame 12 marks frames 12 to
// 12+lookahead.
func RewardFrames(frames *timeline.Table, events []time.Time, lookahead int) []bool {
	n := frames.Len()
	out := make([]bool, n)
	if n == 0 || len(events) == 0 {
		return out
	}
	if lookahead < 0 {
		lookahead = 0
	}

	hit := make([]bool, n)
	if monotone(frames) {
		idx := newFrameIndex(frames)
		marks := make([]int, n+1)
		for _, e := range events {
			lo, hi := idx.endAfter(e), idx.startAtOrAfter(e)
			if lo < hi {
				marks[lo]++
				marks[hi]--
			}
		}
		hit = fold(marks, hit)
	} else {
		for i, f := range frames.Rows {
			for _, e := range events {
				if f.Start.Before(e) && f.End.After(e) {
					hit[i] = true
					break
				}
			}
		}
	}

	last := -1
	for j := 0; j < n; j++ {
		if hit[j] {
			last = j
		}
		out[j] = last >= 0 && j-last <= lookahead
	}
	return out
}

// Annotate derives the lick and reward masks of one camera.
func Annotate(frames, bouts *timeline.Table, events []time.Time, lookahead int) *Annotations {
	if frames == nil {
		return nil
	}
	return &Annotations{
		Frames: frames,
		Lick:   LickFrames(frames, bouts),
		Reward: RewardFrames(frames, events, lookahead),
	}
}

func fold(marks []int, out []bool) []bool {
	run := 0
	for i := range out {
		run += marks[i]
		out[i] = run > 0
	}
	return out
}

// monotone reports whether frame starts and ends are both non-decreasing,
// which is what the binary searches below rely on.
func monotone(t *timeline.Table) bool {
	for i := 1; i < len(t.Rows); i++ {
		if t.Rows[i].Start.Before(t.Rows[i-1].Start) || t.Rows[i].End.Before(t.Rows[i-1].End) {
			return false
		}
	}
	return true
}

type frameIndex struct {
	rows []timeline.Interval
}

func newFrameIndex(t *timeline.Table) frameIndex {
	return frameIndex{rows: t.Rows}
}

func (x frameIndex) startAfter(t time.Time) int {
	return sort.Search(len(x.rows), func(i int) bool { return x.rows[i].Start.After(t) })
}

func (x frameIndex) startAtOrAfter(t time.Time) int {
	return sort.Search(len(x.rows), func(i int) bool { return !x.rows[i].Start.Before(t) })
}

func (x frameIndex) endAfter(t time.Time) int {
	return sort.Search(len(x.rows), func(i int) bool { return x.rows[i].End.After(t) })
}

func (x frameIndex) endAtOrAfter(t time.Time) int {
	return sort.Search(len(x.rows), func(i int) bool { return !x.rows[i].End.Before(t) })
}
