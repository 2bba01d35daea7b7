package video

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"behavior-session-backend/internal/timeline"
)

var (
	// ErrEmptyTimestamps is returned for a timestamp file without entries.
	ErrEmptyTimestamps = errors.New("timestamp file is empty")
	// ErrMalformedTimestamps is returned when a line lacks a valid epoch
	// timestamp in its second column.
	ErrMalformedTimestamps = errors.New("timestamp file is malformed")
)

// fallbackFPS is used when neither the caller nor the video provides a rate.
const fallbackFPS = 30

// MismatchPolicy decides what happens when a video's frame count differs
// from the number of timestamp entries.
type MismatchPolicy string

const (
	// AlignFromZero keeps every timestamp and assumes frame i has timestamp i.
	AlignFromZero MismatchPolicy = "align_from_zero"
	// Truncate keeps only as many timestamps as the video has frames.
	Truncate MismatchPolicy = "truncate"
	// Discard drops the channel.
	Discard MismatchPolicy = "discard"
)

// ParseMismatchPolicy validates a configured policy name.
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch p := MismatchPolicy(s); p {
	case AlignFromZero, Truncate, Discard:
		return p, nil
	case "":
		return AlignFromZero, nil
	default:
		return "", fmt.Errorf("unknown video mismatch policy %q", s)
	}
}

// Channel is one camera: its video file and its frame-grabber timestamp file.
type Channel struct {
	Name       string
	Video      string
	Timestamps string
}

// Aligner builds per-frame timelines for camera channels.
type Aligner struct {
	Opener Opener
	Policy MismatchPolicy
}

// NewAligner creates an aligner probing videos with opener.
func NewAligner(opener Opener, policy MismatchPolicy) *Aligner {
	if policy == "" {
		policy = AlignFromZero
	}
	return &Aligner{Opener: opener, Policy: policy}
}

// ReadTimestamps reads a space-separated frame-grabber file and returns its
// second column as epoch seconds, one entry per line in file order.
func ReadTimestamps(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []float64
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d has %d column(s)", ErrMalformedTimestamps, lineNo, len(fields))
		}
		v := timeline.ParseUnix(fields[1])
		if _, ok := timeline.FromUnix(v); !ok {
			return nil, fmt.Errorf("%w: line %d: invalid timestamp %q", ErrMalformedTimestamps, lineNo, fields[1])
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyTimestamps
	}
	return out, nil
}

// Align returns the frame timeline of one channel, or nil when the channel
// cannot be aligned. Entry i of the timestamp file belongs to frame i;
// out-of-order entries are removed and the surviving frame indices are kept
// on the table. The last frame lasts 1/fps; a non-positive fps falls back to
// the rate reported by the video.
func (a *Aligner) Align(ch Channel, fps float64, log *zap.Logger) *timeline.Table {
	log = log.With(zap.String("channel", ch.Name))
	log.Info("[Video] aligning camera timestamps", zap.String("video", ch.Video), zap.String("timestamps", ch.Timestamps))

	values, err := ReadTimestamps(ch.Timestamps)
	if err != nil {
		log.Error("[Video] could not read frame timestamps; camera timeline will be absent", zap.Error(err))
		return nil
	}

	capture, err := a.Opener.Open(ch.Video)
	if err != nil {
		log.Error("[Video] could not open video; camera timeline will be absent", zap.Error(err))
		return nil
	}
	defer func() {
		if err := capture.Close(); err != nil {
			log.Warn("[Video] failed to release video", zap.Error(err))
		}
	}()

	frames := capture.FrameCount()
	if frames != len(values) {
		log.Warn("[Video] frame count does not match timestamp entries",
			zap.Int("frames", frames),
			zap.Int("timestamps", len(values)),
			zap.String("policy", string(a.Policy)))
		switch a.Policy {
		case Discard:
			return nil
		case Truncate:
			if frames < len(values) {
				values = values[:frames]
			}
		}
	}

	stamps, kept := timeline.Clean(values, log)
	if fps <= 0 {
		fps = capture.FPS()
	}
	if fps <= 0 {
		fps = fallbackFPS
	}
	period := time.Duration(float64(time.Second) / fps)
	tbl := timeline.FrameIntervals(ch.Name, stamps, period)
	if tbl != nil {
		tbl.Frames = kept
	}
	return tbl
}

// AlignAll aligns every channel independently; a failing channel yields nil
// at its position.
func (a *Aligner) AlignAll(channels []Channel, fps float64, log *zap.Logger) []*timeline.Table {
	out := make([]*timeline.Table, len(channels))
	for i, ch := range channels {
		out[i] = a.Align(ch, fps, log)
	}
	return out
}
