package session

import (
	"fmt"
	"math"
	"time"

	"behavior-session-backend/internal/parse"
	"behavior-session-backend/internal/sensor"
	"behavior-session-backend/internal/timeline"
)

// Camera channel names.
const (
	CameraFront = "front"
	CameraScene = "scene"
	CameraFace  = "face"
)

// Record is one assembled session. Every nil stream is absent.
type Record struct {
	Dir        string
	PreprocDir string
	Metadata   Metadata
	State      State

	Photoresistor *sensor.Series
	Distance      *sensor.Series
	Lick          *timeline.Table
	Rewards       []time.Time
	Switches      []parse.Switch

	FrontCam *timeline.Table
	SceneCam *timeline.Table
	FaceCam  *timeline.Table

	FaceAnnotations *Annotations

	// PrimaryCamera names the channel that defines start and stop.
	PrimaryCamera string
	// Artifacts lists the persisted streams, filled on persist or load.
	Artifacts []StoredStream
}

// StoredStream describes one persisted stream of a record.
type StoredStream struct {
	Stream  string
	Path    string
	Rows    int
	Present bool
}

// RewardPoint is the cumulative reward volume after an event.
type RewardPoint struct {
	Time   time.Time
	Volume float64
}

// ID is the session identity.
func (r *Record) ID() string {
	return r.Metadata.ID()
}

// Camera returns the timeline of a channel by name.
func (r *Record) Camera(name string) *timeline.Table {
	switch name {
	case CameraFront:
		return r.FrontCam
	case CameraScene:
		return r.SceneCam
	case CameraFace:
		return r.FaceCam
	}
	return nil
}

func (r *Record) primary() *timeline.Table {
	name := r.PrimaryCamera
	if name == "" {
		name = CameraFront
	}
	return r.Camera(name)
}

// HasTimeline reports whether the primary camera timeline is present.
func (r *Record) HasTimeline() bool {
	return r.primary().Len() > 0
}

// Start is the first frame of the primary camera, or the zero time.
func (r *Record) Start() time.Time {
	p := r.primary()
	if p.Len() == 0 {
		return time.Time{}
	}
	return p.Rows[0].Start
}

// Stop is the last frame start of the primary camera, or the zero time.
func (r *Record) Stop() time.Time {
	p := r.primary()
	if p.Len() == 0 {
		return time.Time{}
	}
	return p.Rows[len(p.Rows)-1].Start
}

// Duration is Stop minus Start.
func (r *Record) Duration() time.Duration {
	return r.Stop().Sub(r.Start())
}

// Name renders start and duration, e.g. "2023-10-05_08-15-30_1h-5min".
// Without a primary timeline the session identity is used. A negative
// duration renders as zero.
func (r *Record) Name() string {
	if !r.HasTimeline() {
		return r.ID()
	}
	d := max(r.Duration(), 0)
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%s_%dh-%dmin", r.Start().Format("2006-01-02_15-04-05"), hours, minutes)
}

// RewardEventCount is the number of reward events.
func (r *Record) RewardEventCount() int {
	return len(r.Rewards)
}

// RewardVolume is the total volume delivered, in the units of the
// rewardVolume metadata field.
func (r *Record) RewardVolume() float64 {
	return float64(len(r.Rewards)) * r.Metadata.RewardVolume
}

// RewardVolumeML converts RewardVolume from microliters.
func (r *Record) RewardVolumeML() float64 {
	return r.RewardVolume() / 1000
}

// CumulativeReward is the delivered volume after each event.
func (r *Record) CumulativeReward() []RewardPoint {
	if r.Rewards == nil {
		return nil
	}
	out := make([]RewardPoint, len(r.Rewards))
	for i, t := range r.Rewards {
		out[i] = RewardPoint{Time: t, Volume: float64(i+1) * r.Metadata.RewardVolume}
	}
	return out
}

// RewardEventsPerHour is NaN when the duration is zero.
func (r *Record) RewardEventsPerHour() float64 {
	h := r.Duration().Hours()
	if h <= 0 {
		return math.NaN()
	}
	return float64(len(r.Rewards)) / h
}

// LickBoutCount is the number of lick bouts.
func (r *Record) LickBoutCount() int {
	return r.Lick.Len()
}
