// Package artifact persists derived session streams, one JSON file per
// stream. Timestamps are stored as unix nanoseconds and NaN as null.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"behavior-session-backend/internal/parse"
	"behavior-session-backend/internal/sensor"
	"behavior-session-backend/internal/timeline"
)

// SchemaVersion is the version written into every artifact.
const SchemaVersion = 1

// Ext is the file extension of artifacts.
const Ext = ".json"

var (
	// ErrSchemaVersion is returned for artifacts written by an unknown schema.
	ErrSchemaVersion = errors.New("unsupported artifact schema version")
	// ErrKind is returned when an artifact is decoded as the wrong kind.
	ErrKind = errors.New("artifact kind mismatch")
	// ErrColumns is returned when column lengths disagree.
	ErrColumns = errors.New("artifact columns have different lengths")
)

// Kind names the shape of a persisted stream.
type Kind string

const (
	KindSeries      Kind = "series"
	KindIntervals   Kind = "intervals"
	KindEvents      Kind = "events"
	KindSwitches    Kind = "switches"
	KindAnnotations Kind = "annotations"
)

// Columns is the column-oriented body of an artifact. Only the columns of
// the artifact's kind are set.
type Columns struct {
	Time     []int64    `json:"time,omitempty"`
	Value    []*float64 `json:"value,omitempty"`
	Start    []int64    `json:"start,omitempty"`
	End      []int64    `json:"end,omitempty"`
	Duration []int64    `json:"duration_ns,omitempty"`
	State    []int      `json:"state,omitempty"`
	Lick     []bool     `json:"lick,omitempty"`
	Reward   []bool     `json:"reward,omitempty"`
	Frame    []int      `json:"frame,omitempty"`
}

// File is one persisted stream.
type File struct {
	SchemaVersion int     `json:"schema_version"`
	Stream        string  `json:"stream"`
	Kind          Kind    `json:"kind"`
	Rows          int     `json:"rows"`
	Columns       Columns `json:"columns"`
}

// Path returns where the stream name is stored inside dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+Ext)
}

// Write stores f atomically under dir and returns its path.
func Write(dir string, f *File) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("make artifact dir: %w", err)
	}
	path := Path(dir, f.Stream)
	if err := WriteJSON(path, f); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads the stream name from dir.
func Read(dir, name string) (*File, error) {
	data, err := os.ReadFile(Path(dir, name))
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if f.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %s has version %d", ErrSchemaVersion, name, f.SchemaVersion)
	}
	return &f, nil
}

// WriteJSON encodes v into path through a temporary file in the same
// directory, so readers never observe a partial file.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func newFile(name string, kind Kind, rows int) *File {
	return &File{SchemaVersion: SchemaVersion, Stream: name, Kind: kind, Rows: rows}
}

func (f *File) expect(kind Kind, cols ...int) error {
	if f.Kind != kind {
		return fmt.Errorf("%w: %s is %q, want %q", ErrKind, f.Stream, f.Kind, kind)
	}
	for _, n := range cols {
		if n != f.Rows {
			return fmt.Errorf("%w: %s", ErrColumns, f.Stream)
		}
	}
	return nil
}

// FromSeries encodes a sensor series.
func FromSeries(name string, s *sensor.Series) *File {
	f := newFile(name, KindSeries, s.Len())
	f.Columns.Time = make([]int64, s.Len())
	f.Columns.Value = make([]*float64, s.Len())
	for i, smp := range s.Samples {
		f.Columns.Time[i] = smp.Time.UnixNano()
		if !math.IsNaN(smp.Value) {
			v := smp.Value
			f.Columns.Value[i] = &v
		}
	}
	return f
}

// Series decodes a sensor series.
func (f *File) Series() (*sensor.Series, error) {
	if err := f.expect(KindSeries, len(f.Columns.Time), len(f.Columns.Value)); err != nil {
		return nil, err
	}
	s := &sensor.Series{Name: f.Stream, Samples: make([]sensor.Sample, f.Rows)}
	for i := range s.Samples {
		v := math.NaN()
		if p := f.Columns.Value[i]; p != nil {
			v = *p
		}
		s.Samples[i] = sensor.Sample{Time: fromNano(f.Columns.Time[i]), Value: v}
	}
	return s, nil
}

// FromIntervals encodes an interval table.
func FromIntervals(name string, t *timeline.Table) *File {
	f := newFile(name, KindIntervals, t.Len())
	f.Columns.Start = make([]int64, t.Len())
	f.Columns.End = make([]int64, t.Len())
	f.Columns.Duration = make([]int64, t.Len())
	for i, r := range t.Rows {
		f.Columns.Start[i] = r.Start.UnixNano()
		f.Columns.End[i] = r.End.UnixNano()
		f.Columns.Duration[i] = int64(r.Duration)
	}
	if t.Frames != nil {
		f.Columns.Frame = append([]int{}, t.Frames...)
	}
	return f
}

// Intervals decodes an interval table.
func (f *File) Intervals() (*timeline.Table, error) {
	if err := f.expect(KindIntervals, len(f.Columns.Start), len(f.Columns.End), len(f.Columns.Duration)); err != nil {
		return nil, err
	}
	if f.Columns.Frame != nil && len(f.Columns.Frame) != f.Rows {
		return nil, fmt.Errorf("%w: %s frame column", ErrColumns, f.Stream)
	}
	t := &timeline.Table{Name: f.Stream, Rows: make([]timeline.Interval, f.Rows)}
	if f.Columns.Frame != nil {
		t.Frames = append([]int{}, f.Columns.Frame...)
	}
	for i := range t.Rows {
		t.Rows[i] = timeline.Interval{
			Start:    fromNano(f.Columns.Start[i]),
			End:      fromNano(f.Columns.End[i]),
			Duration: time.Duration(f.Columns.Duration[i]),
		}
	}
	return t, nil
}

// FromEvents encodes point events.
func FromEvents(name string, events []time.Time) *File {
	f := newFile(name, KindEvents, len(events))
	f.Columns.Time = make([]int64, len(events))
	for i, t := range events {
		f.Columns.Time[i] = t.UnixNano()
	}
	return f
}

// Events decodes point events.
func (f *File) Events() ([]time.Time, error) {
	if err := f.expect(KindEvents, len(f.Columns.Time)); err != nil {
		return nil, err
	}
	out := make([]time.Time, f.Rows)
	for i := range out {
		out[i] = fromNano(f.Columns.Time[i])
	}
	return out, nil
}

// FromSwitches encodes ON/OFF transitions.
func FromSwitches(name string, switches []parse.Switch) *File {
	f := newFile(name, KindSwitches, len(switches))
	f.Columns.Time = make([]int64, len(switches))
	f.Columns.State = make([]int, len(switches))
	for i, sw := range switches {
		f.Columns.Time[i] = sw.Time.UnixNano()
		f.Columns.State[i] = sw.State
	}
	return f
}

// Switches decodes ON/OFF transitions.
func (f *File) Switches() ([]parse.Switch, error) {
	if err := f.expect(KindSwitches, len(f.Columns.Time), len(f.Columns.State)); err != nil {
		return nil, err
	}
	out := make([]parse.Switch, f.Rows)
	for i := range out {
		out[i] = parse.Switch{Time: fromNano(f.Columns.Time[i]), State: f.Columns.State[i]}
	}
	return out, nil
}

// FromAnnotations encodes per-frame lick and reward masks.
func FromAnnotations(name string, frames *timeline.Table, lick, reward []bool) *File {
	f := FromIntervals(name, frames)
	f.Kind = KindAnnotations
	f.Columns.Lick = append([]bool{}, lick...)
	f.Columns.Reward = append([]bool{}, reward...)
	return f
}

// Annotations decodes per-frame masks along with their frames.
func (f *File) Annotations() (frames *timeline.Table, lick, reward []bool, err error) {
	if err := f.expect(KindAnnotations, len(f.Columns.Lick), len(f.Columns.Reward)); err != nil {
		return nil, nil, nil, err
	}
	g := *f
	g.Kind = KindIntervals
	frames, err = g.Intervals()
	if err != nil {
		return nil, nil, nil, err
	}
	lick = append([]bool{}, f.Columns.Lick...)
	reward = append([]bool{}, f.Columns.Reward...)
	return frames, lick, reward, nil
}

func fromNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
