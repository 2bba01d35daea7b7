package video

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeCapture records how often it was released.
type fakeCapture struct {
	frames int
	fps    float64
	closed *int
}

func (c fakeCapture) FrameCount() int { return c.frames }
func (c fakeCapture) FPS() float64    { return c.fps }
func (c fakeCapture) Close() error {
	*c.closed++
	return nil
}

type fakeOpener struct {
	frames map[string]int
	fps    float64
	opened int
	closed int
}

func (o *fakeOpener) Open(path string) (Capture, error) {
	n, ok := o.frames[path]
	if !ok {
		return nil, errors.New("could not open video file")
	}
	o.opened++
	return fakeCapture{frames: n, fps: o.fps, closed: &o.closed}, nil
}

// writeStamps writes n frame-grabber lines 1/30 s apart starting at base.
func writeStamps(t *testing.T, dir, name string, base float64, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d %.6f\n", i, base+float64(i)/30)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestAlign_Matching(t *testing.T) {
	dir := t.TempDir()
	ts := writeStamps(t, dir, "frameGrabber_0_stdout.txt", 1696490591, 5)
	opener := &fakeOpener{frames: map[string]int{"cam0.mp4": 5}}
	core, logs := observer.New(zapcore.WarnLevel)

	tbl := NewAligner(opener, AlignFromZero).Align(Channel{Name: "front", Video: "cam0.mp4", Timestamps: ts}, 30, zap.New(core))

	require.NotNil(t, tbl)
	require.Equal(t, 5, tbl.Len())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, tbl.Frames)
	assert.Equal(t, 0, logs.Len())
	for i := 0; i < 4; i++ {
		assert.Equal(t, tbl.Rows[i+1].Start, tbl.Rows[i].End)
	}
	last := tbl.Rows[4]
	assert.Equal(t, last.Start.Add(time.Second/30), last.End)
	assert.Equal(t, 1, opener.opened)
	assert.Equal(t, 1, opener.closed)
}

func TestAlign_Mismatch(t *testing.T) {
	testCases := []struct {
		name     string
		policy   MismatchPolicy
		wantRows int
		wantNil  bool
	}{
		{"align from zero keeps every timestamp", AlignFromZero, 5, false},
		{"truncate drops surplus timestamps", Truncate, 4, false},
		{"discard drops the channel", Discard, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			ts := writeStamps(t, dir, "ts.txt", 1696490591, 5)
			opener := &fakeOpener{frames: map[string]int{"cam.mp4": 4}}
			core, logs := observer.New(zapcore.WarnLevel)

			tbl := NewAligner(opener, tc.policy).Align(Channel{Name: "face", Video: "cam.mp4", Timestamps: ts}, 30, zap.New(core))

			assert.Equal(t, 1, logs.Len())
			assert.Equal(t, 1, opener.closed)
			if tc.wantNil {
				assert.Nil(t, tbl)
				return
			}
			require.NotNil(t, tbl)
			assert.Equal(t, tc.wantRows, tbl.Len())
		})
	}
}

func TestAlign_OutOfOrderTimestamps(t *testing.T) {
	dir := t.TempDir()
	ts := filepath.Join(dir, "ts.txt")
	require.NoError(t, os.WriteFile(ts, []byte("0 100.0\n1 102.0\n2 101.0\n3 103.0\n"), 0o644))
	opener := &fakeOpener{frames: map[string]int{"cam.mp4": 4}}
	core, logs := observer.New(zapcore.WarnLevel)

	tbl := NewAligner(opener, AlignFromZero).Align(Channel{Name: "scene", Video: "cam.mp4", Timestamps: ts}, 1, zap.New(core))

	require.NotNil(t, tbl)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []int{0, 1, 3}, tbl.Frames)
	for _, r := range tbl.Rows {
		assert.GreaterOrEqual(t, r.Duration, time.Duration(0))
	}
	assert.Equal(t, time.Unix(102, 0).UTC(), tbl.Rows[1].Start)
	assert.Equal(t, time.Second, tbl.Rows[1].Duration)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, []any{101.0}, logs.All()[0].ContextMap()["values"])
}

func TestAlign_Failures(t *testing.T) {
	dir := t.TempDir()
	good := writeStamps(t, dir, "good.txt", 1696490591, 3)
	oneCol := filepath.Join(dir, "one_col.txt")
	require.NoError(t, os.WriteFile(oneCol, []byte("1696490591.0\n"), 0o644))
	badNum := filepath.Join(dir, "bad_num.txt")
	require.NoError(t, os.WriteFile(badNum, []byte("0 abc\n"), 0o644))
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	testCases := []struct {
		name string
		ch   Channel
	}{
		{"missing timestamps", Channel{Name: "front", Video: "cam.mp4", Timestamps: filepath.Join(dir, "nope.txt")}},
		{"single column", Channel{Name: "front", Video: "cam.mp4", Timestamps: oneCol}},
		{"unparsable timestamp", Channel{Name: "front", Video: "cam.mp4", Timestamps: badNum}},
		{"empty timestamps", Channel{Name: "front", Video: "cam.mp4", Timestamps: empty}},
		{"unopenable video", Channel{Name: "front", Video: "missing.mp4", Timestamps: good}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opener := &fakeOpener{frames: map[string]int{"cam.mp4": 3}}
			core, logs := observer.New(zapcore.ErrorLevel)

			tbl := NewAligner(opener, AlignFromZero).Align(tc.ch, 30, zap.New(core))

			assert.Nil(t, tbl)
			assert.Equal(t, 1, logs.Len())
			assert.Equal(t, opener.opened, opener.closed)
		})
	}
}

func TestAlignAll_Independent(t *testing.T) {
	dir := t.TempDir()
	channels := []Channel{
		{Name: "front", Video: "cam0.mp4", Timestamps: writeStamps(t, dir, "ts0.txt", 100, 3)},
		{Name: "scene", Video: "cam1.mp4", Timestamps: filepath.Join(dir, "missing.txt")},
		{Name: "face", Video: "cam2.mp4", Timestamps: writeStamps(t, dir, "ts2.txt", 100, 2)},
	}
	opener := &fakeOpener{frames: map[string]int{"cam0.mp4": 3, "cam1.mp4": 3, "cam2.mp4": 2}}

	out := NewAligner(opener, AlignFromZero).AlignAll(channels, 30, zap.NewNop())

	require.Len(t, out, 3)
	assert.Equal(t, 3, out[0].Len())
	assert.Nil(t, out[1])
	assert.Equal(t, 2, out[2].Len())
	assert.Equal(t, "face", out[2].Name)
	assert.Equal(t, opener.opened, opener.closed)
}

func TestAlign_FPSFallback(t *testing.T) {
	dir := t.TempDir()
	ts := writeStamps(t, dir, "ts.txt", 100, 2)
	opener := &fakeOpener{frames: map[string]int{"cam.mp4": 2}, fps: 25}

	tbl := NewAligner(opener, AlignFromZero).Align(Channel{Name: "front", Video: "cam.mp4", Timestamps: ts}, 0, zap.NewNop())

	require.NotNil(t, tbl)
	assert.Equal(t, 40*time.Millisecond, tbl.Rows[1].Duration)
}

func TestReadTimestamps_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("0 1.0\n1\n"), 0o644))

	_, err := ReadTimestamps(empty)
	assert.ErrorIs(t, err, ErrEmptyTimestamps)

	_, err = ReadTimestamps(bad)
	assert.ErrorIs(t, err, ErrMalformedTimestamps)

	_, err = ReadTimestamps(filepath.Join(dir, "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseMismatchPolicy(t *testing.T) {
	p, err := ParseMismatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AlignFromZero, p)

	p, err = ParseMismatchPolicy("truncate")
	require.NoError(t, err)
	assert.Equal(t, Truncate, p)

	_, err = ParseMismatchPolicy("guess")
	assert.Error(t, err)
}

func TestDecodeProbe(t *testing.T) {
	c, err := decodeProbe([]byte(`{"streams":[{"nb_read_packets":"1800","r_frame_rate":"30/1","avg_frame_rate":"30000/1001"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1800, c.FrameCount())
	assert.InDelta(t, 29.97, c.FPS(), 0.01)

	c, err = decodeProbe([]byte(`{"streams":[{"nb_frames":"10","r_frame_rate":"25/1","avg_frame_rate":"0/0"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 10, c.FrameCount())
	assert.Equal(t, 25.0, c.FPS())

	_, err = decodeProbe([]byte(`{"streams":[]}`))
	assert.Error(t, err)
}
