package video

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Capture is an open handle on a video file.
type Capture interface {
	FrameCount() int
	FPS() float64
	Close() error
}

// Opener opens video files for probing.
type Opener interface {
	Open(path string) (Capture, error)
}

// FFProbe probes videos with the ffprobe binary. The file itself is held open
// read-only for the lifetime of the capture.
type FFProbe struct {
	Command string
}

type probeOutput struct {
	Streams []struct {
		NbReadPackets string `json:"nb_read_packets"`
		NbFrames      string `json:"nb_frames"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
	} `json:"streams"`
}

type ffprobeCapture struct {
	f      *os.File
	frames int
	fps    float64
}

func (c *ffprobeCapture) FrameCount() int { return c.frames }
func (c *ffprobeCapture) FPS() float64    { return c.fps }
func (c *ffprobeCapture) Close() error    { return c.f.Close() }

// Open checks that the file is readable and probes its first video stream.
func (p FFProbe) Open(path string) (Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open video file: %w", err)
	}

	cmd := p.Command
	if cmd == "" {
		cmd = "ffprobe"
	}
	var stdout, stderr bytes.Buffer
	probe := exec.Command(cmd,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets,nb_frames,r_frame_rate,avg_frame_rate",
		"-of", "json",
		path,
	)
	probe.Stdout = &stdout
	probe.Stderr = &stderr
	if err := probe.Run(); err != nil {
		f.Close()
		return nil, fmt.Errorf("ffprobe failed on %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	c, err := decodeProbe(stdout.Bytes())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not read probe of %s: %w", path, err)
	}
	c.f = f
	return c, nil
}

func decodeProbe(data []byte) (*ffprobeCapture, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]

	frames, err := strconv.Atoi(s.NbReadPackets)
	if err != nil {
		frames, err = strconv.Atoi(s.NbFrames)
		if err != nil {
			return nil, fmt.Errorf("no frame count in probe output")
		}
	}
	fps, err := parseRate(s.AvgFrameRate)
	if err != nil || fps <= 0 {
		if fps, err = parseRate(s.RFrameRate); err != nil {
			return nil, err
		}
	}
	return &ffprobeCapture{frames: frames, fps: fps}, nil
}

// parseRate reads ffprobe rationals such as "30000/1001".
func parseRate(s string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return n / d, nil
}
