package parse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"behavior-session-backend/internal/timeline"
)

// DefaultSwitchOffset is added to ON/OFF switch times. The controller logs
// them in local wall time one hour behind the epoch stamps of the reward
// events; the value is a fixed policy, not derived from the zone.
const DefaultSwitchOffset = 3600 * time.Second

const switchLayout = "2006-01-02 15:04:05"

// Switch states.
const (
	SwitchOn  = 1
	SwitchOff = -1
)

// Switch is an armed/disarmed transition of the reward controller.
type Switch struct {
	Time  time.Time
	State int
}

// RewardLog holds the two streams parsed from one reward log. A nil
// *RewardLog marks a missing file.
type RewardLog struct {
	Events   []time.Time
	Switches []Switch
}

// RewardParser parses reward logs.
type RewardParser struct {
	// Location is the wall-clock zone of the ON/OFF lines.
	Location *time.Location
	// SwitchOffset is added to every switch time.
	SwitchOffset time.Duration
}

// NewRewardParser returns a parser with the default offset policy.
func NewRewardParser(loc *time.Location) *RewardParser {
	if loc == nil {
		loc = time.Local
	}
	return &RewardParser{Location: loc, SwitchOffset: DefaultSwitchOffset}
}

// ReadFile parses the reward log at path. A missing file is logged and
// yields nil.
func (p *RewardParser) ReadFile(path string, log *zap.Logger) *RewardLog {
	log.Info("[Reward] loading and processing reward data", zap.String("file", path))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Error("[Reward] reward log not found; reward events data will be absent", zap.Error(err))
		} else {
			log.Error("[Reward] failed to open reward log; reward events data will be absent", zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	rl, err := p.Parse(f, log)
	if err != nil {
		log.Error("[Reward] failed to read reward log; reward events data will be absent", zap.Error(err))
		return nil
	}
	return rl
}

// Parse reads the log line by line. Lines matching neither shape are logged
// and skipped.
func (p *RewardParser) Parse(r io.Reader, log *zap.Logger) (*RewardLog, error) {
	var stamps []float64
	rl := &RewardLog{Events: []time.Time{}, Switches: []Switch{}}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, " ")
		last := strings.TrimSpace(fields[len(fields)-1])

		if v, err := strconv.ParseFloat(last, 64); err == nil {
			stamps = append(stamps, v)
			continue
		}

		sw, err := p.parseSwitch(fields, last)
		if err != nil {
			log.Warn("[Reward] line will be skipped", zap.Int("line", lineNo), zap.String("text", line), zap.Error(err))
			continue
		}
		rl.Switches = append(rl.Switches, sw)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan reward log: %w", err)
	}

	for _, v := range stamps {
		t, ok := timeline.FromUnix(v)
		if !ok {
			log.Warn("[Reward] non-finite reward timestamp dropped", zap.Float64("value", v))
			continue
		}
		rl.Events = append(rl.Events, t)
	}
	return rl, nil
}

func (p *RewardParser) parseSwitch(fields []string, last string) (Switch, error) {
	var state int
	switch last {
	case "ON":
		state = SwitchOn
	case "OFF":
		state = SwitchOff
	default:
		return Switch{}, fmt.Errorf("no reward timestamp or ON/OFF token in %q", last)
	}
	if len(fields) < 3 {
		return Switch{}, fmt.Errorf("switch line without timestamp")
	}
	t, err := p.parseSwitchTime(fields[0] + " " + fields[1])
	if err != nil {
		return Switch{}, err
	}
	return Switch{Time: t.Add(p.SwitchOffset).UTC(), State: state}, nil
}

// parseSwitchTime reads "YYYY-MM-DD HH:MM:SS,ffffff" in the parser's zone.
func (p *RewardParser) parseSwitchTime(s string) (time.Time, error) {
	whole, frac, _ := strings.Cut(s, ",")
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(switchLayout, whole, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse switch timestamp %q: %w", s, err)
	}
	if frac == "" {
		return t, nil
	}
	if len(frac) > 6 {
		return time.Time{}, fmt.Errorf("fractional seconds too long in %q", s)
	}
	us, err := strconv.Atoi(frac + strings.Repeat("0", 6-len(frac)))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse fractional seconds in %q: %w", s, err)
	}
	return t.Add(time.Duration(us) * time.Microsecond), nil
}
