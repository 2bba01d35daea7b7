package parse

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	dayRe   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	clockRe = regexp.MustCompile(`^(\d{2})[-_:.](\d{2})[-_:.](\d{2})$`)
)

// SessionDir is the identity encoded in a session's path: <root>/<day>/<time>.
type SessionDir struct {
	Date string
	Time string
}

// ID is the session identifier "<date>_<time>".
func (d SessionDir) ID() string {
	return d.Date + "_" + d.Time
}

// SplitSessionDir takes the day and time folder names from the last two
// path components. No format is enforced.
func SplitSessionDir(path string) SessionDir {
	clean := filepath.Clean(path)
	clock := filepath.Base(clean)
	day := filepath.Base(filepath.Dir(clean))
	if day == "." || day == string(filepath.Separator) {
		day = ""
	}
	return SessionDir{Date: day, Time: clock}
}

// IsDayDir reports whether name looks like a YYYY-MM-DD day folder.
func IsDayDir(name string) bool {
	return dayRe.MatchString(strings.TrimSpace(name))
}

// SessionStart parses the folder date and time into a wall-clock instant in
// loc. Times may be separated by '-', '_', ':' or '.'.
func SessionStart(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if !dayRe.MatchString(date) {
		return time.Time{}, fmt.Errorf("unable to parse session date: %q", date)
	}
	m := clockRe.FindStringSubmatch(clock)
	if m == nil {
		return time.Time{}, fmt.Errorf("unable to parse session time: %q", clock)
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", date+" "+m[1]+":"+m[2]+":"+m[3], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse session start %q %q: %w", date, clock, err)
	}
	return t, nil
}
