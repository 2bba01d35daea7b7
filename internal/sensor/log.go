package sensor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"behavior-session-backend/internal/timeline"
)

// Required sensor log columns. Arduino-side counters and timestamps are
// present in the file but unused.
const (
	colID        = "id"
	colValue     = "value"
	colTimestamp = "logging_timestamp"
)

// Row is one tagged reading from the sensor log.
type Row struct {
	ID    string
	Time  time.Time
	Value float64
}

// Table is the tagged sensor log after timestamp cleaning. A nil *Table
// marks a missing log.
type Table struct {
	Rows []Row
}

// ReadLog loads a sensor log. Any failure is logged and yields nil.
func ReadLog(path string, log *zap.Logger) *Table {
	log.Info("[Sensor] loading sensor data", zap.String("file", path))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Error("[Sensor] sensor log not found; sensor data will be absent", zap.Error(err))
		} else {
			log.Error("[Sensor] failed to open sensor log; sensor data will be absent", zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	tbl, err := decodeLog(f, log)
	if err != nil {
		log.Error("[Sensor] failed to read sensor log; sensor data will be absent", zap.String("file", path), zap.Error(err))
		return nil
	}
	return tbl
}

func decodeLog(r io.Reader, log *zap.Logger) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx, err := columnIndex(header, colID, colValue, colTimestamp)
	if err != nil {
		return nil, err
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	// The logger's final line is routinely cut short.
	if len(records) > 0 {
		records = records[:len(records)-1]
	}

	width := max(idx[colID], idx[colValue], idx[colTimestamp]) + 1
	var short, badValues int
	raw := make([]Row, 0, len(records))
	stamps := make([]float64, 0, len(records))
	for _, rec := range records {
		if len(rec) < width {
			short++
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[colValue]]), 64)
		if err != nil {
			v = math.NaN()
			badValues++
		}
		raw = append(raw, Row{ID: strings.TrimSpace(rec[idx[colID]]), Value: v})
		stamps = append(stamps, timeline.ParseUnix(rec[idx[colTimestamp]]))
	}
	if short > 0 {
		log.Warn("[Sensor] short rows skipped", zap.Int("count", short))
	}
	if badValues > 0 {
		log.Warn("[Sensor] unparsable readings replaced by NaN", zap.Int("count", badValues))
	}

	times, kept := timeline.Clean(stamps, log)
	tbl := &Table{Rows: make([]Row, len(kept))}
	for i, k := range kept {
		row := raw[k]
		row.Time = times[i]
		tbl.Rows[i] = row
	}
	return tbl, nil
}

func columnIndex(header []string, names ...string) (map[string]int, error) {
	idx := make(map[string]int, len(names))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	out := make(map[string]int, len(names))
	for _, n := range names {
		i, ok := idx[n]
		if !ok {
			return nil, fmt.Errorf("missing column %q", n)
		}
		out[n] = i
	}
	return out, nil
}

// Demux splits the tagged table into one series per identifier, preserving
// row order. Rows with other identifiers are dropped. A nil table yields nil
// for every identifier.
func Demux(tbl *Table, ids ...string) []*Series {
	out := make([]*Series, len(ids))
	if tbl == nil {
		return out
	}
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		out[i] = &Series{Name: id, Samples: []Sample{}}
		pos[id] = i
	}
	for _, r := range tbl.Rows {
		i, ok := pos[r.ID]
		if !ok {
			continue
		}
		out[i].Samples = append(out[i].Samples, Sample{Time: r.Time, Value: r.Value})
	}
	return out
}
