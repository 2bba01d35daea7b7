package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"behavior-session-backend/config"
	"behavior-session-backend/internal/model"
	"behavior-session-backend/internal/parse"
	"behavior-session-backend/internal/session"
	"behavior-session-backend/internal/store"
)

// Builder assembles one session record.
type Builder interface {
	Build(dir string, mode session.Mode) (*session.Record, error)
}

// Day lists the session directories recorded on one day.
type Day struct {
	Name     string
	Sessions []string
}

// Service walks a dataset of <root>/<day>/<session> directories. It uses a
// Store, when one is set, to catalog every processed session.
type Service struct {
	cfg     *config.Config
	store   store.Store
	builder Builder
	log     *zap.Logger
	now     func() time.Time
	mode    session.Mode // empty: chosen per session
}

// NewService creates a dataset service. st may be nil.
func NewService(cfg *config.Config, st store.Store, builder Builder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		builder: builder,
		log:     log,
		now:     time.Now,
	}
}

// ParseSessionDirs lists day directories and their sessions, both sorted.
// Ignored names and the exclude/only filters of the configuration apply to
// days.
func (s *Service) ParseSessionDirs() ([]Day, error) {
	dc := s.cfg.Dataset
	dayNames, err := subdirs(dc.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset root %s: %w", dc.Root, err)
	}

	var days []Day
	total := 0
	for _, name := range dayNames {
		if slices.Contains(dc.IgnoreDirs, name) || slices.Contains(dc.ExcludeDays, name) {
			continue
		}
		if len(dc.OnlyDays) > 0 && !slices.Contains(dc.OnlyDays, name) {
			continue
		}
		if !parse.IsDayDir(name) {
			s.log.Warn("[Dataset] day directory name is not a date", zap.String("day", name))
		}
		sessions, err := subdirs(filepath.Join(dc.Root, name))
		if err != nil {
			return nil, fmt.Errorf("failed to list day %s: %w", name, err)
		}
		days = append(days, Day{Name: name, Sessions: sessions})
		total += len(sessions)
	}

	var b strings.Builder
	for _, d := range days {
		fmt.Fprintf(&b, "\n\t%s:\n\t\t%s", d.Name, strings.Join(d.Sessions, "\n\t\t"))
	}
	s.log.Info(fmt.Sprintf("[Dataset] parsed marmoset behavior session directories; found %d sessions on %d days:%s",
		total, len(days), b.String()))
	return days, nil
}

// ModeFor reads a session back when a persisted output directory exists and
// precomputed data may be used; otherwise it is derived again.
func ModeFor(dir, prefix string, usePrecomputed bool) session.Mode {
	if !usePrecomputed {
		return session.ModeWrite
	}
	if _, err := session.FindPreprocDir(dir, prefix); err != nil {
		return session.ModeWrite
	}
	return session.ModeRead
}

// ForceMode makes every session build in mode instead of choosing from the
// persisted outputs. In read mode, sessions without outputs fail and are
// skipped.
func (s *Service) ForceMode(mode session.Mode) {
	s.mode = mode
}

// ModeFor returns the mode a session in dir will be built in.
func (s *Service) ModeFor(dir string) session.Mode {
	if s.mode != "" {
		return s.mode
	}
	return ModeFor(dir, s.cfg.Outputs.PreprocPrefix, s.cfg.Dataset.UsePrecomputed)
}

// ProcessAll builds every session in order and catalogs it. A session that
// fails to build is logged and skipped. Cancellation is checked between
// sessions.
func (s *Service) ProcessAll(ctx context.Context) ([]*session.Record, error) {
	days, err := s.ParseSessionDirs()
	if err != nil {
		return nil, err
	}

	var records []*session.Record
	for _, day := range days {
		for _, name := range day.Sessions {
			if err := ctx.Err(); err != nil {
				s.log.Warn("[Dataset] processing interrupted", zap.Int("done", len(records)), zap.Error(err))
				return records, err
			}
			dir := filepath.Join(s.cfg.Dataset.Root, day.Name, name)
			mode := s.ModeFor(dir)

			rec, err := s.ProcessSession(ctx, dir, mode)
			if err != nil {
				s.log.Error("[Dataset] session skipped", zap.String("dir", dir), zap.Error(err))
				continue
			}
			records = append(records, rec)
		}
	}
	s.log.Info("[Dataset] dataset processed", zap.Int("sessions", len(records)))
	return records, nil
}

// ProcessSession builds a single session and catalogs it.
func (s *Service) ProcessSession(ctx context.Context, dir string, mode session.Mode) (*session.Record, error) {
	rec, err := s.builder.Build(dir, mode)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return rec, nil
	}
	row, artifacts := CatalogRow(rec, s.now())
	if err := s.store.UpsertSession(ctx, row, artifacts); err != nil {
		// The session itself is intact on disk; only the catalog lags.
		s.log.Error("[Dataset] failed to catalog session", zap.String("session", rec.ID()), zap.Error(err))
	}
	return rec, nil
}

// CatalogRow converts a record into its catalog rows.
func CatalogRow(rec *session.Record, processedAt time.Time) (*model.Session, []model.Artifact) {
	row := &model.Session{
		ID:           rec.ID(),
		Name:         rec.Name(),
		StartDate:    rec.Metadata.StartDate,
		Dir:          rec.Dir,
		PreprocDir:   rec.PreprocDir,
		RewardEvents: rec.RewardEventCount(),
		RewardVolume: rec.RewardVolume(),
		LickBouts:    rec.LickBoutCount(),
		Notes:        rec.Metadata.Notes,
		ProcessedAt:  processedAt,
	}
	if rec.HasTimeline() {
		start, stop := rec.Start(), rec.Stop()
		row.StartedAt = &start
		row.StoppedAt = &stop
		row.DurationSeconds = rec.Duration().Seconds()
	}

	artifacts := make([]model.Artifact, 0, len(rec.Artifacts))
	for _, a := range rec.Artifacts {
		artifacts = append(artifacts, model.Artifact{
			SessionID: row.ID,
			Stream:    a.Stream,
			Path:      a.Path,
			RowCount:  a.Rows,
			Present:   a.Present,
		})
	}
	return row, artifacts
}

// SubsetSessions keeps records strictly longer than minDuration.
func SubsetSessions(records []*session.Record, minDuration time.Duration) []*session.Record {
	var out []*session.Record
	for _, r := range records {
		if r.Duration() > minDuration {
			out = append(out, r)
		}
	}
	return out
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
