package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"behavior-session-backend/config"
	"behavior-session-backend/internal/artifact"
	"behavior-session-backend/internal/logging"
	"behavior-session-backend/internal/parse"
	"behavior-session-backend/internal/sensor"
	"behavior-session-backend/internal/timeline"
	"behavior-session-backend/internal/video"
)

// ErrNoPreprocessed is returned in read mode when a session has no
// persisted output directory.
var ErrNoPreprocessed = errors.New("no preprocessed session directory")

// Builder assembles session records.
type Builder struct {
	cfg       *config.Config
	aligner   *video.Aligner
	rewards   *parse.RewardParser
	pairing   sensor.Pairing
	lookahead int
	log       *zap.Logger
}

// NewBuilder validates the pipeline policies in cfg. Videos are probed with
// opener.
func NewBuilder(cfg *config.Config, opener video.Opener, log *zap.Logger) (*Builder, error) {
	policy, err := video.ParseMismatchPolicy(cfg.Pipeline.VideoMismatchPolicy)
	if err != nil {
		return nil, err
	}
	pairing, err := sensor.ParsePairing(cfg.Pipeline.LickPairing)
	if err != nil {
		return nil, err
	}
	switch cfg.Pipeline.PrimaryCamera {
	case CameraFront, CameraScene, CameraFace:
	default:
		return nil, fmt.Errorf("unknown primary camera %q", cfg.Pipeline.PrimaryCamera)
	}
	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load switch timezone %q: %w", cfg.Pipeline.SwitchTimezone, err)
	}

	rp := parse.NewRewardParser(loc)
	rp.SwitchOffset = cfg.Pipeline.SwitchOffset

	lookahead := cfg.Pipeline.RewardLookaheadFrames
	if lookahead <= 0 {
		lookahead = DefaultRewardLookahead
	}

	return &Builder{
		cfg:       cfg,
		aligner:   video.NewAligner(opener, policy),
		rewards:   rp,
		pairing:   pairing,
		lookahead: lookahead,
		log:       logging.OrNop(log),
	}, nil
}

// Build assembles the session in dir. Per-stream failures leave the stream
// absent; only an invalid mode and persistence failures are returned.
func (b *Builder) Build(dir string, mode Mode) (*Record, error) {
	switch mode {
	case ModeWrite:
		return b.write(dir)
	case ModeRead:
		return b.read(dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

func (b *Builder) write(dir string) (*Record, error) {
	rec := &Record{Dir: dir, PrimaryCamera: b.cfg.Pipeline.PrimaryCamera}
	files := b.cfg.Files

	rec.Metadata = ReadMetadata(dir, files, logging.ForSession(b.log, parse.SplitSessionDir(dir).ID()))
	log := logging.ForSession(b.log, rec.ID())
	rec.State = StateMetadataLoaded
	log.Info("[Session] building session", zap.String("dir", dir), zap.String("mode", string(ModeWrite)))

	ids := b.cfg.Sensors
	streams := sensor.Demux(sensor.ReadLog(filepath.Join(dir, files.SensorLog), log),
		ids.Photoresistor, ids.Lick, ids.DistanceLeft)
	rec.State = StateStreamsExtracted

	out := b.cfg.Outputs
	rec.Photoresistor = sensor.Photoresistor(streams[0], log)
	rec.Lick = sensor.LickBouts(streams[1], b.pairing, out.Lick, log)
	rec.Distance = sensor.SmoothDistance(streams[2], rec.Metadata.DistWindow, log)

	if rl := b.rewards.ReadFile(filepath.Join(dir, files.RewardLog), log); rl != nil {
		rec.Rewards = rl.Events
		rec.Switches = rl.Switches
	}

	cams := b.aligner.AlignAll(b.channels(dir), float64(rec.Metadata.CameraFPS), log)
	rec.FrontCam, rec.SceneCam, rec.FaceCam = cams[0], cams[1], cams[2]
	rec.State = StatePreprocessed

	if rec.FaceCam != nil {
		if rec.Lick == nil {
			log.Warn("[Session] lick data absent; face camera lick frames will be empty")
		}
		if rec.Rewards == nil {
			log.Warn("[Session] reward data absent; face camera reward frames will be empty")
		}
		rec.FaceAnnotations = Annotate(rec.FaceCam, rec.Lick, rec.Rewards, b.lookahead)
		rec.State = StateFrameAnnotated
	}

	dest := filepath.Join(dir, out.PreprocPrefix+rec.Name())
	if err := b.persist(rec, dest, log); err != nil {
		return nil, fmt.Errorf("failed to persist session %s: %w", rec.ID(), err)
	}
	rec.State = StatePersisted

	rec.State = StateReady
	log.Info("[Session] session ready", zap.String("name", rec.Name()), zap.Duration("duration", rec.Duration()))
	return rec, nil
}

func (b *Builder) channels(dir string) []video.Channel {
	f := b.cfg.Files
	return []video.Channel{
		{Name: CameraFront, Video: filepath.Join(dir, f.FrontCam), Timestamps: filepath.Join(dir, f.FrontCamTS)},
		{Name: CameraScene, Video: filepath.Join(dir, f.SceneCam), Timestamps: filepath.Join(dir, f.SceneCamTS)},
		{Name: CameraFace, Video: filepath.Join(dir, f.FaceCam), Timestamps: filepath.Join(dir, f.FaceCamTS)},
	}
}

// encode pairs every artifact name with its encoded stream; absent streams
// map to nil.
func (b *Builder) encode(rec *Record) []namedFile {
	out := b.cfg.Outputs
	files := []namedFile{
		{out.ExpFrameTS, nil},
		{out.Lick, nil},
		{out.DistanceLeft, nil},
		{out.Reward, nil},
		{out.OnOffSwitches, nil},
		{out.FrontCamTS, nil},
		{out.SceneCamTS, nil},
		{out.FaceCamTS, nil},
		{out.FaceCamAnnotated, nil},
	}
	if rec.Photoresistor != nil {
		files[0].file = artifact.FromSeries(out.ExpFrameTS, rec.Photoresistor)
	}
	if rec.Lick != nil {
		files[1].file = artifact.FromIntervals(out.Lick, rec.Lick)
	}
	if rec.Distance != nil {
		files[2].file = artifact.FromSeries(out.DistanceLeft, rec.Distance)
	}
	if rec.Rewards != nil {
		files[3].file = artifact.FromEvents(out.Reward, rec.Rewards)
	}
	if rec.Switches != nil {
		files[4].file = artifact.FromSwitches(out.OnOffSwitches, rec.Switches)
	}
	for i, cam := range []string{CameraFront, CameraScene, CameraFace} {
		if t := rec.Camera(cam); t != nil {
			files[5+i].file = artifact.FromIntervals(files[5+i].name, t)
		}
	}
	if a := rec.FaceAnnotations; a != nil {
		files[8].file = artifact.FromAnnotations(out.FaceCamAnnotated, a.Frames, a.Lick, a.Reward)
	}
	return files
}

type namedFile struct {
	name string
	file *artifact.File
}

func (b *Builder) persist(rec *Record, dest string, log *zap.Logger) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("make preproc dir: %w", err)
	}
	rec.PreprocDir = dest
	rec.Artifacts = rec.Artifacts[:0]

	for _, nf := range b.encode(rec) {
		if nf.file == nil {
			log.Warn("[Session] stream is absent; no file will be written", zap.String("stream", nf.name))
			rec.Artifacts = append(rec.Artifacts, StoredStream{Stream: nf.name})
			continue
		}
		path, err := artifact.Write(dest, nf.file)
		if err != nil {
			return err
		}
		rec.Artifacts = append(rec.Artifacts, StoredStream{Stream: nf.name, Path: path, Rows: nf.file.Rows, Present: true})
	}

	if err := artifact.WriteJSON(filepath.Join(dest, b.cfg.Files.Metadata), rec.Metadata); err != nil {
		return err
	}
	log.Info("[Session] preprocessed data written", zap.String("dir", dest))
	return nil
}

// FindPreprocDir returns the newest persisted output directory of the
// session in dir.
func FindPreprocDir(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoPreprocessed, dir)
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

func (b *Builder) read(dir string) (*Record, error) {
	src, err := FindPreprocDir(dir, b.cfg.Outputs.PreprocPrefix)
	if err != nil {
		return nil, err
	}
	rec := &Record{Dir: dir, PreprocDir: src, PrimaryCamera: b.cfg.Pipeline.PrimaryCamera}

	// The persisted sidecar wins over the raw one.
	if m, err := decodeMetadata(filepath.Join(src, b.cfg.Files.Metadata), DefaultMetadata(dir, b.cfg.Files.Notes)); err == nil {
		rec.Metadata = m
	} else {
		rec.Metadata = ReadMetadata(dir, b.cfg.Files, logging.ForSession(b.log, parse.SplitSessionDir(dir).ID()))
	}
	log := logging.ForSession(b.log, rec.ID())
	log.Info("[Session] loading preprocessed session", zap.String("dir", src), zap.String("mode", string(ModeRead)))

	out := b.cfg.Outputs
	load := func(name string) *artifact.File {
		f, err := artifact.Read(src, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Error("[Session] artifact not found; data will be absent", zap.String("stream", name))
			} else {
				log.Error("[Session] failed to load artifact; data will be absent", zap.String("stream", name), zap.Error(err))
			}
			rec.Artifacts = append(rec.Artifacts, StoredStream{Stream: name})
			return nil
		}
		rec.Artifacts = append(rec.Artifacts, StoredStream{Stream: name, Path: artifact.Path(src, name), Rows: f.Rows, Present: true})
		return f
	}
	failed := func(name string, err error) {
		log.Error("[Session] failed to decode artifact; data will be absent", zap.String("stream", name), zap.Error(err))
	}

	if f := load(out.ExpFrameTS); f != nil {
		if rec.Photoresistor, err = f.Series(); err != nil {
			failed(out.ExpFrameTS, err)
		}
	}
	if f := load(out.Lick); f != nil {
		if rec.Lick, err = f.Intervals(); err != nil {
			failed(out.Lick, err)
		}
	}
	if f := load(out.DistanceLeft); f != nil {
		if rec.Distance, err = f.Series(); err != nil {
			failed(out.DistanceLeft, err)
		}
	}
	if f := load(out.Reward); f != nil {
		if rec.Rewards, err = f.Events(); err != nil {
			failed(out.Reward, err)
		}
	}
	if f := load(out.OnOffSwitches); f != nil {
		if rec.Switches, err = f.Switches(); err != nil {
			failed(out.OnOffSwitches, err)
		}
	}
	cams := []string{out.FrontCamTS, out.SceneCamTS, out.FaceCamTS}
	for i, target := range []**timeline.Table{&rec.FrontCam, &rec.SceneCam, &rec.FaceCam} {
		if f := load(cams[i]); f != nil {
			if *target, err = f.Intervals(); err != nil {
				failed(cams[i], err)
			}
		}
	}
	if f := load(out.FaceCamAnnotated); f != nil {
		frames, lick, reward, err := f.Annotations()
		if err != nil {
			failed(out.FaceCamAnnotated, err)
		} else {
			rec.FaceAnnotations = &Annotations{Frames: frames, Lick: lick, Reward: reward}
		}
	}
	rec.State = StateLoaded

	rec.State = StateReady
	log.Info("[Session] session ready", zap.String("name", rec.Name()), zap.Duration("duration", rec.Duration()))
	return rec, nil
}
