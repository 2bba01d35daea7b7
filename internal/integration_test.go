package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"behavior-session-backend/config"
	"behavior-session-backend/internal/api"
	"behavior-session-backend/internal/dataset"
	"behavior-session-backend/internal/db"
	"behavior-session-backend/internal/model"
	"behavior-session-backend/internal/session"
	"behavior-session-backend/internal/store"
	"behavior-session-backend/internal/video"
)

const (
	nFrames  = 60
	baseUnix = 1696490591.0
)

type stubCapture struct{}

func (stubCapture) FrameCount() int { return nFrames }
func (stubCapture) FPS() float64    { return 30 }
func (stubCapture) Close() error    { return nil }

type stubOpener struct{}

func (stubOpener) Open(path string) (video.Capture, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return stubCapture{}, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// writeSession lays out one recording. Sensor and reward logs are only
// written when full is set.
func writeSession(t *testing.T, root, day, clock string, full bool) {
	t.Helper()
	cfg := config.Default()
	dir := filepath.Join(root, day, clock)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	if full {
		var csv strings.Builder
		csv.WriteString("id,value,arduino_counter,arduino_timestamp,logging_timestamp\n")
		for i := 0; i < 30; i++ {
			ts := baseUnix + float64(i)*0.1
			switch i % 3 {
			case 0:
				fmt.Fprintf(&csv, "photoResistor,%d,%d,%.3f,%.3f\n", 800+i, i, ts, ts)
			case 1:
				fmt.Fprintf(&csv, "lickSensor,%d,%d,%.3f,%.3f\n", (i/3)%2, i, ts, ts)
			case 2:
				fmt.Fprintf(&csv, "distanceSensorLeft,%.2f,%d,%.3f,%.3f\n", 10+float64(i)/4, i, ts, ts)
			}
		}
		writeFile(t, dir, cfg.Files.SensorLog, csv.String())
		writeFile(t, dir, cfg.Files.RewardLog, "2023-10-05 07:23:00,000 ON\nreward 1696490591.51\nreward 1696490592.2\n")
	}

	for i, pair := range [][2]string{
		{cfg.Files.FrontCam, cfg.Files.FrontCamTS},
		{cfg.Files.SceneCam, cfg.Files.SceneCamTS},
		{cfg.Files.FaceCam, cfg.Files.FaceCamTS},
	} {
		writeFile(t, dir, pair[0], "video")
		var ts strings.Builder
		for f := 0; f < nFrames; f++ {
			fmt.Fprintf(&ts, "%d %.6f\n", f, baseUnix+float64(i)*0.001+float64(f)/30)
		}
		writeFile(t, dir, pair[1], ts.String())
	}
}

// TestDatasetLifecycle processes a small dataset into an in-memory catalog,
// serves it over the read API, then processes it again from the persisted
// outputs.
func TestDatasetLifecycle(t *testing.T) {
	// --- Test Setup ---
	root := t.TempDir()
	writeSession(t, root, "2023-10-05", "08-15-30", true)
	writeSession(t, root, "2023-10-06", "09-00-00", false)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tobiiImgs"), 0o755))

	cfg := config.Default()
	cfg.Dataset.Root = root
	cfg.Pipeline.SwitchTimezone = "UTC"
	cfg.Database.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	cfg.Server.RateLimitBurst = 100

	logger := zap.NewNop()
	gormDB, err := db.Init(&cfg.Database, logger)
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	appStore := store.NewGormStore(gormDB)
	builder, err := session.NewBuilder(cfg, stubOpener{}, logger)
	require.NoError(t, err)
	svc := dataset.NewService(cfg, appStore, builder, logger)

	// --- First pass: derive everything ---
	records, err := svc.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, session.StateReady, rec.State, rec.ID())
		assert.NotEmpty(t, rec.PreprocDir, rec.ID())
	}

	var count int64
	require.NoError(t, gormDB.Model(&model.Session{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	// --- Read API ---
	gin.SetMode(gin.TestMode)
	router := api.NewRouter(appStore, cfg.Server, logger)
	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, target, nil)
		router.ServeHTTP(w, req)
		return w
	}

	w := get("/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	var listing []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing, 2)
	assert.Equal(t, "2023-10-05_08-15-30", listing[0]["id"])
	assert.Equal(t, 2.0, listing[0]["rewardEvents"])
	assert.Equal(t, 0.0, listing[1]["rewardEvents"])

	w = get("/api/sessions?min_duration=1h")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = get("/api/sessions/2023-10-06_09-00-00")
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Streams []struct {
			Stream  string `json:"stream"`
			Present bool   `json:"present"`
		} `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	present := map[string]bool{}
	for _, s := range detail.Streams {
		present[s.Stream] = s.Present
	}
	assert.True(t, present[cfg.Outputs.FrontCamTS])
	assert.False(t, present[cfg.Outputs.Lick])
	assert.False(t, present[cfg.Outputs.Reward])

	w = get("/api/sessions/2023-10-05_08-15-30/streams/" + cfg.Outputs.Reward)
	require.Equal(t, http.StatusOK, w.Code)
	var file struct {
		Stream string `json:"stream"`
		Rows   int    `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.Equal(t, cfg.Outputs.Reward, file.Stream)
	assert.Equal(t, 2, file.Rows)

	assert.Equal(t, http.StatusNotFound, get("/api/sessions/2023-10-06_09-00-00/streams/"+cfg.Outputs.Lick).Code)
	assert.Equal(t, http.StatusNotFound, get("/api/sessions/1999-01-01_00-00-00").Code)

	// --- Second pass: reuse persisted outputs ---
	cfg.Dataset.UsePrecomputed = true
	again, err := svc.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, records[0].Rewards, again[0].Rewards)
	assert.Equal(t, records[0].LickBoutCount(), again[0].LickBoutCount())
	assert.Equal(t, records[0].Name(), again[0].Name())

	require.NoError(t, gormDB.Model(&model.Session{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	var artifacts int64
	require.NoError(t, gormDB.Model(&model.Artifact{}).Count(&artifacts).Error)
	assert.Equal(t, int64(18), artifacts)
}
