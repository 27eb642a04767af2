package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/discfield/internal/config"
	"github.com/banshee-data/discfield/internal/db"
	"github.com/banshee-data/discfield/internal/depth"
	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/measure"
	"github.com/banshee-data/discfield/internal/monitoring"
	"github.com/banshee-data/discfield/internal/render"
	"github.com/banshee-data/discfield/internal/serialmux"
	"github.com/banshee-data/discfield/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type testEnv struct {
	src    *depth.SyntheticSource
	ctrl   *measure.Controller
	disp   *render.Dispatcher
	scene  *render.Scene
	link   *serialmux.Link
	store  *db.DB
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	src := depth.NewSyntheticSource(4, 4, 1.0)
	scene := render.NewScene(2)
	link := serialmux.NewLink(serialmux.MockOpener(), store)
	disp := render.NewDispatcher(64, scene, serialmux.NewActuator(link))

	cfg := measure.ConfigFromTuning(config.EmptyTuningConfig())
	ctrl := measure.New(src, cfg, measure.Options{
		Clock:    timeutil.NewMockClock(time.Unix(0, 0)),
		Renderer: disp,
		Store:    store,
	})

	s := NewServer(ctrl, scene, nil, link, store)
	s.listPorts = func() ([]string, error) { return []string{"/dev/ttyACM0"}, nil }
	srv := httptest.NewServer(LoggingMiddleware(s.ServeMux()))

	t.Cleanup(func() {
		srv.Close()
		ctrl.Close()
		disp.Close()
		link.Close()
		store.Close()
	})
	return &testEnv{src: src, ctrl: ctrl, disp: disp, scene: scene, link: link, store: store, server: s, http: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.disp.Flush(ctx))
}

func (e *testEnv) calibrate(t *testing.T) {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/calibration/corner", `{"x":0,"y":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["complete"])
	assert.EqualValues(t, 1, body["picks"])

	code, body = e.do(t, http.MethodPost, "/api/calibration/corner", `{"x":8,"y":8}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["complete"])
	require.NotNil(t, body["region"])

	code, body = e.do(t, http.MethodPost, "/api/baseline", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 16, body["baseline_valid"])
	assert.EqualValues(t, 16, body["region_len"])
}

func TestUncalibratedRequests(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodPost, "/api/loop/start", "")
	assert.Equal(t, http.StatusPreconditionFailed, code)
	assert.NotEmpty(t, body["error"])

	code, _ = e.do(t, http.MethodPost, "/api/baseline", "")
	assert.Equal(t, http.StatusPreconditionFailed, code)

	code, _ = e.do(t, http.MethodPost, "/api/compare", "")
	assert.Equal(t, http.StatusPreconditionFailed, code)

	code, _ = e.do(t, http.MethodGet, "/api/loop/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, body = e.do(t, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["loop"])
	assert.Nil(t, body["region"])
}

func TestCornerErrors(t *testing.T) {
	e := newTestEnv(t)

	code, _ := e.do(t, http.MethodPost, "/api/calibration/corner", `{"x":`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/calibration/corner", `{"x":2,"y":2}`)
	require.Equal(t, http.StatusOK, code)
	code, body := e.do(t, http.MethodPost, "/api/calibration/corner", `{"x":2,"y":6}`)
	assert.Equal(t, http.StatusConflict, code, "zero-width region")
	assert.Contains(t, body["error"], "region")

	code, body = e.do(t, http.MethodPost, "/api/calibration/corner", `{"x":6,"y":6}`)
	require.Equal(t, http.StatusOK, code, "first corner survives a degenerate pick")
	assert.Equal(t, true, body["complete"])

	code, _ = e.do(t, http.MethodPost, "/api/calibration/corner", `{"x":0,"y":0}`)
	assert.Equal(t, http.StatusConflict, code, "third pick needs a reset")

	code, body = e.do(t, http.MethodPost, "/api/calibration/reset", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["region"])
}

func TestCompareAndDistance(t *testing.T) {
	e := newTestEnv(t)
	e.src.Enqueue(nil, &depth.Disc{X: 2, Y: 3, Distance: 0.4})
	e.calibrate(t)

	code, body := e.do(t, http.MethodPost, "/api/compare", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1 / 16", body["ratio"])

	code, body = e.do(t, http.MethodGet, "/api/distance?x=1&y=1", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1.0, body["distance"])

	code, _ = e.do(t, http.MethodGet, "/api/distance?x=0&y=1", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/api/distance?x=a&y=1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	e.src.FailNext(1)
	code, _ = e.do(t, http.MethodGet, "/api/distance?x=1&y=1", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLoopLifecycleDrivesActuator(t *testing.T) {
	e := newTestEnv(t)
	e.src.Enqueue(nil, &depth.Disc{X: 1, Y: 2, Distance: 0.5})
	e.calibrate(t)

	code, body := e.do(t, http.MethodPost, "/api/actuator/connect", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["connected"])

	code, body = e.do(t, http.MethodPost, "/api/loop/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["started"])
	assert.Equal(t, "running", body["loop"])
	assert.NotEmpty(t, body["run_id"])

	code, body = e.do(t, http.MethodPost, "/api/loop/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["started"], "second start is a no-op")

	code, _ = e.do(t, http.MethodPost, "/api/calibration/reset", "")
	assert.Equal(t, http.StatusConflict, code, "no recalibration while running")

	code, body = e.do(t, http.MethodPost, "/api/loop/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["stopping"])
	e.ctrl.Wait()
	e.flush(t)

	code, body = e.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["loop"])
	assert.Len(t, body["trajectory"], 1)

	st := e.scene.Snapshot()
	assert.True(t, st.Committed)

	require.Eventually(t, func() bool {
		cmds, err := e.store.ListCommands(context.Background(), 10)
		if err != nil {
			return false
		}
		var tx []string
		for _, c := range cmds {
			if c.Direction == serialmux.DirectionTx {
				tx = append(tx, c.Message)
			}
		}
		return fmt.Sprint(tx) == "[END 1,2 START]"
	}, 5*time.Second, 10*time.Millisecond)

	code, body = e.do(t, http.MethodPost, "/api/loop/toggle", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["loop"])
	code, body = e.do(t, http.MethodPost, "/api/loop/toggle", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, "running", body["loop"])
	e.ctrl.Wait()
}

func TestActuatorRoutes(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, http.MethodGet, "/api/actuator", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["connected"])

	code, _ = e.do(t, http.MethodPost, "/api/actuator/send", url.Values{"command": {"START"}}.Encode())
	assert.Equal(t, http.StatusServiceUnavailable, code, "send while disconnected")

	code, _ = e.do(t, http.MethodPost, "/api/actuator/connect", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodPost, "/api/actuator/send", url.Values{"command": {""}}.Encode())
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodPost, "/api/actuator/send", url.Values{"command": {"START"}}.Encode())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["sent"])

	require.Eventually(t, func() bool {
		cmds, _ := e.store.ListCommands(context.Background(), 10)
		return len(cmds) >= 3 && cmds[0].Message == "ACK START"
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(e.http.URL + "/api/actuator/log?limit=2")
	require.NoError(t, err)
	var cmds []db.ActuatorCommand
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cmds))
	resp.Body.Close()
	assert.Len(t, cmds, 2)

	code, _ = e.do(t, http.MethodGet, "/api/actuator/log?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodPost, "/api/actuator/disconnect", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["connected"])

	code, body = e.do(t, http.MethodGet, "/api/ports", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"/dev/ttyACM0"}, body["ports"])
}

func TestCalibrationsListed(t *testing.T) {
	e := newTestEnv(t)
	e.calibrate(t)

	resp, err := http.Get(e.http.URL + "/api/calibrations")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []db.CalibrationRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, 16, list[0].PixelCount)
}

func TestCharts(t *testing.T) {
	e := newTestEnv(t)
	e.calibrate(t)
	e.flush(t)

	resp, err := http.Get(e.http.URL + "/chart")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(e.http.URL + "/chart.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestBaselineResponseAfterReset(t *testing.T) {
	body := baselineResponse(measure.State{})
	assert.Equal(t, 0, body["region_len"])
	assert.Nil(t, body["region"])

	r := field.Region{TopLeft: field.Point{X: 1, Y: 1}, BottomRight: field.Point{X: 4, Y: 3}}
	body = baselineResponse(measure.State{Region: &r, BaselineValid: 6})
	assert.Equal(t, 6, body["region_len"])
	assert.Equal(t, 6, body["baseline_valid"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{measure.ErrInvalidRegion, http.StatusConflict},
		{measure.ErrLoopBusy, http.StatusConflict},
		{measure.ErrDegenerateGeometry, http.StatusUnprocessableEntity},
		{measure.ErrUncalibrated, http.StatusPreconditionFailed},
		{fmt.Errorf("%w: timeout", measure.ErrDepthSourceUnavailable), http.StatusServiceUnavailable},
		{measure.ErrOutOfFrame, http.StatusBadRequest},
		{serialmux.ErrNotConnected, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
