package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haolipeng/traffic_analyzer/pkg/config"
	"github.com/haolipeng/traffic_analyzer/pkg/filter"
	"github.com/haolipeng/traffic_analyzer/pkg/metrics"
	"github.com/haolipeng/traffic_analyzer/pkg/pipeline"
	"github.com/haolipeng/traffic_analyzer/pkg/source"
	"github.com/haolipeng/traffic_analyzer/pkg/testutil"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	server     *Server
	controller *pipeline.Controller
}

func newTestEnv(t *testing.T, frames []types.Frame, hold bool) *testEnv {
	t.Helper()
	factory := pipeline.SourceFactoryFunc(func(iface string) (pipeline.Source, error) {
		if iface == "missing0" {
			return nil, errors.New("no such device")
		}
		src := source.NewReplaySource(frames)
		src.Hold = hold
		return src, nil
	})
	controller := pipeline.NewController(factory, pipeline.Options{})
	t.Cleanup(func() { controller.Shutdown() })

	lib := filter.NewLibrary()
	require.NoError(t, lib.LoadFile(filepath.Join("..", "..", "filters", "default.yaml")))

	server := NewServer(config.Default())
	server.RegisterCaptureService(NewCaptureService(controller, lib))
	server.RegisterMetrics(metrics.NewRegistry(controller))
	return &testEnv{server: server, controller: controller}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, apiResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.GetEcho().ServeHTTP(rec, req)

	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func (e *testEnv) waitStopped(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.controller.Status().State == types.StateStopped
	}, 3*time.Second, 5*time.Millisecond)
}

func trafficFrames() []types.Frame {
	frames := testutil.PortSweep("10.0.0.9", "10.0.0.1", 1, 25)
	frames = append(frames,
		testutil.DNS("10.0.0.2", "8.8.8.8", "example.com"),
		testutil.ICMPEcho("10.0.0.3", "10.0.0.1"),
	)
	return frames
}

func TestCaptureLifecycleAPI(t *testing.T) {
	env := newTestEnv(t, trafficFrames(), false)

	// 未启动时查询返回零值
	code, resp := env.do(t, http.MethodGet, "/api/packets/status", "")
	require.Equal(t, http.StatusOK, code)
	var status types.SessionStatus
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.False(t, status.IsCapturing)
	assert.Zero(t, status.Statistics.TotalPackets)
	assert.Equal(t, types.Thresholds{PortScan: 20, DNS: 50, ICMP: 100}, status.Thresholds)

	code, resp = env.do(t, http.MethodPost, "/api/packets/start", `{"interface":"test0"}`)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var started struct {
		Started bool              `json:"started"`
		Session types.SessionInfo `json:"session"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &started))
	assert.True(t, started.Started)
	assert.Equal(t, "test0", started.Session.Interface)

	env.waitStopped(t)

	code, resp = env.do(t, http.MethodGet, "/api/packets/protocols", "")
	require.Equal(t, http.StatusOK, code)
	var dist map[string]uint64
	require.NoError(t, json.Unmarshal(resp.Data, &dist))
	assert.Equal(t, uint64(25), dist["TCP"])
	assert.Equal(t, uint64(1), dist["DNS"])
	assert.Equal(t, uint64(1), dist["ICMP"])

	code, resp = env.do(t, http.MethodGet, "/api/packets/suspicious", "")
	require.Equal(t, http.StatusOK, code)
	var findings []types.Finding
	require.NoError(t, json.Unmarshal(resp.Data, &findings))
	require.Len(t, findings, 1)
	assert.Equal(t, types.FindingPortScan, findings[0].Kind)

	code, resp = env.do(t, http.MethodGet, "/api/packets/top-talkers?limit=2", "")
	require.Equal(t, http.StatusOK, code)
	var talkers []types.TalkerStat
	require.NoError(t, json.Unmarshal(resp.Data, &talkers))
	require.Len(t, talkers, 2)
	assert.Equal(t, "10.0.0.1", talkers[0].Address)
	assert.Equal(t, 26, talkers[0].Count)

	code, resp = env.do(t, http.MethodGet, "/api/packets/analysis", "")
	require.Equal(t, http.StatusOK, code)
	var analysis map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &analysis))
	assert.Equal(t, float64(27), analysis["total_packets"])
	assert.Equal(t, "Stopped", analysis["capture_status"])

	// 停止是幂等的
	code, _ = env.do(t, http.MethodPost, "/api/packets/stop", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodDelete, "/api/packets", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, env.controller.Statistics().TotalPackets)
}

func TestRecentPacketsAPI(t *testing.T) {
	env := newTestEnv(t, trafficFrames(), false)
	code, _ := env.do(t, http.MethodPost, "/api/packets/start", "")
	require.Equal(t, http.StatusOK, code)
	env.waitStopped(t)

	type recent struct {
		Count   int                   `json:"count"`
		Packets []types.PacketSummary `json:"packets"`
	}

	testCases := []struct {
		name      string
		path      string
		wantCode  int
		wantCount int
	}{
		{"默认数量", "/api/packets/recent", http.StatusOK, 27},
		{"指定数量", "/api/packets/recent?limit=5", http.StatusOK, 5},
		{"数量为0", "/api/packets/recent?limit=0", http.StatusOK, 0},
		{"CEL过滤", "/api/packets/recent?filter=" + escape(`protocol == "TCP" && dst_port > 20`), http.StatusOK, 5},
		{"过滤后取最近", "/api/packets/recent?limit=2&filter=" + escape(`protocol == "TCP"`), http.StatusOK, 2},
		{"命名过滤器", "/api/packets/recent?filter_name=dns", http.StatusOK, 1},
		{"非法数量", "/api/packets/recent?limit=abc", http.StatusBadRequest, 0},
		{"负数数量", "/api/packets/recent?limit=-1", http.StatusBadRequest, 0},
		{"非法表达式", "/api/packets/recent?filter=" + escape(`protocol ==`), http.StatusBadRequest, 0},
		{"过滤器不存在", "/api/packets/recent?filter_name=nope", http.StatusNotFound, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodGet, tc.path, "")
			require.Equal(t, tc.wantCode, code, resp.Message)
			if code != http.StatusOK {
				return
			}
			var got recent
			require.NoError(t, json.Unmarshal(resp.Data, &got))
			assert.Equal(t, tc.wantCount, got.Count)
			assert.Len(t, got.Packets, tc.wantCount)
		})
	}

	// 过滤后保留最近的条目
	code, resp := env.do(t, http.MethodGet, "/api/packets/recent?limit=1&filter="+escape(`protocol == "TCP"`), "")
	require.Equal(t, http.StatusOK, code)
	var got recent
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	require.Len(t, got.Packets, 1)
	assert.Equal(t, uint16(25), got.Packets[0].DstPort)
}

func TestStartErrorsAPI(t *testing.T) {
	env := newTestEnv(t, nil, true)

	code, _ := env.do(t, http.MethodPost, "/api/packets/start", `{"max_packets":-1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/packets/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	// 超出time.Duration范围的时长
	for _, body := range []string{`{"max_duration":1e300}`, `{"max_duration":9300000000}`} {
		code, resp := env.do(t, http.MethodPost, "/api/packets/start", body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Contains(t, resp.Message, "max_duration must not exceed")
	}
	assert.Equal(t, types.StateIdle, env.controller.Status().State)

	code, resp := env.do(t, http.MethodPost, "/api/packets/start", `{"interface":"missing0"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "capture source unavailable", resp.Message)
	assert.Equal(t, types.StateIdle, env.controller.Status().State)

	code, _ = env.do(t, http.MethodPost, "/api/packets/start", `{"max_duration":30}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 30*time.Second, env.controller.Status().Session.MaxDuration)

	code, _ = env.do(t, http.MethodPost, "/api/packets/start", "")
	assert.Equal(t, http.StatusConflict, code)

	// 运行中不允许清空
	code, _ = env.do(t, http.MethodDelete, "/api/packets", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/api/packets/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.StateStopped, env.controller.Status().State)
}

func TestFiltersAPI(t *testing.T) {
	env := newTestEnv(t, nil, false)

	code, resp := env.do(t, http.MethodGet, "/api/filters", "")
	require.Equal(t, http.StatusOK, code)
	var filters []map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &filters))
	assert.Len(t, filters, 4)
	assert.Equal(t, "dns", filters[0]["name"])

	code, _ = env.do(t, http.MethodPost, "/api/filters/validate", `{"expression":"length > 100"}`)
	assert.Equal(t, http.StatusOK, code)

	code, resp = env.do(t, http.MethodPost, "/api/filters/validate", `{"expression":"length >"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(resp.Data), "error_detail")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, trafficFrames(), false)
	code, _ := env.do(t, http.MethodPost, "/api/packets/start", "")
	require.Equal(t, http.StatusOK, code)
	env.waitStopped(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.server.GetEcho().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `traffic_analyzer_session_packets{protocol="TCP"} 25`)
	assert.Contains(t, body, "traffic_analyzer_capture_running 0")
}

func TestFromCaptureError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"运行中", types.NewCaptureError("start", types.ErrAlreadyRunning), http.StatusConflict},
		{"数据源不可用", types.NewCaptureError("open", types.ErrSourceUnavailable), http.StatusServiceUnavailable},
		{"参数非法", types.NewCaptureError("start", types.ErrInvalidArgument), http.StatusBadRequest},
		{"未知错误", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FromCaptureError(tc.err).Code)
		})
	}
}

func escape(s string) string {
	return url.QueryEscape(s)
}
