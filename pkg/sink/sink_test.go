package sink

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/traffic_analyzer/pkg/testutil"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPcap(t *testing.T, path string) [][]byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	var out [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, data)
	}
}

func TestPcapSinkWritesSession(t *testing.T) {
	sink, err := NewPcapSink(t.TempDir(), "test", 0)
	require.NoError(t, err)

	session := types.SessionInfo{ID: "0123456789abcdef", StartedAt: time.Now()}
	require.NoError(t, sink.Open(session))

	frames := []types.Frame{
		testutil.TCP("10.0.0.1", "10.0.0.2", 40000, 80),
		testutil.DNS("10.0.0.1", "8.8.8.8", "example.com"),
	}
	for _, frame := range frames {
		require.NoError(t, sink.Write(frame))
	}
	// 空帧被忽略
	require.NoError(t, sink.Write(types.Frame{}))
	require.NoError(t, sink.Close(types.SessionReport{Session: session}))

	files := sink.Files()
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "test_01234567_")

	got := readPcap(t, files[0])
	require.Len(t, got, 2)
	assert.Equal(t, frames[0].Data, got[0])
	assert.Equal(t, frames[1].Data, got[1])
}

func TestPcapSinkRotation(t *testing.T) {
	frames := testutil.PortSweep("10.0.0.9", "10.0.0.1", 1, 6)
	frameSize := int64(len(frames[0].Data)) + 16

	// 每个文件最多两个包
	sink, err := NewPcapSink(t.TempDir(), "rotate", frameSize*2)
	require.NoError(t, err)
	require.NoError(t, sink.Open(types.SessionInfo{ID: "session-a"}))
	for _, frame := range frames {
		require.NoError(t, sink.Write(frame))
	}
	require.NoError(t, sink.Close(types.SessionReport{}))

	files := sink.Files()
	require.Len(t, files, 3)
	total := 0
	for _, f := range files {
		total += len(readPcap(t, f))
	}
	assert.Equal(t, len(frames), total)

	// 新会话重新开始计数
	require.NoError(t, sink.Open(types.SessionInfo{ID: "session-b"}))
	assert.Empty(t, sink.Files())
}

func TestArchiveSinkWritesReportAndAlerts(t *testing.T) {
	var (
		mu     sync.Mutex
		alerts []map[string]interface{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		mu.Lock()
		alerts = append(alerts, alert)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewArchiveSink(t.TempDir(), server.URL)
	require.NoError(t, err)

	report := types.SessionReport{
		Session: types.SessionInfo{ID: "abc", Interface: "eth0", StopReason: types.StopReasonRequested},
		Statistics: types.CaptureStatistics{
			TotalPackets: 2,
			TotalBytes:   120,
		},
		Findings: []types.Finding{
			{Kind: types.FindingPortScan, Severity: types.SeverityHigh, Description: "scan", Address: "10.0.0.9", PortCount: 25},
			{Kind: types.FindingICMPFlood, Severity: types.SeverityHigh, Description: "flood", PacketCount: 150},
		},
		TopTalkers: []types.TalkerStat{{Address: "10.0.0.9", Count: 2}},
	}
	require.NoError(t, sink.Open(report.Session))
	require.NoError(t, sink.Write(testutil.ICMPEcho("10.0.0.1", "10.0.0.2")))
	require.NoError(t, sink.Close(report))

	data, err := os.ReadFile(sink.ReportPath("abc"))
	require.NoError(t, err)
	var archived map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &archived))
	assert.Contains(t, archived, "suspicious_activities")
	assert.Contains(t, archived, "top_talkers")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 2)
	assert.Equal(t, "PortScan", alerts[0]["alert_type"])
	assert.Equal(t, "10.0.0.9", alerts[0]["source_ip"])
	assert.Equal(t, "abc", alerts[1]["session_id"])
}

// 告警地址不可达时归档仍然成功
func TestArchiveSinkWebhookUnreachable(t *testing.T) {
	sink, err := NewArchiveSink(t.TempDir(), "http://127.0.0.1:1/event")
	require.NoError(t, err)

	report := types.SessionReport{
		Session:  types.SessionInfo{ID: "def"},
		Findings: []types.Finding{{Kind: types.FindingDNSTunneling, Severity: types.SeverityMedium}},
	}
	require.NoError(t, sink.Close(report))
	_, err = os.Stat(sink.ReportPath("def"))
	assert.NoError(t, err)
}
