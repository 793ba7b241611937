package filter

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []types.PacketSummary {
	now := time.Now()
	return []types.PacketSummary{
		{Timestamp: now, Length: 60, Protocol: types.ProtocolTCP,
			SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
			HasPorts: true, SrcPort: 40000, DstPort: 443, Info: "Flags: SYN"},
		{Timestamp: now, Length: 80, Protocol: types.ProtocolDNS,
			SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("8.8.8.8"),
			HasPorts: true, SrcPort: 53000, DstPort: 53, Info: "Query: example.com", Query: "example.com"},
		{Timestamp: now, Length: 1400, Protocol: types.ProtocolICMP,
			SrcIP: netip.MustParseAddr("10.0.0.3"), DstIP: netip.MustParseAddr("10.0.0.1"), Info: "Type: 8 Code: 0"},
		{Timestamp: now, Length: 2, Protocol: types.ProtocolOther},
	}
}

func TestFilterApply(t *testing.T) {
	testCases := []struct {
		name       string
		expression string
		want       int
	}{
		{"按协议", `protocol == "DNS"`, 1},
		{"按目的端口", `dst_port == 443`, 1},
		{"端口缺失为-1", `src_port == -1`, 2},
		{"按地址", `src_ip == "10.0.0.1" || dst_ip == "10.0.0.1"`, 3},
		{"地址缺失为空串", `src_ip == ""`, 1},
		{"按长度", `length > 1000`, 1},
		{"字符串函数", `query.endsWith(".com")`, 1},
		{"全部", `true`, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Compile(tc.expression)
			require.NoError(t, err)
			assert.Len(t, f.Apply(sampleEntries()), tc.want)
		})
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	f, err := Compile(`protocol != "Other"`)
	require.NoError(t, err)
	got := f.Apply(sampleEntries())
	require.Len(t, got, 3)
	assert.Equal(t, types.ProtocolTCP, got[0].Protocol)
	assert.Equal(t, types.ProtocolDNS, got[1].Protocol)
	assert.Equal(t, types.ProtocolICMP, got[2].Protocol)
}

func TestCompileErrors(t *testing.T) {
	testCases := []struct {
		name       string
		expression string
	}{
		{"空表达式", ""},
		{"语法错误", `protocol ==`},
		{"未知变量", `ttl > 3`},
		{"类型不匹配", `protocol > 3`},
		{"非布尔结果", `length + 1`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.expression)
			assert.Error(t, err)
		})
	}
}

func TestCompileCached(t *testing.T) {
	a, err := Compile(`protocol == "TCP"`)
	require.NoError(t, err)
	b, err := Compile(`protocol == "TCP"`)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestLibraryLoadFile(t *testing.T) {
	lib := NewLibrary()
	require.NoError(t, lib.LoadFile("../../filters/default.yaml"))

	names := make([]string, 0)
	for _, nf := range lib.List() {
		names = append(names, nf.Name)
	}
	assert.Equal(t, []string{"dns", "icmp", "large", "web"}, names)

	dns, ok := lib.Get("dns")
	require.True(t, ok)
	assert.Len(t, dns.Filter().Apply(sampleEntries()), 1)

	// 禁用的过滤器不加载
	_, ok = lib.Get("arp")
	assert.False(t, ok)
}

func TestLibraryLoadErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"YAML格式错误", "filters: [\n"},
		{"缺少名称", "filters:\n  - expression: 'true'\n"},
		{"名称重复", "filters:\n  - name: a\n    expression: 'true'\n  - name: a\n    expression: 'false'\n"},
		{"表达式错误", "filters:\n  - name: bad\n    expression: 'nope >'\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "filters.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0644))
			assert.Error(t, NewLibrary().LoadFile(path))
		})
	}

	assert.Error(t, NewLibrary().LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestLibraryLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte("filters:\n  - name: tcp\n    expression: protocol == \"TCP\"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"),
		[]byte("filters:\n  - name: udp\n    expression: protocol == \"UDP\"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	lib := NewLibrary()
	require.NoError(t, lib.LoadDirectory(dir))
	assert.Len(t, lib.List(), 2)
}
