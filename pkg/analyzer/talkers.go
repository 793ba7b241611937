package analyzer

import (
	"sort"

	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

// TopTalkers 统计窗口内每个地址作为源或目的出现的次数，
// 按次数降序，次数相同按首次出现顺序，返回前k个
func TopTalkers(entries []types.PacketSummary, k int) []types.TalkerStat {
	if k <= 0 {
		return []types.TalkerStat{}
	}

	index := make(map[string]int)
	stats := make([]types.TalkerStat, 0)
	tally := func(addr string) {
		if addr == "" {
			return
		}
		if i, ok := index[addr]; ok {
			stats[i].Count++
			return
		}
		index[addr] = len(stats)
		stats = append(stats, types.TalkerStat{Address: addr, Count: 1})
	}

	for _, e := range entries {
		src, dst := e.Addresses()
		tally(src)
		tally(dst)
	}

	// stats已按首次出现排序，稳定排序保证并列时顺序不变
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Count > stats[j].Count
	})

	if len(stats) > k {
		stats = stats[:k]
	}
	return stats
}
