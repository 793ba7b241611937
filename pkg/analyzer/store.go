package analyzer

import (
	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

// DefaultStoreCapacity 默认保留最近1000个包
const DefaultStoreCapacity = 1000

// PacketStore 固定容量的环形缓冲区，满时淘汰最旧的一条
// 与Aggregator一样由调用方负责同步
type PacketStore struct {
	buf  []types.PacketSummary
	head int // 最旧元素下标
	size int
}

func NewPacketStore(capacity int) *PacketStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &PacketStore{
		buf: make([]types.PacketSummary, capacity),
	}
}

// Insert 追加到尾部，已满时先淘汰头部
func (s *PacketStore) Insert(summary types.PacketSummary) {
	capacity := len(s.buf)
	if s.size == capacity {
		s.buf[s.head] = summary
		s.head = (s.head + 1) % capacity
		return
	}
	s.buf[(s.head+s.size)%capacity] = summary
	s.size++
}

// Recent 按插入顺序返回最近limit条
func (s *PacketStore) Recent(limit int) []types.PacketSummary {
	if limit <= 0 {
		return []types.PacketSummary{}
	}
	if limit > s.size {
		limit = s.size
	}
	return s.copyRange(s.size-limit, limit)
}

// All 返回当前窗口内全部数据的副本
func (s *PacketStore) All() []types.PacketSummary {
	return s.copyRange(0, s.size)
}

func (s *PacketStore) copyRange(offset, n int) []types.PacketSummary {
	out := make([]types.PacketSummary, n)
	capacity := len(s.buf)
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.head+offset+i)%capacity]
	}
	return out
}

func (s *PacketStore) Len() int {
	return s.size
}

func (s *PacketStore) Cap() int {
	return len(s.buf)
}

// Clear 清空窗口，会话重启时调用
func (s *PacketStore) Clear() {
	for i := range s.buf {
		s.buf[i] = types.PacketSummary{}
	}
	s.head = 0
	s.size = 0
}
