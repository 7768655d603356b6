package core

import (
	"encoding/json"
	"fmt"
)

// PoolStats represents statistics for the read buffer pool
type PoolStats struct {
	Gets    uint64  `json:"gets"`
	Puts    uint64  `json:"puts"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// PoolStats returns statistics for the read buffers handed to connections
func (e *Engine) PoolStats() PoolStats {
	s := e.bytePool.Stats()

	stats := PoolStats{
		Gets:   s.Gets,
		Puts:   s.Puts,
		Misses: s.Misses,
	}
	if s.Gets > 0 {
		stats.HitRate = float64(s.Gets-s.Misses) / float64(s.Gets)
	}
	return stats
}

// PoolStatsJSON returns pool statistics as JSON string
func (e *Engine) PoolStatsJSON() string {
	data, _ := json.MarshalIndent(e.PoolStats(), "", "  ")
	return string(data)
}

// PoolStatsText returns pool statistics as human-readable text
func (e *Engine) PoolStatsText() string {
	stats := e.PoolStats()
	return fmt.Sprintf(`Read Buffer Pool
================

  Gets:     %d
  Puts:     %d
  Misses:   %d
  Hit Rate: %.2f%%
`,
		stats.Gets, stats.Puts, stats.Misses, stats.HitRate*100,
	)
}
