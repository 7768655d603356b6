package observability

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBounds are the upper bounds of the latency buckets; the last
// bucket is unbounded.
var LatencyBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Monitor collects per-route request metrics. It is safe for concurrent use
// by all connection goroutines.
type Monitor struct {
	enabled atomic.Bool
	routes  sync.Map // route -> *routeMetrics
	global  struct {
		totalRequests atomic.Uint64
		totalErrors   atomic.Uint64
		totalDuration atomic.Uint64
	}
}

type routeMetrics struct {
	count          atomic.Uint64
	errors         atomic.Uint64
	totalDuration  atomic.Uint64
	minDuration    atomic.Uint64
	maxDuration    atomic.Uint64
	latencyBuckets [len(LatencyBounds) + 1]atomic.Uint64
}

// RouteStats is a point-in-time copy of the metrics of one route.
type RouteStats struct {
	Route          string
	Count          uint64
	Errors         uint64
	Avg            time.Duration
	Min            time.Duration
	Max            time.Duration
	LatencyBuckets [len(LatencyBounds) + 1]uint64
}

// Bottleneck is a route whose metrics cross a threshold.
type Bottleneck struct {
	Type     string
	Location string
	Severity int
	Impact   float64
	Details  string
}

// NewMonitor creates an enabled monitor
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.enabled.Store(true)
	return m
}

// SetEnabled switches recording on or off.
func (m *Monitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// RecordRequest records one served request.
func (m *Monitor) RecordRequest(route string, duration time.Duration, isError bool) {
	if !m.enabled.Load() {
		return
	}

	val, _ := m.routes.LoadOrStore(route, &routeMetrics{})
	rm := val.(*routeMetrics)

	d := uint64(duration.Nanoseconds())
	rm.count.Add(1)
	if isError {
		rm.errors.Add(1)
		m.global.totalErrors.Add(1)
	}
	rm.totalDuration.Add(d)
	updateMinMax(rm, d)
	rm.latencyBuckets[bucketFor(duration)].Add(1)

	m.global.totalRequests.Add(1)
	m.global.totalDuration.Add(d)
}

// StartTrace starts timing; it returns 0 when the monitor is disabled.
func (m *Monitor) StartTrace() int64 {
	if !m.enabled.Load() {
		return 0
	}
	return time.Now().UnixNano()
}

// EndTrace records the request started at startTime.
func (m *Monitor) EndTrace(route string, startTime int64, isError bool) {
	if startTime == 0 {
		return
	}
	m.RecordRequest(route, time.Duration(time.Now().UnixNano()-startTime), isError)
}

// Stats returns the metrics of route.
func (m *Monitor) Stats(route string) (RouteStats, bool) {
	val, ok := m.routes.Load(route)
	if !ok {
		return RouteStats{}, false
	}
	return snapshot(route, val.(*routeMetrics)), true
}

// Snapshot returns the metrics of every route, sorted by route.
func (m *Monitor) Snapshot() []RouteStats {
	var out []RouteStats
	m.routes.Range(func(key, value any) bool {
		out = append(out, snapshot(key.(string), value.(*routeMetrics)))
		return true
	})
	slices.SortFunc(out, func(a, b RouteStats) int {
		switch {
		case a.Route < b.Route:
			return -1
		case a.Route > b.Route:
			return 1
		}
		return 0
	})
	return out
}

// Totals returns the request count, error count and cumulative latency over
// all routes.
func (m *Monitor) Totals() (requests, errors uint64, duration time.Duration) {
	return m.global.totalRequests.Load(),
		m.global.totalErrors.Load(),
		time.Duration(m.global.totalDuration.Load())
}

// Bottlenecks reports routes averaging over 100ms or failing more than 5%
// of their requests.
func (m *Monitor) Bottlenecks() []Bottleneck {
	var out []Bottleneck
	for _, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}

		if s.Avg > 100*time.Millisecond {
			out = append(out, Bottleneck{
				Type:     "latency",
				Location: s.Route,
				Severity: 8,
				Impact:   100.0,
				Details:  fmt.Sprintf("High latency (%v avg)", s.Avg),
			})
		}

		if rate := float64(s.Errors) / float64(s.Count); s.Errors > 0 && rate > 0.05 {
			out = append(out, Bottleneck{
				Type:     "errors",
				Location: s.Route,
				Severity: 10,
				Impact:   rate * 100,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}
	return out
}

func snapshot(route string, rm *routeMetrics) RouteStats {
	s := RouteStats{
		Route:  route,
		Count:  rm.count.Load(),
		Errors: rm.errors.Load(),
		Min:    time.Duration(rm.minDuration.Load()),
		Max:    time.Duration(rm.maxDuration.Load()),
	}
	if s.Count > 0 {
		s.Avg = time.Duration(rm.totalDuration.Load() / s.Count)
	}
	for i := range rm.latencyBuckets {
		s.LatencyBuckets[i] = rm.latencyBuckets[i].Load()
	}
	return s
}

func updateMinMax(rm *routeMetrics, d uint64) {
	for {
		lo := rm.minDuration.Load()
		if lo != 0 && d >= lo {
			break
		}
		if rm.minDuration.CompareAndSwap(lo, d) {
			break
		}
	}
	for {
		hi := rm.maxDuration.Load()
		if d <= hi {
			break
		}
		if rm.maxDuration.CompareAndSwap(hi, d) {
			break
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range LatencyBounds {
		if d < bound {
			return i
		}
	}
	return len(LatencyBounds)
}
