// Package sysmetrics samples host and process health into the JSON document
// used by the empty-task default and the proactive briefing.
package sysmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

const (
	collectorName = "codexmirror"
	schemaVersion = "metrics-v1"
)

// Snapshot is one sample.
type Snapshot struct {
	ID        string    `json:"id"`
	Metadata  Metadata  `json:"metadata"`
	Metrics   Metrics   `json:"metrics"`
	Timestamp time.Time `json:"timestamp"`
}

type Metadata struct {
	Collector     string `json:"collector"`
	SchemaVersion string `json:"schema_version"`
}

type Metrics struct {
	CPU           CPU        `json:"cpu"`
	Memory        *Memory    `json:"memory,omitempty"`
	Processes     *Processes `json:"processes,omitempty"`
	Runtime       Runtime    `json:"runtime"`
	UptimeSeconds int64      `json:"uptime_seconds"`
}

type CPU struct {
	Cores  int      `json:"cores"`
	Load1  *float64 `json:"load_1m,omitempty"`
	Load5  *float64 `json:"load_5m,omitempty"`
	Load15 *float64 `json:"load_15m,omitempty"`
}

type Memory struct {
	UsedMB      uint64  `json:"used_mb"`
	TotalMB     uint64  `json:"total_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type Processes struct {
	Running uint64 `json:"running"`
	Blocked uint64 `json:"blocked"`
}

type Runtime struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	NumGC       uint32  `json:"num_gc"`
}

// JSON renders the snapshot indented, for embedding in prompts.
func (s *Snapshot) JSON() string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Snapshotter produces snapshots.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Collector samples the Go runtime and, where a proc filesystem is mounted,
// the host.
type Collector struct {
	fs      *procfs.FS
	host    string
	started time.Time
	now     func() time.Time
	logger  *zap.Logger
}

// NewCollector reads host data from procRoot ("" means /proc). A missing
// proc filesystem degrades to runtime-only snapshots.
func NewCollector(procRoot string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	c := &Collector{
		started: time.Now(),
		now:     time.Now,
		logger:  logger.With(zap.String("component", "sysmetrics")),
	}
	if fs, err := procfs.NewFS(procRoot); err == nil {
		c.fs = &fs
	} else {
		c.logger.Debug("proc filesystem unavailable", zap.String("root", procRoot), zap.Error(err))
	}
	c.host, _ = os.Hostname()
	if c.host == "" {
		c.host = "localhost"
	}
	return c
}

// Snapshot never fails on missing host data; it only fails when ctx is done.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := c.now()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := &Snapshot{
		ID:       fmt.Sprintf("%s/%s", c.host, schemaVersion),
		Metadata: Metadata{Collector: collectorName, SchemaVersion: schemaVersion},
		Metrics: Metrics{
			CPU: CPU{Cores: runtime.NumCPU()},
			Runtime: Runtime{
				Goroutines:  runtime.NumGoroutine(),
				HeapAllocMB: round2(float64(ms.HeapAlloc) / (1 << 20)),
				SysMB:       round2(float64(ms.Sys) / (1 << 20)),
				NumGC:       ms.NumGC,
			},
			UptimeSeconds: int64(now.Sub(c.started).Seconds()),
		},
		Timestamp: now.UTC().Truncate(time.Second),
	}
	if c.fs != nil {
		c.fillHost(s, now)
	}
	return s, nil
}

func (c *Collector) fillHost(s *Snapshot, now time.Time) {
	if load, err := c.fs.LoadAvg(); err == nil {
		s.Metrics.CPU.Load1 = &load.Load1
		s.Metrics.CPU.Load5 = &load.Load5
		s.Metrics.CPU.Load15 = &load.Load15
	}
	if mi, err := c.fs.Meminfo(); err == nil && mi.MemTotal != nil && mi.MemAvailable != nil && *mi.MemTotal > 0 {
		total, avail := *mi.MemTotal, *mi.MemAvailable
		used := total - min(avail, total)
		s.Metrics.Memory = &Memory{
			UsedMB:      used / 1024,
			TotalMB:     total / 1024,
			UsedPercent: round2(float64(used) * 100 / float64(total)),
		}
	}
	if st, err := c.fs.Stat(); err == nil {
		s.Metrics.Processes = &Processes{Running: st.ProcessesRunning, Blocked: st.ProcessesBlocked}
		if st.BootTime > 0 {
			if up := now.Unix() - int64(st.BootTime); up > 0 {
				s.Metrics.UptimeSeconds = up
			}
		}
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// Static always returns a copy of s.
type Static struct {
	S Snapshot
}

func (st Static) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := st.S
	return &cp, nil
}
