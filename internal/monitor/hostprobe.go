package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// CPUProbe reads host CPU utilization via gopsutil.
type CPUProbe struct{}

func (CPUProbe) Class() ResourceClass { return ClassCPU }

func (CPUProbe) Utilization(ctx context.Context) (float64, error) {
	// interval 0 computes usage since the previous call, which fits the
	// monitor's periodic sampling.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("reading cpu utilization: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("reading cpu utilization: no data")
	}
	return percents[0] / 100, nil
}

// MemoryProbe reads host virtual memory utilization via gopsutil.
type MemoryProbe struct{}

func (MemoryProbe) Class() ResourceClass { return ClassMemory }

func (MemoryProbe) Utilization(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading memory utilization: %w", err)
	}
	return vm.UsedPercent / 100, nil
}

// StorageProbe reads filesystem utilization for a mount path.
type StorageProbe struct {
	// Path is the mount point to inspect. Empty means "/".
	Path string
}

func (p StorageProbe) Class() ResourceClass { return ClassStorage }

func (p StorageProbe) Utilization(ctx context.Context) (float64, error) {
	path := p.Path
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("reading storage utilization for %s: %w", path, err)
	}
	return usage.UsedPercent / 100, nil
}

// NetworkProbe estimates network utilization from the throughput since
// the previous read against a configured link capacity.
type NetworkProbe struct {
	// LinkBytesPerSec is the assumed full-duplex link capacity.
	LinkBytesPerSec uint64

	mu        sync.Mutex
	lastAt    time.Time
	lastBytes uint64
}

// NewNetworkProbe creates a NetworkProbe for the given link capacity in
// bytes per second.
func NewNetworkProbe(linkBytesPerSec uint64) *NetworkProbe {
	return &NetworkProbe{LinkBytesPerSec: linkBytesPerSec}
}

func (p *NetworkProbe) Class() ResourceClass { return ClassNetwork }

func (p *NetworkProbe) Utilization(ctx context.Context) (float64, error) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("reading network counters: %w", err)
	}
	if len(counters) == 0 {
		return 0, fmt.Errorf("reading network counters: no interfaces")
	}
	total := counters[0].BytesRecv + counters[0].BytesSent

	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	defer func() {
		p.lastAt = now
		p.lastBytes = total
	}()

	// First read has no baseline.
	if p.lastAt.IsZero() || p.LinkBytesPerSec == 0 {
		return 0, nil
	}
	elapsed := now.Sub(p.lastAt).Seconds()
	if elapsed <= 0 || total < p.lastBytes {
		return 0, nil
	}
	frac := float64(total-p.lastBytes) / elapsed / float64(p.LinkBytesPerSec)
	if frac > 1 {
		frac = 1
	}
	return frac, nil
}

// HostProbes returns the standard probe set for a host: cpu, memory,
// storage, and network from gopsutil, plus settable probes for the
// accelerator and domain-unit classes which have no OS-level source.
// The returned StaticProbes are exposed so callers can feed them.
func HostProbes(storagePath string, linkBytesPerSec uint64) (probes []ClassProbe, accelerator, domainUnit *StaticProbe) {
	accelerator = NewStaticProbe(ClassAccelerator)
	domainUnit = NewStaticProbe(ClassDomainUnit)
	probes = []ClassProbe{
		CPUProbe{},
		MemoryProbe{},
		StorageProbe{Path: storagePath},
		NewNetworkProbe(linkBytesPerSec),
		accelerator,
		domainUnit,
	}
	return probes, accelerator, domainUnit
}
