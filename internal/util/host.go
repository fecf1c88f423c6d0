package util

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

const mb = 1024 * 1024

// SystemInfo describes the machine the server runs on. Fields gopsutil
// cannot read on this host stay empty.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	UptimeSec    uint64 `json:"uptime_sec"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo gathers static host information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if h, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", h.Platform, h.PlatformVersion)
		info.UptimeSec = h.Uptime
	}
	if c, err := cpu.Info(); err == nil && len(c) > 0 {
		info.CPUModel = c[0].ModelName
	}
	if m, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = m.Total / mb
	}
	return info
}

// HostLoad is the current load of the machine.
type HostLoad struct {
	CPUPercent float64 `json:"cpu_percent"`
	Load1      float64 `json:"load1"`
	Load5      float64 `json:"load5"`
	MemUsedMB  uint64  `json:"mem_used_mb"`
	MemAvailMB uint64  `json:"mem_available_mb"`
	MemPercent float64 `json:"mem_used_percent"`
}

// GetHostLoad samples CPU, load average and memory. Load average is zero
// on platforms that lack it.
func GetHostLoad() (*HostLoad, error) {
	m, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory: %w", err)
	}
	hl := &HostLoad{
		MemUsedMB:  m.Used / mb,
		MemAvailMB: m.Available / mb,
		MemPercent: m.UsedPercent,
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		hl.CPUPercent = pct[0]
	}
	if avg, err := load.Avg(); err == nil {
		hl.Load1, hl.Load5 = avg.Load1, avg.Load5
	}
	return hl, nil
}

// ProcessUsage is the resource use of the running process.
type ProcessUsage struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      uint64  `json:"rss_mb"`
	Goroutines int     `json:"goroutines"`
	Threads    int32   `json:"threads"`
}

// GetProcessUsage samples the current process.
func GetProcessUsage() (*ProcessUsage, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}

	usage := &ProcessUsage{PID: p.Pid, Goroutines: runtime.NumGoroutine()}
	if pct, err := p.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	if m, err := p.MemoryInfo(); err == nil {
		usage.RSSMB = m.RSS / mb
	}
	if n, err := p.NumThreads(); err == nil {
		usage.Threads = n
	}
	return usage, nil
}

// UDPStats are the kernel's host-wide UDP counters. Receive buffer errors
// are datagrams the kernel dropped before the transport could read them.
type UDPStats struct {
	InDatagrams  int64 `json:"in_datagrams"`
	OutDatagrams int64 `json:"out_datagrams"`
	InErrors     int64 `json:"in_errors"`
	RcvbufErrors int64 `json:"rcvbuf_errors"`
	SndbufErrors int64 `json:"sndbuf_errors"`
}

// GetUDPStats reads the UDP protocol counters. Only Linux exposes them.
func GetUDPStats() (*UDPStats, error) {
	counters, err := psnet.ProtoCounters([]string{"udp"})
	if err != nil {
		return nil, fmt.Errorf("failed to read udp counters: %w", err)
	}
	if len(counters) == 0 {
		return nil, fmt.Errorf("no udp counters on %s", runtime.GOOS)
	}
	s := counters[0].Stats
	return &UDPStats{
		InDatagrams:  s["InDatagrams"],
		OutDatagrams: s["OutDatagrams"],
		InErrors:     s["InErrors"],
		RcvbufErrors: s["RcvbufErrors"],
		SndbufErrors: s["SndbufErrors"],
	}, nil
}

// GetLocalIP returns the first non-loopback IPv4 address, shown to players
// as where to connect.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String(), nil
		}
	}
	return "127.0.0.1", nil
}
