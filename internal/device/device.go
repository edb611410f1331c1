// Package device picks the compute device for inference once at startup and
// reports its utilisation.
package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Kind identifies a class of compute device.
type Kind string

const (
	KindCPU   Kind = "cpu"
	KindCUDA  Kind = "cuda"
	KindMetal Kind = "metal"
)

// Device is the resolved compute device. It is immutable once resolved.
type Device struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

// Accelerator reports whether the device is a GPU.
func (d Device) Accelerator() bool {
	return d.Kind == KindCUDA || d.Kind == KindMetal
}

func (d Device) String() string {
	return string(d.Kind)
}

// Stats is a point-in-time utilisation snapshot.
type Stats struct {
	Device            Device   `json:"device"`
	LogicalCPUs       int      `json:"logical_cpus"`
	HostMemoryTotalMB float64  `json:"host_memory_total_mb"`
	HostMemoryUsedMB  float64  `json:"host_memory_used_mb"`
	GPUMemoryTotalMB  *float64 `json:"gpu_memory_total_mb,omitempty"`
	GPUMemoryUsedMB   *float64 `json:"gpu_memory_used_mb,omitempty"`
}

type gpuInfo struct {
	name    string
	totalMB float64
	usedMB  float64
}

// Prober detects accelerators and collects stats.
type Prober struct {
	goos          string
	goarch        string
	runCommand    func(ctx context.Context, name string, args ...string) ([]byte, error)
	cpuInfo       func(ctx context.Context) ([]cpu.InfoStat, error)
	cpuCounts     func(ctx context.Context, logical bool) (int, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewProber builds a prober using the real host.
func NewProber() *Prober {
	return &Prober{
		goos:          runtime.GOOS,
		goarch:        runtime.GOARCH,
		runCommand:    runCommand,
		cpuInfo:       cpu.InfoWithContext,
		cpuCounts:     cpu.CountsWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}

// Resolve picks a device for the given preference ("auto", "cpu", "cuda" or
// "metal"). An unavailable accelerator falls back to the CPU with a warning.
func (p *Prober) Resolve(ctx context.Context, pref string) Device {
	var d Device
	switch pref {
	case "cpu":
		d = p.cpuDevice(ctx)
	case "cuda":
		if gpu, err := p.nvidia(ctx); err == nil {
			d = Device{Kind: KindCUDA, Name: gpu.name}
		} else {
			slog.Warn("CUDA requested but not available, falling back to CPU", "error", err)
			d = p.cpuDevice(ctx)
		}
	case "metal":
		if p.appleSilicon() {
			d = Device{Kind: KindMetal, Name: "Apple Silicon GPU"}
		} else {
			slog.Warn("Metal requested but not available, falling back to CPU", "os", p.goos, "arch", p.goarch)
			d = p.cpuDevice(ctx)
		}
	default:
		if gpu, err := p.nvidia(ctx); err == nil {
			d = Device{Kind: KindCUDA, Name: gpu.name}
		} else if p.appleSilicon() {
			d = Device{Kind: KindMetal, Name: "Apple Silicon GPU"}
		} else {
			slog.Warn("No accelerator available, falling back to CPU")
			d = p.cpuDevice(ctx)
		}
	}

	slog.Info("Compute device selected", "kind", d.Kind, "name", d.Name)
	return d
}

// Stats collects host memory figures and, on CUDA, GPU memory.
func (p *Prober) Stats(ctx context.Context, d Device) Stats {
	s := Stats{Device: d}

	if n, err := p.cpuCounts(ctx, true); err == nil {
		s.LogicalCPUs = n
	}
	if vm, err := p.virtualMemory(ctx); err == nil && vm != nil {
		s.HostMemoryTotalMB = float64(vm.Total) / (1024 * 1024)
		s.HostMemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	} else if err != nil {
		slog.Debug("Host memory stats unavailable", "error", err)
	}

	if d.Kind == KindCUDA {
		if gpu, err := p.nvidia(ctx); err == nil {
			s.GPUMemoryTotalMB = &gpu.totalMB
			s.GPUMemoryUsedMB = &gpu.usedMB
		} else {
			slog.Debug("GPU stats unavailable", "error", err)
		}
	}
	return s
}

func (p *Prober) appleSilicon() bool {
	return p.goos == "darwin" && p.goarch == "arm64"
}

func (p *Prober) cpuDevice(ctx context.Context) Device {
	name := "CPU"
	if infos, err := p.cpuInfo(ctx); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		name = strings.TrimSpace(infos[0].ModelName)
	}
	return Device{Kind: KindCPU, Name: name}
}

// nvidia queries the first GPU through nvidia-smi.
func (p *Prober) nvidia(ctx context.Context) (gpuInfo, error) {
	out, err := p.runCommand(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total,memory.used",
		"--format=csv,noheader,nounits")
	if err != nil {
		return gpuInfo{}, fmt.Errorf("device: nvidia-smi: %w", err)
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI parses the first line of "name, total, used" CSV output.
func parseNvidiaSMI(out string) (gpuInfo, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return gpuInfo{}, fmt.Errorf("device: unexpected nvidia-smi output %q", line)
	}

	name := strings.TrimSpace(fields[0])
	total, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return gpuInfo{}, fmt.Errorf("device: parse memory.total: %w", err)
	}
	used, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return gpuInfo{}, fmt.Errorf("device: parse memory.used: %w", err)
	}
	if name == "" {
		return gpuInfo{}, fmt.Errorf("device: nvidia-smi reported no GPU name")
	}
	return gpuInfo{name: name, totalMB: total, usedMB: used}, nil
}
