// Package hostinfo names the CPU and GPU of the benchmark host.
package hostinfo

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// probeTimeout bounds each external tool call.
const probeTimeout = 5 * time.Second

type Info struct {
	CPUName string `json:"cpu_name"`
	GPUName string `json:"gpu_name"`
}

// Detect never fails: unknown values get generic names.
func Detect(ctx context.Context, hardwareAccel bool) Info {
	return Info{
		CPUName: CPUModel(ctx),
		GPUName: GPUName(ctx, hardwareAccel),
	}
}

func CPUModel(ctx context.Context) string {
	if runtime.GOOS == "darwin" {
		if out, err := output(ctx, "sysctl", "-n", "machdep.cpu.brand_string"); err == nil {
			if name := strings.TrimSpace(string(out)); name != "" {
				return name
			}
		}
	}
	if runtime.GOOS == "linux" {
		if f, err := os.Open("/proc/cpuinfo"); err == nil {
			defer f.Close()
			if name := parseCPUInfo(bufio.NewScanner(f)); name != "" {
				return name
			}
		}
	}
	return runtime.GOARCH + " CPU"
}

func parseCPUInfo(sc *bufio.Scanner) string {
	for sc.Scan() {
		line := sc.Text()
		// "model name" on x86, "Model" on Raspberry Pi style arm kernels
		if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "Model") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}

// GPUName returns "CPU" for software encoding: no accelerator is involved.
func GPUName(ctx context.Context, hardwareAccel bool) string {
	if !hardwareAccel {
		return "CPU"
	}
	if runtime.GOOS == "darwin" {
		if out, err := output(ctx, "system_profiler", "SPDisplaysDataType"); err == nil {
			if name := parseSystemProfiler(string(out)); name != "" {
				return name
			}
		}
	}
	if hasTool("nvidia-smi") {
		if name, err := nvidiaGPUName(ctx, 0); err == nil && name != "" {
			return name
		}
	}
	if hasTool("rocm-smi") {
		if out, err := output(ctx, "rocm-smi", "--showproductname"); err == nil {
			if name := parseRocmSMI(string(out)); name != "" {
				return name
			}
		}
	}
	return "GPU"
}

func parseSystemProfiler(out string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(strings.ToLower(line), "chipset model:") {
			parts := strings.SplitN(line, ":", 2)
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

func parseRocmSMI(out string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(strings.ToLower(line), "card series") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}

func hasTool(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func output(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}
