package sync

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	uploadWorkerCap = 32
	checkWorkerCap  = 64
)

// SystemSnapshot captures the host resources that drive worker auto-tuning.
type SystemSnapshot struct {
	CPUCount        int
	TotalMemory     uint64
	AvailableMemory uint64
}

// CaptureSystem probes the host. Failures degrade to CPU-count-only tuning.
func CaptureSystem() SystemSnapshot {
	snap := SystemSnapshot{CPUCount: runtime.NumCPU()}

	if n, err := cpu.Counts(true); err == nil && n > 0 {
		snap.CPUCount = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.TotalMemory = vm.Total
		snap.AvailableMemory = vm.Available
	}
	return snap
}

// EstimateUploadWorkers picks a concurrent upload worker count. Bounded by
// 2x logical cores and by letting in-flight buffers use at most ~25% of
// available memory, assuming roughly two chunks resident per worker.
func EstimateUploadWorkers(chunkSizeMB int, sys SystemSnapshot) int {
	cpus := max(1, sys.CPUCount)
	if chunkSizeMB < 8 {
		chunkSizeMB = 8
	}
	perWorker := uint64(chunkSizeMB) * 1024 * 1024 * 2

	maxByMem := 1
	if sys.AvailableMemory > 0 {
		maxByMem = max(1, int(sys.AvailableMemory/4/perWorker))
	}
	maxByCPU := min(uploadWorkerCap, cpus*2)

	return clamp(min(maxByCPU, maxByMem), 1, uploadWorkerCap)
}

// EstimateCheckWorkers picks a concurrent metadata-check worker count.
// Checks are light (one HEAD request plus an occasional hash), so parallelism
// runs higher than uploads but stays capped to be polite to the API.
func EstimateCheckWorkers(sys SystemSnapshot) int {
	cpus := max(1, sys.CPUCount)
	return clamp(cpus*4, 1, checkWorkerCap)
}

func clamp(v, low, high int) int {
	return max(low, min(high, v))
}
