package agent

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dreamware/ktboard/internal/fleet"
)

const bytesPerGB = 1 << 30

// Collector samples the metrics sent with each heartbeat.
type Collector interface {
	Collect(ctx context.Context) (fleet.Metrics, error)
}

// SystemCollector reads CPU and memory usage of the local host.
// It reports no GPUs.
type SystemCollector struct {
	usage    func(context.Context, time.Duration, bool) ([]float64, error)
	memory   func(context.Context) (*mem.VirtualMemoryStat, error)
	interval time.Duration
}

// NewSystemCollector samples per-core usage over interval. With a zero
// interval each sample covers the time since the previous Collect.
func NewSystemCollector(interval time.Duration) *SystemCollector {
	return &SystemCollector{
		usage:    cpu.PercentWithContext,
		memory:   mem.VirtualMemoryWithContext,
		interval: interval,
	}
}

func (c *SystemCollector) Collect(ctx context.Context) (fleet.Metrics, error) {
	percent, err := c.usage(ctx, c.interval, true)
	if err != nil {
		return fleet.Metrics{}, fmt.Errorf("cpu usage: %w", err)
	}
	vm, err := c.memory(ctx)
	if err != nil {
		return fleet.Metrics{}, fmt.Errorf("virtual memory: %w", err)
	}

	cores := make([]float64, len(percent))
	for i, p := range percent {
		cores[i] = p / 100
	}
	return fleet.Metrics{
		CPU: cores,
		Mem: []float64{float64(vm.Used) / bytesPerGB, float64(vm.Total) / bytesPerGB},
		GPU: []fleet.GPU{},
	}, nil
}

var simulatedCoreCounts = []int{2, 4, 6, 8, 12, 16}

// SimulatedCollector produces random but plausible metrics for load testing
// a board without real hosts behind it.
type SimulatedCollector struct {
	rng     *rand.Rand
	gpuName string
	memGB   float64
	gpus    int
	mu      sync.Mutex
}

// NewSimulatedCollector returns a collector seeded with seed so runs are
// reproducible.
func NewSimulatedCollector(seed uint64) *SimulatedCollector {
	return &SimulatedCollector{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		gpuName: "Simulated GPU",
		memGB:   16,
		gpus:    8,
	}
}

func (c *SimulatedCollector) Collect(context.Context) (fleet.Metrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cores := make([]float64, simulatedCoreCounts[c.rng.IntN(len(simulatedCoreCounts))])
	for i := range cores {
		cores[i] = c.rng.Float64()
	}
	gpus := make([]fleet.GPU, c.gpus)
	for i := range gpus {
		usage := c.rng.Float64()
		gpus[i] = fleet.GPU{
			Name:  c.gpuName,
			Usage: &usage,
			Mem:   []float64{c.rng.Float64() * c.memGB, c.memGB},
		}
	}
	return fleet.Metrics{
		CPU: cores,
		Mem: []float64{c.rng.Float64() * c.memGB, c.memGB},
		GPU: gpus,
	}, nil
}
