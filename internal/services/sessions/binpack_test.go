package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/lodestar/internal/models"
)

func packerJob(wallTime, ranks, threads, packing int, gpus float64) *models.Job {
	return &models.Job{
		WallTimeMin:      wallTime,
		RanksPerNode:     ranks,
		ThreadsPerRank:   threads,
		NodePackingCount: packing,
		GPUsPerRank:      gpus,
	}
}

func TestBinPackerRejectsLongJobs(t *testing.T) {
	p := newBinPacker(&models.NodeResources{
		MaxJobsPerNode:   8,
		MaxWallTimeMin:   35,
		RunningJobCounts: []int{0},
		NodeOccupancies:  []float64{0},
		IdleCores:        []int{64},
		IdleGPUs:         []float64{0},
	})

	assert.False(t, p.place(packerJob(40, 1, 1, 1, 0)))
	assert.True(t, p.place(packerJob(35, 1, 1, 1, 0)))
}

func TestBinPackerOccupancyBudget(t *testing.T) {
	p := newBinPacker(&models.NodeResources{
		MaxJobsPerNode:   8,
		MaxWallTimeMin:   60,
		RunningJobCounts: []int{0},
		NodeOccupancies:  []float64{0},
		IdleCores:        []int{64},
		IdleGPUs:         []float64{0},
	})

	// Two half-node jobs fill the node; a third does not fit.
	assert.True(t, p.place(packerJob(10, 1, 1, 2, 0)))
	assert.True(t, p.place(packerJob(10, 1, 1, 2, 0)))
	assert.False(t, p.place(packerJob(10, 1, 1, 2, 0)))
}

func TestBinPackerFloatOccupancyEpsilon(t *testing.T) {
	p := newBinPacker(&models.NodeResources{
		MaxJobsPerNode:   8,
		MaxWallTimeMin:   60,
		RunningJobCounts: []int{0},
		NodeOccupancies:  []float64{0},
		IdleCores:        []int{64},
		IdleGPUs:         []float64{0},
	})

	// Three thirds must still sum to exactly one node despite float error.
	for i := 0; i < 3; i++ {
		assert.True(t, p.place(packerJob(10, 1, 1, 3, 0)), "job %d", i)
	}
	assert.False(t, p.place(packerJob(10, 1, 1, 3, 0)))
}

func TestBinPackerCoreAndGPUBudgets(t *testing.T) {
	p := newBinPacker(&models.NodeResources{
		MaxJobsPerNode:   8,
		MaxWallTimeMin:   60,
		RunningJobCounts: []int{0, 0},
		NodeOccupancies:  []float64{0, 0},
		IdleCores:        []int{8, 64},
		IdleGPUs:         []float64{0, 4},
	})

	// 16 cores do not fit on node 0; first fit lands it on node 1.
	assert.True(t, p.place(packerJob(10, 8, 2, 8, 0)))
	assert.Equal(t, 64-16, p.idleCores[1])

	// GPU job also skips node 0.
	assert.True(t, p.place(packerJob(10, 2, 1, 8, 2)))
	assert.Equal(t, 0.0, p.idleGPUs[1])

	// No GPUs left anywhere.
	assert.False(t, p.place(packerJob(10, 1, 1, 8, 1)))
}

func TestBinPackerMaxJobsPerNode(t *testing.T) {
	p := newBinPacker(&models.NodeResources{
		MaxJobsPerNode:   2,
		MaxWallTimeMin:   60,
		RunningJobCounts: []int{1},
		NodeOccupancies:  []float64{0.1},
		IdleCores:        []int{64},
		IdleGPUs:         []float64{0},
	})

	assert.True(t, p.place(packerJob(10, 1, 1, 10, 0)))
	assert.False(t, p.place(packerJob(10, 1, 1, 10, 0)))
}
