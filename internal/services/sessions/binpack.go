package sessions

import "github.com/ternarybob/lodestar/internal/models"

// binPacker performs first-fit placement of jobs onto the launcher's node
// snapshot, decrementing per-node budgets as jobs land.
type binPacker struct {
	maxJobsPerNode int
	maxWallTimeMin int
	jobCounts      []int
	occupancies    []float64
	idleCores      []int
	idleGPUs       []float64
}

func newBinPacker(res *models.NodeResources) *binPacker {
	return &binPacker{
		maxJobsPerNode: res.MaxJobsPerNode,
		maxWallTimeMin: res.MaxWallTimeMin,
		jobCounts:      append([]int(nil), res.RunningJobCounts...),
		occupancies:    append([]float64(nil), res.NodeOccupancies...),
		idleCores:      append([]int(nil), res.IdleCores...),
		idleGPUs:       append([]float64(nil), res.IdleGPUs...),
	}
}

// place tries the job on each node in order. A job whose wall time exceeds
// the window is rejected outright; otherwise the first node with enough
// budget takes it.
func (p *binPacker) place(job *models.Job) bool {
	if job.WallTimeMin > p.maxWallTimeMin {
		return false
	}

	packing := job.NodePackingCount
	if packing < 1 {
		packing = 1
	}
	occupancy := 1.0 / float64(packing)
	cores := job.RanksPerNode * job.ThreadsPerRank
	gpus := float64(job.RanksPerNode) * job.GPUsPerRank

	for n := range p.jobCounts {
		if p.jobCounts[n] >= p.maxJobsPerNode {
			continue
		}
		if p.occupancies[n]+occupancy > 1.0+1e-9 {
			continue
		}
		if p.idleCores[n] < cores {
			continue
		}
		if p.idleGPUs[n] < gpus {
			continue
		}
		p.jobCounts[n]++
		p.occupancies[n] += occupancy
		p.idleCores[n] -= cores
		p.idleGPUs[n] -= gpus
		return true
	}
	return false
}
