// Package scheduler holds the utilities shared with site agents: wall-time
// parsing of scheduler output and backfill-window aggregation for site
// status updates.
package scheduler

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/lodestar/internal/models"
)

// ParseWallTime converts a scheduler "HH:MM:SS" string to whole minutes,
// rounding the seconds. Malformed input returns an error rather than a
// silent zero.
func ParseWallTime(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, models.Validationf("wall time %q: want HH:MM:SS", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, models.Validationf("wall time %q: want HH:MM:SS", s)
		}
		nums[i] = n
	}
	return nums[0]*60 + nums[1] + int(math.Round(float64(nums[2])/60)), nil
}

// IdleNode is one idle-node record reported by a site agent: the backfill
// minutes available on the node and the queues it serves.
type IdleNode struct {
	Queues      []string `json:"queues"`
	WallTimeMin int      `json:"wall_time_min"`
}

// BackfillWindows aggregates idle-node records into per-queue cumulative
// windows: for each queue, sorted longest window first, num_nodes counts
// every node that can hold a job of at least that wall time.
func BackfillWindows(nodes []IdleNode) map[string][]models.BackfillWindow {
	queueTimes := map[string][]int{}
	for _, node := range nodes {
		if node.WallTimeMin <= 0 {
			continue
		}
		for _, queue := range node.Queues {
			queueTimes[queue] = append(queueTimes[queue], node.WallTimeMin)
		}
	}

	windows := map[string][]models.BackfillWindow{}
	for queue, times := range queueTimes {
		counts := map[int]int{}
		for _, t := range times {
			counts[t]++
		}
		distinct := make([]int, 0, len(counts))
		for t := range counts {
			distinct = append(distinct, t)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(distinct)))

		runningTotal := 0
		for _, t := range distinct {
			runningTotal += counts[t]
			windows[queue] = append(windows[queue], models.BackfillWindow{
				NumNodes:    runningTotal,
				WallTimeMin: t,
			})
		}
	}
	return windows
}
