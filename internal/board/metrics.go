package board

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	laneMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanban_lane_moves_total",
		Help: "Lane move requests by result",
	}, []string{"result"})

	taskMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanban_task_moves_total",
		Help: "Task move requests by result",
	}, []string{"result"})
)

func moveResult(moved bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case moved:
		return "moved"
	default:
		return "boundary"
	}
}
