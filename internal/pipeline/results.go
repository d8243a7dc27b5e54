package pipeline

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/montanaflynn/stats"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

type ResultError struct {
	AppError model.AppError
	Cause    error
}

func (e *ResultError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ResultError) Unwrap() error { return e.Cause }

// sortByLatency orders endpoints ascending by measured latency. The sort is
// stable: ties keep their arrival order.
func sortByLatency(eps []*model.Endpoint) {
	sort.SliceStable(eps, func(i, j int) bool {
		return eps[i].Latency < eps[j].Latency
	})
}

// FormatResults renders the ranked result lines:
// <canonical>#<label> - <rank> [<latency-ms>ms], rank 1-based.
func FormatResults(eps []*model.Endpoint, label string) string {
	lines := make([]string, 0, len(eps))
	for i, ep := range eps {
		log.Infof("%dms - %s", ep.Latency.Milliseconds(), ep)
		lines = append(lines, fmt.Sprintf("%s#%s - %d [%dms]", ep, label, i+1, ep.Latency.Milliseconds()))
	}
	return strings.Join(lines, "\n")
}

// WriteResults sorts, renders and writes the ranked list. A write failure is
// run-fatal.
func WriteResults(eps []*model.Endpoint, path, label string) error {
	sorted := make([]*model.Endpoint, len(eps))
	copy(sorted, eps)
	sortByLatency(sorted)

	if err := os.WriteFile(path, []byte(FormatResults(sorted, label)), 0o644); err != nil {
		return &ResultError{
			AppError: model.AppError{
				Code:    "RESULT_WRITE_ERROR",
				Message: "failed to write results file",
				Stage:   "save_results",
				Snippet: path,
			},
			Cause: err,
		}
	}
	return nil
}

func meanDuration(rtts []float64) time.Duration {
	mean, err := stats.Mean(rtts)
	if err != nil {
		return 0
	}
	return time.Duration(mean)
}
