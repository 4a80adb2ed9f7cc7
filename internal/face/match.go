package face

import (
	"log/slog"
	"runtime"
	"sync"

	"faceattend/internal/errs"
)

// identifyParallelThreshold is the candidate count above which distance
// computation fans out across goroutines. Below it a plain loop wins.
const identifyParallelThreshold = 64

// Candidate pairs an identity with its stored descriptor for 1:N search.
type Candidate struct {
	UserID     string
	Descriptor Descriptor
}

// Match is the accepted result of a verification or identification.
type Match struct {
	UserID     string
	Distance   float64
	Confidence float64
}

// Engine compares descriptors under dual distance/confidence thresholds. Both
// gates are evaluated independently and are independently configurable.
type Engine struct {
	Tolerance     float64
	MinConfidence float64
	Logger        *slog.Logger
}

// NewEngine builds a match engine with the given thresholds.
func NewEngine(tolerance, minConfidence float64, logger *slog.Logger) *Engine {
	return &Engine{Tolerance: tolerance, MinConfidence: minConfidence, Logger: logger}
}

// Verify compares a live capture against one stored template. It returns
// whether both threshold gates pass and the derived confidence.
func (e *Engine) Verify(live, stored Descriptor) (bool, float64) {
	d := Distance(live, stored)
	conf := Confidence(d)
	isMatch := d <= e.Tolerance && conf >= e.MinConfidence

	if e.Logger != nil {
		e.Logger.Info("face verification",
			"distance", d,
			"confidence", conf,
			"tolerance", e.Tolerance,
			"min_confidence", e.MinConfidence,
			"match", isMatch)
	}
	return isMatch, conf
}

// Identify scans every candidate and applies the threshold test to the single
// best (lowest-distance) candidate only. A near-best runner-up is never
// considered even when it would also pass; ties go to the first-encountered
// candidate. The scan is O(N*Dim) and parallelized over candidates when N is
// large, with the argmin merge kept sequential so tie-breaking stays stable.
func (e *Engine) Identify(live Descriptor, candidates []Candidate) (*Match, error) {
	if len(candidates) == 0 {
		return nil, errs.E(errs.KindAuthentication, "face not recognized: no enrolled templates")
	}

	distances := make([]float64, len(candidates))
	if len(candidates) >= identifyParallelThreshold {
		parallelDistances(live, candidates, distances)
	} else {
		for i, c := range candidates {
			distances[i] = Distance(live, c.Descriptor)
		}
	}

	best := 0
	for i := 1; i < len(distances); i++ {
		if distances[i] < distances[best] {
			best = i
		}
	}

	d := distances[best]
	conf := Confidence(d)
	isMatch := d <= e.Tolerance && conf >= e.MinConfidence

	if e.Logger != nil {
		e.Logger.Info("face identification",
			"candidates", len(candidates),
			"best_user", candidates[best].UserID,
			"distance", d,
			"confidence", conf,
			"tolerance", e.Tolerance,
			"min_confidence", e.MinConfidence,
			"match", isMatch)
	}

	if !isMatch {
		return nil, errs.E(errs.KindAuthentication, "face not recognized")
	}
	return &Match{UserID: candidates[best].UserID, Distance: d, Confidence: conf}, nil
}

func parallelDistances(live Descriptor, candidates []Candidate, out []float64) {
	workers := runtime.NumCPU()
	if workers > len(candidates) {
		workers = len(candidates)
	}
	chunk := (len(candidates) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > len(candidates) {
			end = len(candidates)
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = Distance(live, candidates[i].Descriptor)
			}
		}(start, end)
	}
	wg.Wait()
}
