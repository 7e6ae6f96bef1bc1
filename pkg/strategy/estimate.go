package strategy

import (
	"math"
	"strings"
	"time"
)

// Estimate is the expected processing time range for a request.
type Estimate struct {
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Strategy Strategy      `json:"-"`
	Chunks   int           `json:"chunks,omitempty"`
}

// StrategyName is the human-readable strategy name.
func (e Estimate) StrategyName() string { return e.Strategy.String() }

// EstimateTime selects the strategy for in, exactly as processing would, and
// returns its time range. concurrency is the chunk batch size processing
// uses; values below 1 mean DefaultConcurrency.
func EstimateTime(in Input, concurrency int) Estimate {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	s := Select(in)
	est := Estimate{Strategy: s}

	var lo, hi float64
	switch s {
	case TranscriptAnalysis:
		lo, hi = 10, 30
	case MetadataFirst:
		lo, hi = 5, 15
	case SampleBased:
		lo, hi = 30, 90
	case Chunked:
		est.Chunks = len(Plan(s, in))
		batches := math.Ceil(float64(est.Chunks) / float64(concurrency))
		lo, hi = 20*batches, 60*batches
	default:
		lo, hi = 30, 120
		if over := in.Duration - 10*time.Minute; over > 0 {
			f := 1 + 0.1*math.Floor(float64(over)/float64(10*time.Minute))
			lo, hi = lo*f, hi*f
		}
	}

	m := formatFactor(in.Format) * modeFactor(in.Mode)
	est.Min = seconds(lo * m)
	est.Max = seconds(hi * m)
	return est
}

func formatFactor(format string) float64 {
	switch strings.ToLower(format) {
	case "detailed":
		return 1.5
	case "summary":
		return 1.0
	default:
		return 1.2
	}
}

func modeFactor(m Mode) float64 {
	switch m {
	case ModeQuality:
		return 1.25
	case ModeFast:
		return 0.8
	default:
		return 1.0
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s)) * time.Second
}
