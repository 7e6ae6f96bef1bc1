// Package strategy picks how a video analysis request is processed and
// estimates how long that takes. Everything here is pure.
package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode is the caller's performance preference.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeBalanced Mode = "balanced"
	ModeQuality  Mode = "quality"
)

// ParseMode parses s case-insensitively. Empty means balanced.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBalanced, nil
	case ModeFast, ModeBalanced, ModeQuality:
		return m, nil
	default:
		return "", fmt.Errorf("strategy: unknown performance mode %q", s)
	}
}

// Strategy is one processing shape.
type Strategy int

const (
	TranscriptAnalysis Strategy = iota
	MetadataFirst
	SampleBased
	Chunked
	Comprehensive
)

func (s Strategy) String() string {
	switch s {
	case TranscriptAnalysis:
		return "Transcript Analysis"
	case MetadataFirst:
		return "Metadata-First"
	case SampleBased:
		return "Sample-Based"
	case Chunked:
		return "Chunked Processing"
	default:
		return "Comprehensive"
	}
}

// Length thresholds.
const (
	ShortVideo = 15 * time.Minute // At or below: short
	LongVideo  = 60 * time.Minute // Above: long
)

// Chunking constants.
const (
	ChunkLength        = 10 * time.Minute
	QualityChunkLength = 5 * time.Minute
	MaxChunks          = 12
	SampleWindows      = 3
	SampleWindow       = 3 * time.Minute

	// DefaultConcurrency is the per-batch chunk fan-out.
	DefaultConcurrency = 3
)

// Input describes a request.
type Input struct {
	Duration      time.Duration
	Mode          Mode
	HasTranscript bool
	Format        string // "detailed", "summary", ...
}

// Select returns the strategy for in. Rules are evaluated in order and the
// first match wins.
func Select(in Input) Strategy {
	short := in.Duration <= ShortVideo
	long := in.Duration > LongVideo

	switch {
	case in.HasTranscript && (in.Mode == ModeFast || short):
		return TranscriptAnalysis
	case !in.HasTranscript && in.Mode == ModeFast:
		return MetadataFirst
	case in.HasTranscript && !long:
		return SampleBased
	case long:
		return Chunked
	default:
		return Comprehensive
	}
}

// Segment is a time range of the input processed as one unit.
type Segment struct {
	Start       time.Duration
	End         time.Duration
	Description string
}

// Plan returns the segments the strategy processes. Strategies that make a
// single direct call return nil.
func Plan(s Strategy, in Input) []Segment {
	switch s {
	case Chunked:
		return chunkSegments(in)
	case SampleBased:
		return sampleSegments(in.Duration)
	default:
		return nil
	}
}

// ChunkLengthFor returns the chunk length used for in, after growing it to
// respect MaxChunks.
func ChunkLengthFor(in Input) time.Duration {
	size := ChunkLength
	if in.Mode == ModeQuality {
		size = QualityChunkLength
	}
	if in.Duration > size*MaxChunks {
		size = ceilDiv(in.Duration, MaxChunks)
	}
	return size
}

func chunkSegments(in Input) []Segment {
	if in.Duration <= 0 {
		return nil
	}
	size := ChunkLengthFor(in)
	n := int(math.Ceil(float64(in.Duration) / float64(size)))

	segs := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		start := time.Duration(i) * size
		end := min(start+size, in.Duration)
		segs = append(segs, Segment{
			Start:       start,
			End:         end,
			Description: fmt.Sprintf("Part %d of %d (%s-%s)", i+1, n, Timestamp(start), Timestamp(end)),
		})
	}
	return segs
}

func sampleSegments(d time.Duration) []Segment {
	if d <= 0 {
		return nil
	}
	if d <= SampleWindows*SampleWindow {
		return []Segment{{Start: 0, End: d, Description: fmt.Sprintf("Full video (%s-%s)", Timestamp(0), Timestamp(d))}}
	}

	mid := d/2 - SampleWindow/2
	windows := []struct {
		name  string
		start time.Duration
	}{
		{"Opening", 0},
		{"Middle", mid},
		{"Closing", d - SampleWindow},
	}
	segs := make([]Segment, 0, len(windows))
	for _, w := range windows {
		end := w.start + SampleWindow
		segs = append(segs, Segment{
			Start:       w.start,
			End:         end,
			Description: fmt.Sprintf("%s key moment (%s-%s)", w.name, Timestamp(w.start), Timestamp(end)),
		})
	}
	return segs
}

// Timestamp formats d as HH:MM:SS.
func Timestamp(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

func ceilDiv(d time.Duration, n int) time.Duration {
	return (d + time.Duration(n) - 1) / time.Duration(n)
}
