// Package chunk splits long video analyses into time-ranged chunks, runs them
// in bounded batches and merges the results in start-time order.
package chunk

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abdhe/llm-mediator/pkg/metrics"
	"github.com/abdhe/llm-mediator/pkg/orchestrator"
	"github.com/abdhe/llm-mediator/pkg/provider"
	"github.com/abdhe/llm-mediator/pkg/strategy"
)

// Processor runs a single request. *orchestrator.Orchestrator implements it.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (provider.Result, error)
}

// Job is one video analysis.
type Job struct {
	// Base carries the full-video prompt and the processing options every
	// chunk request inherits.
	Base  orchestrator.Request
	Video strategy.Input
}

// Task is one chunk of a job.
type Task struct {
	strategy.Segment
	Prompt string
}

// Output is a successful chunk.
type Output struct {
	Start   time.Duration
	Content string
	Result  provider.Result
}

// Result is the outcome of a job.
type Result struct {
	Content   string
	Strategy  strategy.Strategy
	Planned   int  // chunks in the plan, 0 for direct strategies
	Succeeded int  // chunks merged into Content
	Direct    bool // Content came from one unchunked call
}

// Config holds the coordinator settings.
type Config struct {
	Concurrency int // Per-batch fan-out
	Logger      *slog.Logger
}

// Coordinator runs jobs through a Processor.
type Coordinator struct {
	proc        Processor
	concurrency int
	logger      *slog.Logger
}

// New creates a coordinator.
func New(proc Processor, cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = strategy.DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{proc: proc, concurrency: cfg.Concurrency, logger: logger.With("component", "chunk")}
}

// Run selects the strategy for job, processes its plan and merges the
// chunk results. When no chunk succeeds it falls back to one direct call on
// the base prompt.
func (c *Coordinator) Run(ctx context.Context, job Job) (Result, error) {
	s := strategy.Select(job.Video)
	segs := strategy.Plan(s, job.Video)
	out := Result{Strategy: s, Planned: len(segs)}

	if len(segs) == 0 {
		return c.direct(ctx, job, out)
	}

	tasks := make([]Task, len(segs))
	for i, seg := range segs {
		tasks[i] = Task{Segment: seg, Prompt: SubPrompt(job.Base.Prompt, seg)}
	}

	outputs, err := c.Process(ctx, job.Base, tasks)
	if err != nil {
		return Result{}, err
	}
	if len(outputs) == 0 {
		c.logger.Warn("every chunk failed, falling back to a direct call", "strategy", s.String(), "chunks", len(tasks))
		return c.direct(ctx, job, out)
	}

	out.Content = Merge(outputs)
	out.Succeeded = len(outputs)
	return out, nil
}

func (c *Coordinator) direct(ctx context.Context, job Job, out Result) (Result, error) {
	res, err := c.proc.Process(ctx, job.Base)
	if err != nil {
		return Result{}, err
	}
	out.Content = res.Content
	out.Direct = true
	return out, nil
}

// Process runs tasks in batches of at most Concurrency. Each batch settles
// completely before the next starts. Failed chunks are logged and dropped.
// The returned outputs are in no particular order.
func (c *Coordinator) Process(ctx context.Context, base orchestrator.Request, tasks []Task) ([]Output, error) {
	size := min(c.concurrency, len(tasks))
	settled := make([]*Output, len(tasks))

	for lo := 0; lo < len(tasks); lo += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+size, len(tasks))

		var g errgroup.Group
		for i := lo; i < hi; i++ {
			i := i
			g.Go(func() error {
				req := base
				req.Prompt = tasks[i].Prompt
				res, err := c.proc.Process(ctx, req)
				if err != nil {
					metrics.ChunksTotal.WithLabelValues("failed").Inc()
					c.logger.Warn("chunk failed, dropping it",
						"segment", tasks[i].Description,
						"start", tasks[i].Start,
						"error", err,
					)
					return nil
				}
				metrics.ChunksTotal.WithLabelValues("success").Inc()
				settled[i] = &Output{Start: tasks[i].Start, Content: res.Content, Result: res}
				return nil
			})
		}
		_ = g.Wait()
	}

	outputs := make([]Output, 0, len(tasks))
	for _, o := range settled {
		if o != nil {
			outputs = append(outputs, *o)
		}
	}
	return outputs, nil
}

// SubPrompt derives the prompt for one segment from the base prompt.
func SubPrompt(base string, seg strategy.Segment) string {
	return fmt.Sprintf("%s\n\nFocus only on this segment: %s. Keep timestamps between %s and %s.",
		base, seg.Description, strategy.Timestamp(seg.Start), strategy.Timestamp(seg.End))
}

// headerPrefixes mark front-matter lines removed from every chunk after the first.
var headerPrefixes = []string{"---", "title:", "source:", "date:", "url:", "tags:"}

// Merge orders outputs by start time and concatenates their bodies,
// stripping header lines from every chunk after the first.
func Merge(outputs []Output) string {
	sorted := slices.Clone(outputs)
	slices.SortStableFunc(sorted, func(a, b Output) int {
		return cmp.Compare(a.Start, b.Start)
	})

	parts := make([]string, 0, len(sorted))
	for i, o := range sorted {
		body := o.Content
		if i > 0 {
			body = stripHeaders(body)
		}
		if body = strings.TrimSpace(body); body != "" {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n\n")
}

func stripHeaders(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isHeader(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isHeader(line string) bool {
	for _, p := range headerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
