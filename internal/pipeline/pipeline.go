// Package pipeline orchestrates the mention-mining steps: metadata
// refresh, archive fetch, parse and extract, and the cache merge.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/kipwatch/internal/archive"
	"github.com/TobiSchelling/kipwatch/internal/cache"
	"github.com/TobiSchelling/kipwatch/internal/config"
	"github.com/TobiSchelling/kipwatch/internal/mbox"
	"github.com/TobiSchelling/kipwatch/internal/mention"
	"github.com/TobiSchelling/kipwatch/internal/store"
	"github.com/TobiSchelling/kipwatch/internal/wiki"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Kind   string
	Window string
	Steps  []StepResult
}

// Err returns the first step error, or nil when every step completed.
// Only aborts carry errors; partial fetch failures are reported in the
// step summaries instead.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Pipeline orchestrates the 4-step mention-mining pipeline.
type Pipeline struct {
	cfg       *config.Config
	store     *store.Store
	cachePath string
	now       func() time.Time
}

// New creates a new pipeline.
func New(cfg *config.Config, st *store.Store) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		cachePath: cfg.GetCacheFile(),
		now:       time.Now,
	}
}

// Run executes the full pipeline over a fixed backfill window. A
// daysBack of zero falls back to the configured window.
func (p *Pipeline) Run(ctx context.Context, daysBack int) *Result {
	if daysBack <= 0 {
		daysBack = p.cfg.Mail.DaysBack
	}
	return p.run(ctx, "run", archive.MonthsBack(p.now(), daysBack))
}

// Update executes the full pipeline over the window since the last
// merged month, so repeated invocations stay cheap. Before the first
// merge it behaves like Run.
func (p *Pipeline) Update(ctx context.Context) *Result {
	list := p.cfg.Mail.List
	r := &Result{Kind: "update"}

	year, month, ok, err := p.store.LastMergedMonth(list)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Plan", Err: fmt.Errorf("finding last merged month: %w", err)})
		return r
	}

	var months []archive.YearMonth
	if ok {
		since := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		months = archive.MonthsBetween(since, p.now())
	} else {
		months = archive.MonthsBack(p.now(), p.cfg.Mail.DaysBack)
	}
	return p.run(ctx, "update", months)
}

// DownloadMail fetches and stores archive segments without merging.
func (p *Pipeline) DownloadMail(ctx context.Context, daysBack int) *Result {
	if daysBack <= 0 {
		daysBack = p.cfg.Mail.DaysBack
	}
	months := archive.MonthsBack(p.now(), daysBack)
	r := &Result{Kind: "download", Window: windowLabel(months)}

	step, _, _ := p.runFetch(ctx, months, "Step 1/1")
	r.Steps = append(r.Steps, step)
	return r
}

// ProcessMail mines the segments already in the store without touching
// the network, then merges the result into the cache.
func (p *Pipeline) ProcessMail(ctx context.Context) *Result {
	r := &Result{Kind: "process"}

	release, err := acquireLock(p.cachePath + ".lock")
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Lock", Err: err})
		return r
	}
	defer release()

	segments, err := p.store.GetSegments(p.cfg.Mail.List)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Process", Err: err})
		return r
	}
	r.Window = segmentsLabel(segments)

	log.Println("Step 1/2: Mining stored segments...")
	acc, offsets, counts := p.processSegments(segments)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Process",
		Summary: fmt.Sprintf("Parsed %d messages (%d skipped) across %d segments, %s", counts.parsed, counts.skipped, len(segments), counts.mentionSummary(acc.Events())),
	})

	step := p.runMerge(acc, offsets, store.RunReport{
		Kind:            "process",
		Period:          r.Window,
		SegmentsOK:      len(segments),
		MessagesParsed:  counts.parsed,
		MessagesSkipped: counts.skipped,
		NewMentions:     acc.Events(),
	}, "Step 2/2")
	r.Steps = append(r.Steps, step)
	return r
}

// DownloadWiki refreshes the stored proposal set from the wiki.
func (p *Pipeline) DownloadWiki(ctx context.Context) *Result {
	r := &Result{Kind: "wiki"}

	log.Println("Step 1/1: Refreshing proposal metadata...")
	client := wiki.NewClient(p.cfg.Wiki)
	proposals, err := client.FetchProposals(ctx)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Metadata", Err: fmt.Errorf("fetching proposals: %w", err)})
		return r
	}
	if err := p.store.ReplaceProposals(proposals); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Metadata", Err: fmt.Errorf("storing proposals: %w", err)})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Metadata",
		Summary: fmt.Sprintf("Stored %d proposals", len(proposals)),
	})
	return r
}

func (p *Pipeline) run(ctx context.Context, kind string, months []archive.YearMonth) *Result {
	r := &Result{Kind: kind, Window: windowLabel(months)}

	release, err := acquireLock(p.cachePath + ".lock")
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Lock", Err: err})
		return r
	}
	defer release()

	// Step 1: Metadata. A full run needs a fresh proposal set; an update
	// may fall back to the stored one.
	step := p.runMetadata(ctx, kind == "update")
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Fetch archives
	step, segments, failed := p.runFetch(ctx, months, "Step 2/4")
	r.Steps = append(r.Steps, step)

	// Step 3: Parse and extract
	log.Println("Step 3/4: Mining fetched segments...")
	acc, offsets, counts := p.processSegments(segments)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Process",
		Summary: fmt.Sprintf("Parsed %d messages (%d skipped), %s", counts.parsed, counts.skipped, counts.mentionSummary(acc.Events())),
	})

	// Step 4: Merge into cache
	step = p.runMerge(acc, offsets, store.RunReport{
		Kind:            kind,
		Period:          r.Window,
		SegmentsOK:      len(segments),
		SegmentsFailed:  failed,
		MessagesParsed:  counts.parsed,
		MessagesSkipped: counts.skipped,
		NewMentions:     acc.Events(),
	}, "Step 4/4")
	r.Steps = append(r.Steps, step)
	return r
}

// runMetadata refreshes the proposal set. When allowFallback is set, a
// failed refresh keeps the last stored set instead of aborting, but an
// empty store still aborts.
func (p *Pipeline) runMetadata(ctx context.Context, allowFallback bool) StepResult {
	log.Println("Step 1/4: Refreshing proposal metadata...")
	client := wiki.NewClient(p.cfg.Wiki)
	proposals, err := client.FetchProposals(ctx)
	if err == nil {
		if storeErr := p.store.ReplaceProposals(proposals); storeErr != nil {
			err = storeErr
		}
	}
	if err != nil {
		if !allowFallback {
			return StepResult{Name: "Metadata", Err: fmt.Errorf("refreshing proposals: %w", err)}
		}
		stored, storeErr := p.store.GetProposals()
		if storeErr != nil {
			return StepResult{Name: "Metadata", Err: storeErr}
		}
		if len(stored) == 0 {
			return StepResult{Name: "Metadata", Err: fmt.Errorf("refreshing proposals with no stored fallback: %w", err)}
		}
		log.Printf("Warning: proposal metadata refresh failed, keeping stored set: %v", err)
		return StepResult{
			Name:    "Metadata",
			Summary: fmt.Sprintf("Refresh failed, keeping %d stored proposals", len(stored)),
		}
	}
	return StepResult{
		Name:    "Metadata",
		Summary: fmt.Sprintf("Stored %d proposals", len(proposals)),
	}
}

func (p *Pipeline) runFetch(ctx context.Context, months []archive.YearMonth, label string) (StepResult, []store.Segment, int) {
	log.Printf("%s: Fetching archive segments...", label)
	fetcher := archive.New(p.cfg.Mail, p.store, p.now)
	segments, failures := fetcher.FetchMonths(ctx, months)
	for _, f := range failures {
		log.Printf("Warning: %v", f)
	}
	return StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d segments, %d failed", len(segments), len(failures)),
	}, segments, len(failures)
}

type processCounts struct {
	parsed  int
	skipped int
	discuss int
	vote    int
}

func (c processCounts) mentionSummary(events int) string {
	return fmt.Sprintf("%d mention events (%d discuss, %d vote)", events, c.discuss, c.vote)
}

// processSegments mines every message past each segment's merge offset
// and reports the new offsets the merge should commit.
func (p *Pipeline) processSegments(segments []store.Segment) (*mention.Accumulator, []store.SegmentOffset, processCounts) {
	acc := mention.NewAccumulator()
	var offsets []store.SegmentOffset
	var counts processCounts

	for _, seg := range segments {
		sc := mbox.NewScanner(seg.Raw)
		entries := 0
		for sc.Next() {
			msg := sc.Message()
			entries++
			if msg.Seq < seg.MergeOffset {
				continue
			}
			counts.parsed++
			events := mention.Events(msg)
			for _, ev := range events {
				acc.Add(ev)
			}
			switch mention.Classify(msg.Subject) {
			case mention.KindDiscuss:
				counts.discuss += len(events)
			case mention.KindVote:
				counts.vote += len(events)
			}
		}
		entries += sc.Skipped()
		counts.skipped += sc.Skipped()

		if entries > seg.MergeOffset {
			offsets = append(offsets, store.SegmentOffset{
				List:   seg.List,
				Year:   seg.Year,
				Month:  seg.Month,
				Offset: entries,
			})
		}
	}
	return acc, offsets, counts
}

// runMerge folds the mined window into the cache file, then commits the
// advanced offsets. The offsets are committed only after the cache file
// rename succeeds, so a crash in between re-mines at most one window.
func (p *Pipeline) runMerge(acc *mention.Accumulator, offsets []store.SegmentOffset, report store.RunReport, label string) StepResult {
	log.Printf("%s: Merging into mention cache...", label)

	old, err := cache.Load(p.cachePath)
	if err != nil {
		return StepResult{Name: "Merge", Err: err}
	}
	merged, err := cache.Merge(old, acc.Records())
	if err != nil {
		return StepResult{Name: "Merge", Err: err}
	}
	if err := cache.Write(p.cachePath, merged); err != nil {
		return StepResult{Name: "Merge", Err: fmt.Errorf("writing cache: %w", err)}
	}
	if _, err := p.store.CommitMerge(offsets, report); err != nil {
		return StepResult{Name: "Merge", Err: fmt.Errorf("committing merge offsets: %w", err)}
	}
	return StepResult{
		Name:    "Merge",
		Summary: fmt.Sprintf("Cache now tracks %d proposals (%d updated this run)", len(merged), len(acc.Records())),
	}
}

func windowLabel(months []archive.YearMonth) string {
	if len(months) == 0 {
		return "empty"
	}
	first := fmt.Sprintf("%04d-%02d", months[0].Year, months[0].Month)
	if len(months) == 1 {
		return first
	}
	last := months[len(months)-1]
	return fmt.Sprintf("%s..%04d-%02d", first, last.Year, last.Month)
}

func segmentsLabel(segments []store.Segment) string {
	if len(segments) == 0 {
		return "empty"
	}
	months := make([]archive.YearMonth, len(segments))
	for i, seg := range segments {
		months[i] = archive.YearMonth{Year: seg.Year, Month: seg.Month}
	}
	return windowLabel(months)
}
