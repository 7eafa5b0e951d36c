// pkg/source/merger.go
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// DefaultMaxPages bounds a single cursor walk
const DefaultMaxPages = 10000

// ErrCursorLoop is returned when a view hands back a cursor it already issued
var ErrCursorLoop = errors.New("source returned a repeated cursor")

// MergeRequest describes one table to collect
type MergeRequest struct {
	Table          string
	PrimaryView    string
	ExpectedCount  int // Hint; 0 means unknown
	PartitionField string
	Partitions     []model.PartitionRange
	KnownIDs       []string // IDs that must be present, fetched individually if missing
}

// MergeResult is the deduplicated record set of a table
type MergeResult struct {
	Records           []model.SourceRecord // Sorted by ExternalID
	Distinct          int
	Expected          int
	Shortfall         int
	ViewsQueried      []string
	PartitionsQueried int
	FetchedDirectly   int
}

// Merger walks every view of a table and merges the pages into one set
type Merger struct {
	client         Lister
	logger         *zap.Logger
	maxConcurrency int
	maxPages       int
}

// NewMerger creates a page merger over a source lister
func NewMerger(client Lister, maxConcurrency int, logger *zap.Logger) *Merger {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{
		client:         client,
		logger:         logger.Named("page-merger"),
		maxConcurrency: maxConcurrency,
		maxPages:       DefaultMaxPages,
	}
}

// WithMaxPages overrides the per-walk page cap
func (m *Merger) WithMaxPages(n int) *Merger {
	if n > 0 {
		m.maxPages = n
	}
	return m
}

// recordSet keeps the latest copy of each record by ExternalID
type recordSet struct {
	mu      sync.Mutex
	records map[string]model.SourceRecord
}

func newRecordSet() *recordSet {
	return &recordSet{records: make(map[string]model.SourceRecord)}
}

func (s *recordSet) add(records []model.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.ExternalID == "" {
			continue
		}
		s.records[r.ExternalID] = r
	}
}

func (s *recordSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

func (s *recordSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *recordSet) sorted() []model.SourceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SourceRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

type pageFetcher func(ctx context.Context, cursor string) (Page, error)

// Merge collects the complete record set of a table. A failure on the primary
// view aborts; failures on secondary views and partitions are logged and the
// merge continues with what was collected.
func (m *Merger) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	set := newRecordSet()
	result := &MergeResult{Expected: req.ExpectedCount}

	// Step 1: Primary view
	primary := func(ctx context.Context, cursor string) (Page, error) {
		return m.client.ListView(ctx, req.Table, req.PrimaryView, cursor)
	}
	if err := m.walk(ctx, primary, set); err != nil {
		return nil, fmt.Errorf("failed to read primary view %q of %s: %w", req.PrimaryView, req.Table, err)
	}
	result.ViewsQueried = append(result.ViewsQueried, req.PrimaryView)

	m.logger.Info("Primary view collected",
		zap.String("table", req.Table),
		zap.String("view", req.PrimaryView),
		zap.Int("records", set.len()),
		zap.Int("expected", req.ExpectedCount))

	// Step 2: Remaining views when short of the hint
	if m.short(set, req) {
		queried, err := m.mergeViews(ctx, req, set)
		if err != nil {
			return nil, err
		}
		result.ViewsQueried = append(result.ViewsQueried, queried...)
	}

	// Step 3: Partition fallback, deriving date windows when none are configured
	if m.short(set, req) && req.PartitionField != "" {
		partitions := req.Partitions
		if len(partitions) == 0 {
			partitions = derivePartitions(req.PartitionField, set.sorted())
			m.logger.Info("Derived partition ranges",
				zap.String("table", req.Table),
				zap.String("field", req.PartitionField),
				zap.Int("partitions", len(partitions)))
		}

		if len(partitions) == 0 {
			m.logger.Warn("Partition fallback has no ranges, skipping",
				zap.String("table", req.Table),
				zap.String("field", req.PartitionField))
		} else {
			n, err := m.mergePartitions(ctx, req, partitions, set)
			if err != nil {
				return nil, err
			}
			result.PartitionsQueried = n
		}
	}

	// Step 4: Individually fetch known IDs still missing
	if len(req.KnownIDs) > 0 {
		n, err := m.fetchMissing(ctx, req, set)
		if err != nil {
			return nil, err
		}
		result.FetchedDirectly = n
	}

	result.Records = set.sorted()
	result.Distinct = len(result.Records)
	if req.ExpectedCount > result.Distinct {
		result.Shortfall = req.ExpectedCount - result.Distinct
		m.logger.Warn("Record set short of expected count",
			zap.String("table", req.Table),
			zap.Int("distinct", result.Distinct),
			zap.Int("expected", req.ExpectedCount),
			zap.Int("shortfall", result.Shortfall))
	}

	return result, nil
}

func (m *Merger) short(set *recordSet, req MergeRequest) bool {
	return req.ExpectedCount > 0 && set.len() < req.ExpectedCount
}

// walk follows cursors until exhausted, adding each page to the set
func (m *Merger) walk(ctx context.Context, fetch pageFetcher, set *recordSet) error {
	seen := make(map[string]bool)
	cursor := ""

	for pages := 0; ; pages++ {
		if pages >= m.maxPages {
			return fmt.Errorf("page cap of %d reached", m.maxPages)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		set.add(page.Records)

		if page.NextCursor == "" {
			return nil
		}
		if seen[page.NextCursor] {
			return fmt.Errorf("%w: %q", ErrCursorLoop, page.NextCursor)
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

func (m *Merger) mergeViews(ctx context.Context, req MergeRequest, set *recordSet) ([]string, error) {
	views, err := m.client.ListViews(ctx, req.Table)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("Failed to list views, skipping view merge",
			zap.String("table", req.Table),
			zap.Error(err))
		return nil, nil
	}

	var (
		mu      sync.Mutex
		queried []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrency)

	for _, view := range views {
		if view.Name == req.PrimaryView || view.ID == req.PrimaryView {
			continue
		}

		g.Go(func() error {
			name := view.Name
			if name == "" {
				name = view.ID
			}
			fetch := func(ctx context.Context, cursor string) (Page, error) {
				return m.client.ListView(ctx, req.Table, name, cursor)
			}
			before := set.len()
			if err := m.walk(gctx, fetch, set); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.logger.Warn("Failed to read secondary view",
					zap.String("table", req.Table),
					zap.String("view", name),
					zap.Error(err))
				return nil
			}

			mu.Lock()
			queried = append(queried, name)
			mu.Unlock()

			m.logger.Debug("Secondary view merged",
				zap.String("table", req.Table),
				zap.String("view", name),
				zap.Int("newRecords", set.len()-before))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(queried)
	m.logger.Info("Views merged",
		zap.String("table", req.Table),
		zap.Int("views", len(queried)+1),
		zap.Int("records", set.len()))
	return queried, nil
}

func (m *Merger) mergePartitions(ctx context.Context, req MergeRequest, partitions []model.PartitionRange, set *recordSet) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrency)

	for _, partition := range partitions {
		formula := DateRangeFormula(req.PartitionField, partition)
		if formula == "" {
			continue
		}

		g.Go(func() error {
			fetch := func(ctx context.Context, cursor string) (Page, error) {
				return m.client.ListFiltered(ctx, req.Table, formula, cursor)
			}
			if err := m.walk(gctx, fetch, set); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.logger.Warn("Failed to read partition",
					zap.String("table", req.Table),
					zap.String("filter", formula),
					zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	m.logger.Info("Partitions merged",
		zap.String("table", req.Table),
		zap.Int("partitions", len(partitions)),
		zap.Int("records", set.len()))
	return len(partitions), nil
}

func (m *Merger) fetchMissing(ctx context.Context, req MergeRequest, set *recordSet) (int, error) {
	var missing []string
	for _, id := range req.KnownIDs {
		if id != "" && !set.has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	var (
		mu      sync.Mutex
		fetched int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrency)

	for _, id := range missing {
		g.Go(func() error {
			record, err := m.client.GetRecord(gctx, req.Table, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.logger.Warn("Failed to fetch known record",
					zap.String("table", req.Table),
					zap.String("recordId", id),
					zap.Bool("notFound", IsNotFound(err)),
					zap.Error(err))
				return nil
			}
			set.add([]model.SourceRecord{record})

			mu.Lock()
			fetched++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return fetched, nil
}

// derivePartitions splits the span of field values seen so far into yearly
// windows, or monthly ones when the span sits inside one year. The first and
// last windows are open-ended so records outside the span are still reached.
// Returns nil when no record carries a parseable date.
func derivePartitions(field string, records []model.SourceRecord) []model.PartitionRange {
	var first, last time.Time
	found := false
	for _, r := range records {
		t, ok := r.Time(field)
		if !ok {
			continue
		}
		t = t.UTC()
		if !found || t.Before(first) {
			first = t
		}
		if !found || t.After(last) {
			last = t
		}
		found = true
	}
	if !found {
		return nil
	}

	var boundaries []time.Time
	if last.Year() > first.Year() {
		for y := first.Year() + 1; y <= last.Year(); y++ {
			boundaries = append(boundaries, time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC))
		}
	} else {
		start := time.Date(first.Year(), first.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		for b := start; !b.After(last); b = b.AddDate(0, 1, 0) {
			boundaries = append(boundaries, b)
		}
		if len(boundaries) == 0 {
			boundaries = append(boundaries, start)
		}
	}

	const layout = "2006-01-02"
	ranges := make([]model.PartitionRange, 0, len(boundaries)+1)
	ranges = append(ranges, model.PartitionRange{To: boundaries[0].Format(layout)})
	for i := 1; i < len(boundaries); i++ {
		ranges = append(ranges, model.PartitionRange{
			From: boundaries[i-1].Format(layout),
			To:   boundaries[i].Format(layout),
		})
	}
	ranges = append(ranges, model.PartitionRange{From: boundaries[len(boundaries)-1].Format(layout)})
	return ranges
}

// DateRangeFormula builds a filter selecting records whose field falls in
// [From, To). Either bound may be empty.
func DateRangeFormula(field string, r model.PartitionRange) string {
	if field == "" {
		return ""
	}

	ref := "{" + field + "}"
	var clauses []string
	if r.From != "" {
		clauses = append(clauses, fmt.Sprintf("NOT(IS_BEFORE(%s, '%s'))", ref, escapeQuote(r.From)))
	}
	if r.To != "" {
		clauses = append(clauses, fmt.Sprintf("IS_BEFORE(%s, '%s')", ref, escapeQuote(r.To)))
	}

	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	default:
		return "AND(" + strings.Join(clauses, ", ") + ")"
	}
}

func escapeQuote(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
