package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prmetrics/pr-history-service/internal/apperrors"
	"github.com/prmetrics/pr-history-service/internal/cache"
	"github.com/prmetrics/pr-history-service/internal/domain"
	"github.com/prmetrics/pr-history-service/internal/facts"
	"github.com/prmetrics/pr-history-service/internal/filter"
	"github.com/prmetrics/pr-history-service/internal/snapshot"
	"github.com/prmetrics/pr-history-service/pkg/logger/sl"
)

// FactsTTL is the cache lifetime of an extracted fact record; ClosedFactsTTL
// applies when the item is closed and its facts can no longer change under
// the same horizon.
const (
	FactsTTL       = 10 * time.Minute
	ClosedFactsTTL = 24 * time.Hour
)

// FilterRequest is one "facts as of a window" query.
type FilterRequest struct {
	TimeFrom time.Time
	TimeTo   time.Time

	Repositories []string
	Participants domain.Participants
	Labels       domain.LabelFilter
	IssueFilter  domain.IssueFilter

	ExcludeInactive bool
	ReleaseSettings domain.ReleaseSettings
	Blacklist       []string
}

// FilterResult pairs the pruned snapshot with the surviving fact records.
// Every fact's WorkItemID is present in the snapshot's work item table.
type FilterResult struct {
	Snapshot *snapshot.Snapshot
	Facts    []facts.Facts
}

// SnapshotAssembler abstracts snapshot assembly for the service layer.
type SnapshotAssembler interface {
	Assemble(ctx context.Context, req snapshot.Request) (*snapshot.Snapshot, error)
}

type HistoryService interface {
	FilterFacts(ctx context.Context, req FilterRequest) (*FilterResult, error)
}

// HistoryServiceImpl runs the full pipeline: assemble, prune, extract.
type HistoryServiceImpl struct {
	log       *slog.Logger
	assembler SnapshotAssembler
	factsMemo *cache.Memoizer[facts.Facts]
	bots      map[string]struct{}
}

// NewHistoryService wires the pipeline. bots are the logins whose comments
// never count as review activity; matching is case-insensitive.
func NewHistoryService(
	log *slog.Logger,
	assembler SnapshotAssembler,
	factsMemo *cache.Memoizer[facts.Facts],
	bots []string,
) *HistoryServiceImpl {
	botSet := make(map[string]struct{}, len(bots))
	for _, bot := range bots {
		botSet[strings.ToLower(bot)] = struct{}{}
	}

	return &HistoryServiceImpl{
		log:       log,
		assembler: assembler,
		factsMemo: factsMemo,
		bots:      botSet,
	}
}

// FilterFacts assembles the windowed snapshot, prunes it by the requested
// criteria and extracts one fact record per surviving work item. Impossible
// records are logged and removed from both outputs; upstream fetch failures
// abort the whole call.
func (s *HistoryServiceImpl) FilterFacts(ctx context.Context, req FilterRequest) (*FilterResult, error) {
	const op = "internal.service.history.FilterFacts"
	log := s.log.With(slog.String("op", op))

	snap, err := s.assembler.Assemble(ctx, snapshot.Request{
		TimeFrom:        req.TimeFrom,
		TimeTo:          req.TimeTo,
		Repositories:    req.Repositories,
		Participants:    req.Participants,
		Labels:          req.Labels,
		IssueFilter:     req.IssueFilter,
		ExcludeInactive: req.ExcludeInactive,
		ReleaseSettings: req.ReleaseSettings,
		Blacklist:       req.Blacklist,
		Truncate:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to assemble snapshot: %w", op, err)
	}

	dropSets := []map[string]struct{}{
		filter.ByParticipants(snap, req.Participants, &req.TimeTo),
		filter.ByLabels(snap, req.Labels),
		filter.ByIssueFilter(snap, req.IssueFilter),
	}
	if req.ExcludeInactive {
		dropSets = append(dropSets, filter.ByInactivity(snap, req.TimeFrom, req.TimeTo))
	}

	filter.Apply(snap, dropSets...)

	records, err := s.extract(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("filtered facts",
		slog.Int("work_items", snap.Len()),
		slog.Time("time_from", req.TimeFrom),
		slog.Time("time_to", req.TimeTo))

	return &FilterResult{Snapshot: snap, Facts: records}, nil
}

// extract compiles facts for every work item left in the snapshot,
// memoizing per (work item, horizon). Impossible items are dropped from the
// snapshot so the id invariant between the two outputs holds.
func (s *HistoryServiceImpl) extract(ctx context.Context, snap *snapshot.Snapshot) ([]facts.Facts, error) {
	const op = "internal.service.history.extract"

	records := make([]facts.Facts, 0, snap.Len())
	impossible := make(map[string]struct{})
	horizon := strconv.FormatInt(snap.TimeTo.Unix(), 10)

	for _, id := range snap.IDs() {
		view, ok := snap.View(id)
		if !ok {
			continue
		}

		record, err := s.factsMemo.Do(ctx, op, []string{id, horizon},
			func(_ context.Context) (facts.Facts, error) {
				return facts.Extract(view, s.bots)
			})
		if err != nil {
			if errors.Is(err, apperrors.ErrImpossibleWorkItem) {
				s.log.Warn("dropping internally inconsistent work item", sl.Err(err))
				impossible[id] = struct{}{}

				continue
			}

			return nil, fmt.Errorf("%s: failed to extract facts: %w", op, err)
		}

		records = append(records, record)
	}

	snap.Remove(impossible)

	return records, nil
}

// FactsTTLFunc is the cache lifetime policy for extracted facts.
func FactsTTLFunc(f facts.Facts) time.Duration {
	if f.Closed.Defined() {
		return ClosedFactsTTL
	}

	return FactsTTL
}
