package history

import (
	"context"
	"sync"
	"sync/atomic"

	"chatsync/logger"
	"chatsync/module/chat/model"
	"chatsync/service/metrics"
	"chatsync/tools/errs"
	"chatsync/tools/safe"

	"go.uber.org/zap"
)

const DefaultPageSize = 30

// Target receives loaded pages; *reconcile.Reconciler implements it.
type Target interface {
	OldestLoadedID() int64
	LoadInitial(batch []model.Message)
	MergeHistory(batch []model.Message) int
}

type Result struct {
	Appended  int
	Exhausted bool
	InFlight  bool // another load was running, nothing was done
}

// Paginator loads older history for one conversation on demand.
type Paginator struct {
	loader   Loader
	target   Target
	pageSize int
	log      *zap.Logger

	inflight atomic.Bool

	mu        sync.Mutex
	ref       model.ConversationRef
	cursor    int64 // exclusive upper bound of the next page, 0 before the first load
	exhausted bool
}

func NewPaginator(ref model.ConversationRef, loader Loader, target Target, pageSize int, log *zap.Logger) *Paginator {
	safe.MustNotNil(loader, "loader")
	safe.MustNotNil(target, "target")
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{
		loader:   loader,
		target:   target,
		pageSize: pageSize,
		ref:      ref,
		log:      logger.Named(log, "history").With(zap.Stringer("ref", ref)),
	}
}

func (p *Paginator) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exhausted
}

// LoadInitial fetches the newest page and replaces the target's list. The
// returned page carries the resolved conversation id. It fails with
// errs.ErrBusy while another load is in flight.
func (p *Paginator) LoadInitial(ctx context.Context) (Page, error) {
	if !p.inflight.CompareAndSwap(false, true) {
		return Page{}, errs.ErrBusy.WrapMsg("history load in flight", "ref", p.currentRef())
	}
	defer p.inflight.Store(false)

	page, err := p.loader.FetchMessages(ctx, p.currentRef(), p.pageSize, 0)
	if err != nil {
		metrics.RecordHistoryLoad("error")
		return Page{}, err
	}
	p.Prime(page)
	return page, nil
}

// Prime applies a newest page fetched elsewhere, e.g. the page that resolved
// a peer reference to its conversation id.
func (p *Paginator) Prime(page Page) {
	p.target.LoadInitial(page.Messages)

	p.mu.Lock()
	if p.ref.ID == 0 && page.ConversationID != 0 {
		p.ref = model.ByID(page.ConversationID)
	}
	p.cursor = minID(page.Messages)
	p.exhausted = len(page.Messages) == 0 || !page.HasMore
	p.mu.Unlock()

	metrics.RecordHistoryLoad("initial")
}

// LoadOlder fetches the page before the oldest loaded message and merges
// it. Once a page comes back empty or without more, the paginator stays
// exhausted.
func (p *Paginator) LoadOlder(ctx context.Context) (Result, error) {
	if p.Exhausted() {
		return Result{Exhausted: true}, nil
	}
	if !p.inflight.CompareAndSwap(false, true) {
		return Result{InFlight: true}, nil
	}
	defer p.inflight.Store(false)

	p.mu.Lock()
	ref, before := p.ref, p.cursor
	p.mu.Unlock()
	if oldest := p.target.OldestLoadedID(); oldest != 0 && (before == 0 || oldest < before) {
		before = oldest
	}

	page, err := p.loader.FetchMessages(ctx, ref, p.pageSize, before)
	if err != nil {
		metrics.RecordHistoryLoad("error")
		p.log.Warn("load older failed", zap.Int64("before", before), zap.Error(err))
		return Result{}, err
	}

	var res Result
	if len(page.Messages) > 0 {
		res.Appended = p.target.MergeHistory(page.Messages)
	}

	p.mu.Lock()
	if m := minID(page.Messages); m != 0 {
		p.cursor = m
	}
	if len(page.Messages) == 0 || !page.HasMore {
		p.exhausted = true
	}
	res.Exhausted = p.exhausted
	p.mu.Unlock()

	if res.Exhausted {
		metrics.RecordHistoryLoad("exhausted")
	} else {
		metrics.RecordHistoryLoad("page")
	}
	return res, nil
}

func (p *Paginator) currentRef() model.ConversationRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ref
}

func minID(ms []model.Message) int64 {
	var out int64
	for _, m := range ms {
		if m.ID > 0 && (out == 0 || m.ID < out) {
			out = m.ID
		}
	}
	return out
}
