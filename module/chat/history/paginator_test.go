package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatsync/module/chat/model"
	"chatsync/module/chat/reconcile"
	"chatsync/service/transport"
	"chatsync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// store serves a fixed set of messages with ids 1..n.
type store struct {
	mu    sync.Mutex
	n     int64
	calls []int64 // beforeID per call
	err   error
	block chan struct{}
}

func (s *store) FetchMessages(ctx context.Context, ref model.ConversationRef, limit int, beforeID int64) (Page, error) {
	s.mu.Lock()
	s.calls = append(s.calls, beforeID)
	block, err := s.block, s.err
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return Page{}, err
	}
	hi := s.n
	if beforeID > 0 {
		hi = beforeID - 1
	}
	lo := hi - int64(limit) + 1
	if lo < 1 {
		lo = 1
	}
	var out []model.Message
	for id := lo; id <= hi; id++ {
		out = append(out, model.Message{ID: id, ConversationID: 5, AuthorID: 2, Text: "m", SentAt: time.Unix(id, 0)})
	}
	return Page{ConversationID: 5, Messages: out, HasMore: lo > 1}, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) (transport.PublishResult, error) {
	return transport.Sent, nil
}

func setup(n int64) (*store, *reconcile.Reconciler, *Paginator) {
	s := &store{n: n}
	r := reconcile.New(5, reconcile.Self{UserID: 1}, nopPublisher{})
	return s, r, NewPaginator(model.ByID(5), s, r, 30, zap.NewNop())
}

func ordered(t *testing.T, list []model.Message) {
	t.Helper()
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestFiftyMessagesInPagesOfThirty(t *testing.T) {
	s, r, p := setup(50)
	page, err := p.LoadInitial(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Messages, 30)
	assert.Equal(t, 30, r.Len())
	assert.False(t, p.Exhausted())

	res, err := p.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Appended: 20, Exhausted: true}, res)
	assert.Equal(t, 50, r.Len())
	ordered(t, r.Snapshot())
	assert.Equal(t, []int64{0, 21}, s.calls)
}

func TestLoadOlderTwiceIsIdempotent(t *testing.T) {
	s, r, p := setup(50)
	_, err := p.LoadInitial(context.Background())
	require.NoError(t, err)
	_, err = p.LoadOlder(context.Background())
	require.NoError(t, err)
	before := r.Snapshot()

	res, err := p.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Zero(t, res.Appended)
	assert.Equal(t, before, r.Snapshot())
	assert.Len(t, s.calls, 2, "no fetch once exhausted")
}

func TestEmptyPageExhausts(t *testing.T) {
	s := &store{n: 0}
	r := reconcile.New(5, reconcile.Self{UserID: 1}, nopPublisher{})
	p := NewPaginator(model.ByID(5), s, r, 30, zap.NewNop())

	res, err := p.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Zero(t, r.Len())
}

func TestManyPages(t *testing.T) {
	_, r, p := setup(95)
	_, err := p.LoadInitial(context.Background())
	require.NoError(t, err)

	var total int
	for i := 0; i < 5; i++ {
		res, err := p.LoadOlder(context.Background())
		require.NoError(t, err)
		total += res.Appended
		ordered(t, r.Snapshot())
		if res.Exhausted {
			break
		}
	}
	assert.Equal(t, 65, total)
	assert.Equal(t, 95, r.Len())
	assert.Equal(t, int64(1), r.OldestLoadedID())
}

func TestConcurrentLoadIsNoop(t *testing.T) {
	s, r, p := setup(50)
	_, err := p.LoadInitial(context.Background())
	require.NoError(t, err)

	s.mu.Lock()
	s.block = make(chan struct{})
	s.mu.Unlock()

	done := make(chan Result)
	go func() {
		res, _ := p.LoadOlder(context.Background())
		done <- res
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.calls) == 2
	}, time.Second, time.Millisecond)

	res, err := p.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, res.InFlight)

	_, err = p.LoadInitial(context.Background())
	assert.True(t, errors.Is(err, errs.ErrBusy), "initial load must not report an empty page as loaded")
	assert.Equal(t, 30, r.Len())

	close(s.block)
	assert.Equal(t, 20, (<-done).Appended)
}

func TestLoadErrorLeavesStateAlone(t *testing.T) {
	s, r, p := setup(50)
	_, err := p.LoadInitial(context.Background())
	require.NoError(t, err)

	s.err = errors.New("down")
	_, err = p.LoadOlder(context.Background())
	require.Error(t, err)
	assert.False(t, p.Exhausted())
	assert.Equal(t, 30, r.Len())

	s.err = nil
	res, err := p.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Appended)
}

func TestPeerRefResolved(t *testing.T) {
	s := &store{n: 3}
	r := reconcile.New(5, reconcile.Self{UserID: 1}, nopPublisher{})
	p := NewPaginator(model.ByPeer("bob"), s, r, 30, zap.NewNop())

	page, err := p.LoadInitial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.ConversationID)
	assert.Equal(t, model.ByID(5), p.currentRef())
}
