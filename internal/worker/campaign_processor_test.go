package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ignite/campaign-sender/internal/repository/postgres"
	"github.com/ignite/campaign-sender/internal/service/sending"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CAMPAIGN PROCESSOR TESTS
// =============================================================================

type fakeRecipients struct {
	lists map[int64][]postgres.Recipient
	err   error
	calls int32
}

func (f *fakeRecipients) PendingRecipients(_ context.Context, _, listID, afterID int64, limit int) ([]postgres.Recipient, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	var out []postgres.Recipient
	for _, r := range f.lists[listID] {
		if r.SubscriptionID > afterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failFor  map[string]error
	inflight int32
	peak     int32
}

func (f *fakeSender) Send(_ context.Context, listID int64, email string) error {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	if err := f.failFor[email]; err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, fmt.Sprintf("%d:%s", listID, email))
	f.mu.Unlock()
	return nil
}

func recipients(n int) []postgres.Recipient {
	out := make([]postgres.Recipient, n)
	for i := range out {
		out[i] = postgres.Recipient{SubscriptionID: int64(i + 1), Email: fmt.Sprintf("user%d@example.com", i+1)}
	}
	return out
}

func TestCampaignProcessor_SendsAllListsInPages(t *testing.T) {
	src := &fakeRecipients{lists: map[int64][]postgres.Recipient{
		1: recipients(7),
		2: recipients(2),
	}}
	snd := &fakeSender{}
	p := NewCampaignProcessor(src, snd, CampaignProcessorConfig{NumWorkers: 3, BatchSize: 3})

	require.NoError(t, p.Run(context.Background(), 10, []int64{1, 2}))

	assert.Len(t, snd.sent, 9)
	sort.Strings(snd.sent)
	assert.Contains(t, snd.sent, "1:user7@example.com")
	assert.Contains(t, snd.sent, "2:user2@example.com")
	// list 1: 3+3+1+empty, list 2: 2+empty
	assert.Equal(t, int32(6), atomic.LoadInt32(&src.calls))
	assert.LessOrEqual(t, atomic.LoadInt32(&snd.peak), int32(3))
	assert.Equal(t, int64(9), p.Stats()["total_sent"])
}

func TestCampaignProcessor_RecipientErrorsAreCounted(t *testing.T) {
	src := &fakeRecipients{lists: map[int64][]postgres.Recipient{1: recipients(4)}}
	snd := &fakeSender{failFor: map[string]error{
		"user2@example.com": fmt.Errorf("load subscriber: %w", sending.ErrNotFound),
		"user3@example.com": sending.ErrContentFetch,
	}}
	p := NewCampaignProcessor(src, snd, CampaignProcessorConfig{NumWorkers: 2, BatchSize: 10})

	require.NoError(t, p.Run(context.Background(), 10, []int64{1}))
	assert.Equal(t, int64(2), p.Stats()["total_sent"])
	assert.Equal(t, int64(2), p.Stats()["total_failed"])
}

func TestCampaignProcessor_PersistenceErrorStopsRun(t *testing.T) {
	src := &fakeRecipients{lists: map[int64][]postgres.Recipient{
		1: recipients(1),
		2: recipients(5),
	}}
	snd := &fakeSender{failFor: map[string]error{
		"user1@example.com": fmt.Errorf("%w: connection reset", sending.ErrPersistence),
	}}
	p := NewCampaignProcessor(src, snd, CampaignProcessorConfig{NumWorkers: 1, BatchSize: 10})

	err := p.Run(context.Background(), 10, []int64{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, sending.ErrPersistence)
	assert.Empty(t, snd.sent, "second list must not start")
}

func TestCampaignProcessor_SourceError(t *testing.T) {
	src := &fakeRecipients{err: errors.New("relation does not exist")}
	p := NewCampaignProcessor(src, &fakeSender{}, CampaignProcessorConfig{})

	err := p.Run(context.Background(), 10, []int64{1})
	assert.ErrorContains(t, err, "list 1")
}

func TestCampaignProcessor_CanceledContext(t *testing.T) {
	src := &fakeRecipients{lists: map[int64][]postgres.Recipient{1: recipients(3)}}
	snd := &fakeSender{}
	p := NewCampaignProcessor(src, snd, CampaignProcessorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx, 10, []int64{1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, snd.sent)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, isFatal(sending.ErrPersistence))
	assert.True(t, isFatal(fmt.Errorf("x: %w", sending.ErrUnknownList)))
	assert.True(t, isFatal(sending.ErrNotInitialized))
	assert.False(t, isFatal(sending.ErrNotFound))
	assert.False(t, isFatal(sending.ErrContentFetch))
	assert.False(t, isFatal(errors.New("boom")))
}

func TestNewCampaignProcessor_Defaults(t *testing.T) {
	p := NewCampaignProcessor(nil, nil, CampaignProcessorConfig{})
	assert.Equal(t, 8, p.numWorkers)
	assert.Equal(t, 500, p.batchSize)
}
