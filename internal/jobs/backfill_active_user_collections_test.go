package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/lock"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// MockOwnershipScanner 模拟所有权扫描
type MockOwnershipScanner struct {
	mock.Mock
}

func (m *MockOwnershipScanner) ScanOwnershipChanges(ctx context.Context, params model.ScanParams) ([]model.OwnershipChange, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OwnershipChange), args.Error(1)
}

// recordingQueue 记录投递的重算任务
// 与 Producer 一致, ctx 已取消时直接失败
type recordingQueue struct {
	mu       sync.Mutex
	jobs     []model.RefreshJob
	err      error
	failUser string
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobs []model.RefreshJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	for _, job := range jobs {
		if job.User == q.failUser {
			return errors.New("broker rejected message")
		}
	}
	q.jobs = append(q.jobs, jobs...)
	return nil
}

func (q *recordingQueue) recover() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = nil
	q.failUser = ""
}

func (q *recordingQueue) enqueued() []model.RefreshJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.RefreshJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}

var baseTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// syntheticChanges n 条 updated_at 严格递增的变动, owner 各不相同
func syntheticChanges(n int) []model.OwnershipChange {
	out := make([]model.OwnershipChange, n)
	for i := 0; i < n; i++ {
		out[i] = model.OwnershipChange{
			Owner:        fmt.Sprintf("0x%040x", i+1),
			CollectionID: strPtr(fmt.Sprintf("collection-%d", i%7)),
			UpdatedAt:    baseTime.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func setupBackfill(t *testing.T) (*BackfillActiveUserCollectionsJob, *MockOwnershipScanner, *recordingQueue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	scanner := new(MockOwnershipScanner)
	q := &recordingQueue{}
	job := NewBackfillActiveUserCollectionsJob(scanner, lock.NewRedisLocker(client), q, nil)
	job.now = func() time.Time { return baseTime.Add(24 * time.Hour) }
	return job, scanner, q, mr
}

func TestBackfill_FullBatchRequeues(t *testing.T) {
	job, scanner, q, _ := setupBackfill(t)
	records := syntheticChanges(400)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)

	assert.Equal(t, 400, result.Scanned)
	assert.Equal(t, 400, result.Enqueued)
	assert.Equal(t, 0, result.Skipped)
	assert.Len(t, q.enqueued(), 400)

	assert.True(t, result.Requeue)
	require.NotNil(t, result.NextCursor)
	require.NotNil(t, result.NextCursor.LastUpdatedAt)
	assert.True(t, result.NextCursor.LastUpdatedAt.Equal(records[399].UpdatedAt))

	scanner.AssertExpectations(t)
}

func TestBackfill_ScanParams(t *testing.T) {
	job, scanner, _, _ := setupBackfill(t)
	since := baseTime.Add(time.Hour)

	scanner.On("ScanOwnershipChanges", mock.Anything, mock.MatchedBy(func(p model.ScanParams) bool {
		return p.Since != nil && p.Since.Equal(since) &&
			p.Limit == 400 &&
			p.Window == 4380*time.Hour &&
			p.Now.Equal(baseTime.Add(24*time.Hour)) &&
			assert.ObjectsAreEqual(excludedOwners, p.Excluded)
	})).Return([]model.OwnershipChange{}, nil)

	result, err := job.Run(context.Background(), model.BackfillCursor{LastUpdatedAt: &since})
	require.NoError(t, err)
	assert.False(t, result.Requeue)
	assert.Nil(t, result.NextCursor)

	scanner.AssertExpectations(t)
}

func TestBackfill_SecondRunIsDeduplicated(t *testing.T) {
	job, scanner, q, _ := setupBackfill(t)
	records := syntheticChanges(400)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	first, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)
	assert.Equal(t, 400, first.Enqueued)

	second, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Enqueued)
	assert.Equal(t, 400, second.Locked)
	assert.Equal(t, 400, second.Skipped)
	assert.Len(t, q.enqueued(), 400)
}

func TestBackfill_LockExpiryAllowsReenqueue(t *testing.T) {
	job, scanner, q, mr := setupBackfill(t)
	records := syntheticChanges(3)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	_, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)

	mr.FastForward(6*time.Hour + time.Second)

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Enqueued)
	assert.Len(t, q.enqueued(), 6)
}

func TestBackfill_DuplicatePairsInBatchEnqueueOnce(t *testing.T) {
	job, scanner, q, _ := setupBackfill(t)
	records := []model.OwnershipChange{
		{Owner: "0xaaa", CollectionID: strPtr("c1"), UpdatedAt: baseTime},
		{Owner: "0xaaa", CollectionID: strPtr("c1"), UpdatedAt: baseTime.Add(time.Second)},
		{Owner: "0xaaa", CollectionID: strPtr("c2"), UpdatedAt: baseTime.Add(2 * time.Second)},
	}
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Enqueued)
	assert.Equal(t, 1, result.Locked)
	assert.ElementsMatch(t, []model.RefreshJob{
		{User: "0xaaa", CollectionID: "c1"},
		{User: "0xaaa", CollectionID: "c2"},
	}, q.enqueued())
}

func TestBackfill_UnresolvedCollectionSkipped(t *testing.T) {
	job, scanner, q, mr := setupBackfill(t)
	records := []model.OwnershipChange{
		{Owner: "0xaaa", CollectionID: nil, UpdatedAt: baseTime},
		{Owner: "0xbbb", CollectionID: strPtr(""), UpdatedAt: baseTime.Add(time.Second)},
		{Owner: "0xccc", CollectionID: strPtr("c1"), UpdatedAt: baseTime.Add(2 * time.Second)},
	}
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Enqueued)
	assert.Equal(t, 2, result.NoCollection)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []model.RefreshJob{{User: "0xccc", CollectionID: "c1"}}, q.enqueued())
	assert.Len(t, mr.Keys(), 1)
	assert.False(t, result.Requeue)
}

func TestBackfill_ScanErrorFailsRun(t *testing.T) {
	job, scanner, q, _ := setupBackfill(t)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Empty(t, q.enqueued())
}

func TestBackfill_LockErrorFailsRun(t *testing.T) {
	job, scanner, q, mr := setupBackfill(t)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(syntheticChanges(400), nil)
	mr.Close()

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	assert.Error(t, err)
	assert.Nil(t, result, "cursor must not advance on failure")
	assert.Empty(t, q.enqueued())
}

func TestBackfill_EnqueueErrorFailsRun(t *testing.T) {
	job, scanner, q, _ := setupBackfill(t)
	q.err = errors.New("broker unavailable")
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(syntheticChanges(10), nil)

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestBackfill_RetryAfterEnqueueFailureEnqueuesAllPairs(t *testing.T) {
	job, scanner, q, mr := setupBackfill(t)
	records := syntheticChanges(3)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	q.err = errors.New("broker down")
	_, err := job.Run(context.Background(), model.BackfillCursor{})
	require.Error(t, err)
	assert.Empty(t, q.enqueued())
	assert.Empty(t, mr.Keys(), "failed pairs must not stay locked")

	q.recover()
	result, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Enqueued)
	assert.Equal(t, 0, result.Locked)
	assert.Len(t, q.enqueued(), 3)
	assert.Len(t, mr.Keys(), 3)
}

func TestBackfill_CancelledSiblingsAreRetried(t *testing.T) {
	job, scanner, q, mr := setupBackfill(t)
	job.config.Concurrency = 4
	records := syntheticChanges(40)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	q.failUser = records[5].Owner
	_, err := job.Run(context.Background(), model.BackfillCursor{})
	require.Error(t, err)
	first := len(q.enqueued())
	assert.Less(t, first, 40)
	// 留下的锁都对应已投递的 pair
	assert.Len(t, mr.Keys(), first)

	q.recover()
	result, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)
	assert.Equal(t, 40-first, result.Enqueued)
	assert.Equal(t, first, result.Locked)

	seen := make(map[string]int)
	for _, j := range q.enqueued() {
		seen[j.Key()]++
	}
	assert.Len(t, seen, 40)
	for key, n := range seen {
		assert.Equal(t, 1, n, key)
	}
}

func TestBackfill_StalledCursorStopsRequeue(t *testing.T) {
	job, scanner, q, _ := setupBackfill(t)
	records := syntheticChanges(400)
	for i := range records {
		records[i].UpdatedAt = baseTime
	}
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(records, nil)

	// 第一跳游标从更早的位置前进到 baseTime
	earlier := baseTime.Add(-time.Minute)
	result, err := job.Run(context.Background(), model.BackfillCursor{LastUpdatedAt: &earlier})
	require.NoError(t, err)
	require.True(t, result.Requeue)
	assert.True(t, result.NextCursor.LastUpdatedAt.Equal(baseTime))

	result, err = job.Run(context.Background(), *result.NextCursor)
	require.NoError(t, err)
	assert.False(t, result.Requeue)
	assert.Nil(t, result.NextCursor)
	assert.Len(t, q.enqueued(), 400)
}

func TestBackfill_ShortBatchDoesNotRequeue(t *testing.T) {
	job, scanner, q, _ := setupBackfill(t)
	scanner.On("ScanOwnershipChanges", mock.Anything, mock.Anything).Return(syntheticChanges(399), nil)

	result, err := job.Run(context.Background(), model.BackfillCursor{})
	require.NoError(t, err)
	assert.Equal(t, 399, result.Enqueued)
	assert.False(t, result.Requeue)
	assert.Nil(t, result.NextCursor)
	assert.Len(t, q.enqueued(), 399)
}

func TestNewBackfillJob_Defaults(t *testing.T) {
	job := NewBackfillActiveUserCollectionsJob(nil, nil, nil, &BackfillConfig{BatchLimit: 50})
	assert.Equal(t, 50, job.config.BatchLimit)
	assert.Equal(t, 6*time.Hour, job.config.LockTTL)
	assert.Equal(t, 8, job.config.Concurrency)
	assert.Equal(t, 4380*time.Hour, job.config.Window)
}
