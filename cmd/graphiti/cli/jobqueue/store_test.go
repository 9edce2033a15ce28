package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, s *Store, jobType string, parallel bool) string {
	t.Helper()
	id, err := s.Enqueue(jobType, map[string]string{"k": "v"}, parallel)
	require.NoError(t, err)
	return id
}

func ackBatch(t *testing.T, s *Store, batch []Job) {
	t.Helper()
	for _, job := range batch {
		require.NoError(t, s.Ack(job))
	}
}

func TestGetBatchSequentialBarrier(t *testing.T) {
	s := openTestStore(t)
	p1 := enqueue(t, s, "p1", true)
	p2 := enqueue(t, s, "p2", true)
	seq := enqueue(t, s, "s", false)
	p3 := enqueue(t, s, "p3", true)

	batch, err := s.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2, "parallel run stops at the barrier")
	assert.Equal(t, p1, batch[0].ID)
	assert.Equal(t, p2, batch[1].ID)
	ackBatch(t, s, batch)

	batch, err = s.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1, "sequential job runs alone")
	assert.Equal(t, seq, batch[0].ID)
	assert.False(t, batch[0].Parallel)
	ackBatch(t, s, batch)

	batch, err = s.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, p3, batch[0].ID)
	ackBatch(t, s, batch)

	batch, err = s.GetBatch(10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestGetBatchSequentialFirst(t *testing.T) {
	s := openTestStore(t)
	seq := enqueue(t, s, "s", false)
	enqueue(t, s, "p", true)

	batch, err := s.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, seq, batch[0].ID)
}

func TestGetBatchRespectsMaxItems(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 6; i++ {
		enqueue(t, s, "p", true)
	}
	batch, err := s.GetBatch(4)
	require.NoError(t, err)
	assert.Len(t, batch, 4)
}

func TestNackKeepsQueuePosition(t *testing.T) {
	s := openTestStore(t)
	first := enqueue(t, s, "a", true)
	enqueue(t, s, "b", true)

	batch, err := s.GetBatch(1)
	require.NoError(t, err)
	attempts, err := s.Nack(batch[0])
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	batch, err = s.GetBatch(1)
	require.NoError(t, err)
	assert.Equal(t, first, batch[0].ID, "nacked job stays at the head")
	assert.Equal(t, 1, batch[0].Attempts)
}

func TestMoveToDeadLetter(t *testing.T) {
	s := openTestStore(t)
	id := enqueue(t, s, "doomed", false)

	batch, err := s.GetBatch(1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.Nack(batch[0])
		require.NoError(t, err)
	}
	require.NoError(t, s.MoveToDeadLetter(batch[0], "gave up"))

	pending, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	letters, err := s.DeadLetters()
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, id, letters[0].ID)
	assert.Equal(t, 3, letters[0].RetryCount)
	assert.Equal(t, "gave up", letters[0].FinalError)
	assert.False(t, letters[0].FailedAt.IsZero())
}

func TestRetryDeadLetter(t *testing.T) {
	s := openTestStore(t)
	id := enqueue(t, s, "doomed", false)
	batch, err := s.GetBatch(1)
	require.NoError(t, err)
	require.NoError(t, s.MoveToDeadLetter(batch[0], "boom"))

	n, err := s.RetryDeadLetter(id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	letters, _ := s.DeadLetters()
	assert.Empty(t, letters)

	batch, err = s.GetBatch(1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, id, batch[0].ID)
	assert.Equal(t, 0, batch[0].Attempts, "retried job starts fresh")
}

func TestEnqueueNeverRejects(t *testing.T) {
	s, err := OpenStore(t.TempDir(), 5)
	require.NoError(t, err)
	defer s.Close()

	// Well past the soft cap; every enqueue still succeeds.
	for i := 0; i < 12; i++ {
		_, err := s.Enqueue("p", nil, true)
		require.NoError(t, err)
	}
	pending, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 12, pending)
}
