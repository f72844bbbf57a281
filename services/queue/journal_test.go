package queue

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluelight-hub/app-sub009/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalJob(id string) *Job {
	return &Job{
		ID:         id,
		Payload:    &models.SecurityLogPayload{Action: models.EventTypeLoginSuccess, IP: "10.0.0.1"},
		EnqueuedAt: time.Now().UTC(),
	}
}

func readJournalRecords(t *testing.T, path string) []journalRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []journalRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec journalRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestJournal(t *testing.T) {
	t.Run("creates missing directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		defer j.close()

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("records enqueue and done operations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)

		require.NoError(t, j.appendEnqueue(journalJob("a")))
		require.NoError(t, j.appendEnqueue(journalJob("b")))
		require.NoError(t, j.appendDone("a"))
		require.NoError(t, j.close())

		records := readJournalRecords(t, path)
		require.Len(t, records, 3)
		assert.Equal(t, "enqueue", records[0].Op)
		assert.Equal(t, "a", records[0].ID)
		require.NotNil(t, records[0].Job)
		assert.Equal(t, models.EventTypeLoginSuccess, records[0].Job.Payload.Action)
		assert.Equal(t, "done", records[2].Op)
		assert.Equal(t, "a", records[2].ID)
		assert.Nil(t, records[2].Job)
	})

	t.Run("tracks pending jobs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		defer j.close()

		require.NoError(t, j.appendEnqueue(journalJob("a")))
		require.NoError(t, j.appendEnqueue(journalJob("b")))
		require.NoError(t, j.appendDone("a"))

		assert.Len(t, j.pending, 1)
		assert.Contains(t, j.pending, "b")
	})

	t.Run("status reports size and durable writes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		defer j.close()

		require.NoError(t, j.appendEnqueue(journalJob("a")))

		status := j.status()
		assert.True(t, status.DurableWritesEnabled)
		assert.True(t, status.LastWriteOK)
		assert.False(t, status.RewriteInProgress)
		assert.Positive(t, status.LogSizeBytes)
	})

	t.Run("reopens with existing size", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		require.NoError(t, j.appendEnqueue(journalJob("a")))
		sizeBefore := j.status().LogSizeBytes
		require.NoError(t, j.close())

		reopened, err := openJournal(path)
		require.NoError(t, err)
		defer reopened.close()
		assert.Equal(t, sizeBefore, reopened.status().LogSizeBytes)
	})

	t.Run("replays pending jobs on reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		require.NoError(t, j.appendEnqueue(journalJob("a")))
		require.NoError(t, j.appendEnqueue(journalJob("b")))
		require.NoError(t, j.appendDone("a"))
		require.NoError(t, j.close())

		reopened, err := openJournal(path)
		require.NoError(t, err)
		defer reopened.close()

		recovered := reopened.recoveredJobs()
		require.Len(t, recovered, 1)
		assert.Equal(t, "b", recovered[0].ID)
		require.NotNil(t, recovered[0].Payload)
		assert.Equal(t, models.EventTypeLoginSuccess, recovered[0].Payload.Action)
	})

	t.Run("tolerates a torn final record", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		require.NoError(t, j.appendEnqueue(journalJob("a")))
		require.NoError(t, j.close())

		// Simulate a crash mid-append: a final line with no closing brace.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"op":"enqueue","id":"b","jo`)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		reopened, err := openJournal(path)
		require.NoError(t, err)
		defer reopened.close()

		assert.Len(t, reopened.pending, 1)
		assert.Contains(t, reopened.pending, "a")
	})

	t.Run("compaction after reopen keeps recovered jobs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		require.NoError(t, j.appendEnqueue(journalJob("a")))
		require.NoError(t, j.appendEnqueue(journalJob("b")))
		require.NoError(t, j.close())

		reopened, err := openJournal(path)
		require.NoError(t, err)
		defer reopened.close()

		reopened.mu.Lock()
		reopened.size = rewriteThresholdBytes
		reopened.mu.Unlock()
		require.NoError(t, reopened.appendDone("a"))

		assert.Eventually(t, func() bool {
			s := reopened.status()
			return !s.RewriteInProgress && s.LogSizeBytes < rewriteThresholdBytes
		}, 2*time.Second, 10*time.Millisecond)

		records := readJournalRecords(t, path)
		require.Len(t, records, 1)
		assert.Equal(t, "enqueue", records[0].Op)
		assert.Equal(t, "b", records[0].ID)
		require.NotNil(t, records[0].Job)
	})

	t.Run("rewrite compacts down to pending jobs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "queue.journal")
		j, err := openJournal(path)
		require.NoError(t, err)
		defer j.close()

		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, j.appendEnqueue(journalJob(id)))
		}
		require.NoError(t, j.appendDone("a"))

		// Push the accounted size past the threshold so the next completion
		// triggers compaction.
		j.mu.Lock()
		j.size = rewriteThresholdBytes
		j.mu.Unlock()
		require.NoError(t, j.appendDone("b"))

		assert.Eventually(t, func() bool {
			s := j.status()
			return !s.RewriteInProgress && s.LogSizeBytes < rewriteThresholdBytes
		}, 2*time.Second, 10*time.Millisecond)

		records := readJournalRecords(t, path)
		require.Len(t, records, 1)
		assert.Equal(t, "enqueue", records[0].Op)
		assert.Equal(t, "c", records[0].ID)

		status := j.status()
		assert.True(t, status.LastWriteOK)
	})
}
