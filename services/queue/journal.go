package queue

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// maxRecordBytes bounds a single journal line during replay.
const maxRecordBytes = 1 << 20

// rewriteThresholdBytes is the journal size that triggers a background
// rewrite, analogous to an append-only-file compaction.
const rewriteThresholdBytes = 32 << 20

type journalRecord struct {
	Op  string `json:"op"` // enqueue | done
	ID  string `json:"id"`
	Job *Job   `json:"job,omitempty"`
}

// journal is an append-only file of accepted jobs. Every accepted job is
// written before processing and marked done afterwards; opening an existing
// journal replays its records to rebuild the set of jobs that were accepted
// but never completed, which the queue re-enqueues at Start. Its write
// status feeds the broker durability health signal.
type journal struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	lastOK  bool
	rewrite bool
	pending map[string]*Job
}

func openJournal(path string) (*journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	pending, err := replayJournal(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue journal: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat queue journal: %w", err)
	}

	return &journal{
		path:    path,
		file:    f,
		size:    info.Size(),
		lastOK:  true,
		pending: pending,
	}, nil
}

// replayJournal rebuilds the pending-job set from an existing journal file.
// A record that fails to decode is skipped: a crash mid-append leaves a torn
// final line, and losing that one record is the accepted cost of recovering
// the rest.
func replayJournal(path string) (map[string]*Job, error) {
	pending := make(map[string]*Job)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return pending, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), maxRecordBytes)
	for scanner.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case "enqueue":
			if rec.Job != nil && rec.Job.Payload != nil {
				pending[rec.ID] = rec.Job
			}
		case "done":
			delete(pending, rec.ID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to replay queue journal: %w", err)
	}
	return pending, nil
}

// recoveredJobs returns the jobs replayed from a previous run.
func (j *journal) recoveredJobs() []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Job, 0, len(j.pending))
	for _, job := range j.pending {
		out = append(out, job)
	}
	return out
}

func (j *journal) appendEnqueue(job *Job) error {
	err := j.append(journalRecord{Op: "enqueue", ID: job.ID, Job: job})
	if err == nil {
		j.mu.Lock()
		j.pending[job.ID] = job
		j.mu.Unlock()
	}
	return err
}

func (j *journal) appendDone(id string) error {
	err := j.append(journalRecord{Op: "done", ID: id})
	if err == nil {
		j.mu.Lock()
		delete(j.pending, id)
		j.mu.Unlock()
	}
	j.maybeRewrite()
	return err
}

func (j *journal) append(rec journalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode journal record: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.file.Write(data)
	j.size += int64(n)
	if err != nil {
		j.lastOK = false
		return fmt.Errorf("failed to write queue journal: %w", err)
	}
	j.lastOK = true
	return nil
}

// maybeRewrite compacts the journal down to its pending jobs once it grows
// past the threshold. Runs in the background; at most one rewrite at a time.
func (j *journal) maybeRewrite() {
	j.mu.Lock()
	if j.rewrite || j.size < rewriteThresholdBytes {
		j.mu.Unlock()
		return
	}
	j.rewrite = true
	j.mu.Unlock()

	go j.doRewrite()
}

func (j *journal) doRewrite() {
	j.mu.Lock()
	defer func() {
		j.rewrite = false
		j.mu.Unlock()
	}()

	tmpPath := j.path + ".rewrite"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		j.lastOK = false
		return
	}

	var size int64
	ok := true
	for _, job := range j.pending {
		data, err := json.Marshal(journalRecord{Op: "enqueue", ID: job.ID, Job: job})
		if err != nil {
			continue
		}
		data = append(data, '\n')
		n, err := tmp.Write(data)
		size += int64(n)
		if err != nil {
			ok = false
			break
		}
	}

	if err := tmp.Close(); err != nil {
		ok = false
	}
	if !ok {
		_ = os.Remove(tmpPath)
		j.lastOK = false
		return
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		j.lastOK = false
		return
	}

	_ = j.file.Close()
	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		j.lastOK = false
		return
	}
	j.file = f
	j.size = size
	j.lastOK = true
}

func (j *journal) status() PersistenceStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return PersistenceStatus{
		DurableWritesEnabled: true,
		LastWriteOK:          j.lastOK,
		RewriteInProgress:    j.rewrite,
		LogSizeBytes:         j.size,
	}
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
