package ingestion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// JobLog is the append-only completion log at
// <data_dir>/ingestion/jobs.jsonl (§6). Entries are appended only on job
// completion or failure; in-flight jobs are not durable.
type JobLog struct {
	mu   sync.Mutex
	path string
}

// NewJobLog opens (creating if necessary) the jobs log under dataDir.
func NewJobLog(dataDir string) (*JobLog, error) {
	dir := filepath.Join(dataDir, "ingestion")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JobLog{path: filepath.Join(dir, "jobs.jsonl")}, nil
}

// Append writes one job snapshot as a JSON line.
func (l *JobLog) Append(snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	body = append(body, '\n')
	_, err = f.Write(body)
	return err
}

// Registry keeps an in-memory index of jobs for status lookups while
// they are pending or running.
type Registry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

// NewRegistry builds an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]*Job)}
}

// Put registers a job.
func (r *Registry) Put(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

// Get looks up a job by id.
func (r *Registry) Get(id uuid.UUID) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Remove drops a job from the registry, called once it is durably
// recorded in the completion log.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}
