package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dygy/midi-scribe/internal/audio"
	"github.com/dygy/midi-scribe/internal/cache"
	"github.com/dygy/midi-scribe/internal/pipeline"
	"github.com/dygy/midi-scribe/internal/progress"
)

// Job status constants
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	// StatusFallback means processing finished but with the demo artifact.
	StatusFallback JobStatus = "fallback"
	StatusFailed   JobStatus = "failed"
)

// Job represents one transcription request
type Job struct {
	ID         string
	Filename   string
	YouTubeURL string
	InputPath  string
	WorkDir    string
	CreatedAt  time.Time

	mu       sync.Mutex
	status   JobStatus
	snapshot progress.Snapshot
	result   *pipeline.Result
	errMsg   string
}

// JobView is an immutable copy of job state for handlers to serialize.
type JobView struct {
	ID             string    `json:"id"`
	Status         JobStatus `json:"status"`
	Stage          string    `json:"stage,omitempty"`
	Percent        int       `json:"percent"`
	Message        string    `json:"message,omitempty"`
	Error          string    `json:"error,omitempty"`
	Fallback       bool      `json:"fallback,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	NoteCount      int       `json:"note_count,omitempty"`
	Trained        bool      `json:"trained"`
}

// View snapshots the job state under its lock.
func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()

	v := JobView{
		ID:      j.ID,
		Status:  j.status,
		Stage:   j.snapshot.Stage,
		Percent: j.snapshot.Percent,
		Message: j.snapshot.Message,
		Error:   j.errMsg,
	}
	if j.result != nil {
		v.Fallback = j.result.Fallback
		v.FallbackReason = j.result.FallbackReason
		v.NoteCount = j.result.NoteCount
		v.Trained = j.result.Trained
	}
	return v
}

// MIDIPath returns the output artifact path once the job completed.
func (j *Job) MIDIPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return ""
	}
	return j.result.MIDIPath
}

// ReportPath returns the report artifact path once the job completed.
func (j *Job) ReportPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return ""
	}
	return j.result.ReportPath
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.status = StatusFailed
	j.errMsg = err.Error()
	j.mu.Unlock()
}

// JobManager manages transcription jobs. The orchestrator (and with it the
// loaded model) is shared; each job owns its work directory.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	orch   *pipeline.Orchestrator
	cache  *cache.ResultCache
	logger *slog.Logger

	// retention is how long finished jobs and their artifacts are kept.
	retention time.Duration
}

// NewJobManager creates a new job manager. cache may be nil to disable
// result caching.
func NewJobManager(orch *pipeline.Orchestrator, resultCache *cache.ResultCache, logger *slog.Logger) *JobManager {
	return &JobManager{
		jobs:      make(map[string]*Job),
		orch:      orch,
		cache:     resultCache,
		logger:    logger,
		retention: 10 * time.Minute,
	}
}

// Create registers a new job with its own work directory.
func (m *JobManager) Create(filename, youtubeURL string) (*Job, error) {
	workDir, err := os.MkdirTemp("", "midi-scribe-job-*")
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:         uuid.NewString(),
		Filename:   filename,
		YouTubeURL: youtubeURL,
		WorkDir:    workDir,
		CreatedAt:  time.Now(),
		status:     StatusPending,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job, nil
}

// VideoTitle looks up the title of a YouTube video, best effort.
func (m *JobManager) VideoTitle(ctx context.Context, url string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	dl := audio.NewYouTubeDownloader(m.orch.Runner())
	return dl.Title(ctx, url)
}

// Get retrieves a job by ID
func (m *JobManager) Get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Process runs the transcription for a job. Intended to run on its own
// goroutine; one goroutine per request keeps request acceptance unblocked.
func (m *JobManager) Process(job *Job) {
	defer func() {
		time.AfterFunc(m.retention, func() {
			os.RemoveAll(job.WorkDir)
			m.mu.Lock()
			delete(m.jobs, job.ID)
			m.mu.Unlock()
		})
	}()

	job.setStatus(StatusProcessing)
	ctx := context.Background()

	// YouTube source: fetch audio first.
	var cacheKey string
	if job.YouTubeURL != "" {
		cacheKey = cache.KeyForURL(job.YouTubeURL)
		if m.serveCached(job, cacheKey) {
			return
		}

		dl := audio.NewYouTubeDownloader(m.orch.Runner())
		path, err := dl.Download(ctx, job.YouTubeURL, job.WorkDir)
		if err != nil {
			m.logger.Error("youtube download failed", slog.String("job", job.ID), slog.Any("error", err))
			job.fail(err)
			return
		}
		job.InputPath = path
	} else {
		if key, err := cache.KeyForFile(job.InputPath); err == nil {
			cacheKey = key
			if m.serveCached(job, cacheKey) {
				return
			}
		}
	}

	outputPath := filepath.Join(job.WorkDir, "output.mid")
	result, err := m.orch.Transcribe(ctx, job.InputPath, outputPath, func(s progress.Snapshot) {
		job.mu.Lock()
		job.snapshot = s
		job.mu.Unlock()
	})
	if err != nil {
		job.fail(err)
		return
	}

	job.mu.Lock()
	job.result = result
	if result.Fallback {
		job.status = StatusFallback
	} else {
		job.status = StatusComplete
	}
	job.mu.Unlock()

	if m.cache != nil && cacheKey != "" {
		if _, err := m.cache.Put(cacheKey, result.MIDIPath, result.ReportPath, result.Fallback); err != nil {
			m.logger.Warn("cache save failed", slog.String("job", job.ID), slog.Any("error", err))
		}
	}
}

// serveCached finishes the job from the cache when a prior transcription of
// the same input exists.
func (m *JobManager) serveCached(job *Job, key string) bool {
	if m.cache == nil {
		return false
	}
	cached, ok := m.cache.Get(key)
	if !ok {
		return false
	}

	m.logger.Info("serving cached result", slog.String("job", job.ID), slog.String("key", key))
	job.mu.Lock()
	job.result = &pipeline.Result{
		State:      pipeline.StateCompleted,
		MIDIPath:   cached.MIDIPath,
		ReportPath: cached.ReportPath,
		Trained:    true,
	}
	job.snapshot = progress.Snapshot{Stage: "done", Percent: 100, Message: "Served from cache", At: time.Now()}
	job.status = StatusComplete
	job.mu.Unlock()
	return true
}
