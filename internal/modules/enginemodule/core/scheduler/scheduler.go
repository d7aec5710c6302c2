// Package scheduler owns a session's worker goroutine, its job queue and
// the phase state machine shared by scanning and job execution.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/history"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/interjob"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/pipeline"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/preview"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/queue"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/scanner"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/state"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// HistoryRecorder persists finished pass jobs.
type HistoryRecorder interface {
	Record(ctx context.Context, rec *history.JobRecord) error
}

// Config wires the scheduler to its collaborators.
type Config struct {
	Runner   *pipeline.Runner
	Scanner  *scanner.Scanner
	Reporter *state.Reporter
	Interjob *interjob.Store
	// Previews receives the preview store chosen for each scan.
	Previews *preview.Generator
	// PreviewDir is used for scans that store previews on disk.
	PreviewDir string
	History    HistoryRecorder
	Logger     hclog.Logger
}

// Scheduler runs scans and jobs one at a time on a single worker goroutine.
// Control calls only record requests and wake the worker.
type Scheduler struct {
	mu    sync.Mutex
	cond  *sync.Cond
	phase types.Phase

	stateTransitions map[types.Phase][]types.Phase

	scanReq    *scanner.Params
	scanCtx    context.Context
	scanCancel context.CancelFunc
	startReq   bool
	stopReq    bool
	closing    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queue    *queue.Queue
	logical  atomic.Uint32
	jobsDone int
	titles   atomic.Pointer[types.TitleSet]

	cfg    Config
	logger hclog.Logger
}

// New creates a scheduler and starts its worker.
func New(cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		phase:  types.PhaseIdle,
		ctx:    ctx,
		cancel: cancel,
		queue:  queue.New(),
		cfg:    cfg,
		logger: cfg.Logger.Named("scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	s.initializeStateTransitions()
	s.titles.Store(&types.TitleSet{})

	s.wg.Add(1)
	go s.loop()
	return s
}

// initializeStateTransitions sets up the valid phase transition matrix
func (s *Scheduler) initializeStateTransitions() {
	s.stateTransitions = map[types.Phase][]types.Phase{
		types.PhaseIdle:     {types.PhaseScanning, types.PhaseWorking},
		types.PhaseScanning: {types.PhaseIdle, types.PhaseStopping},
		types.PhaseWorking:  {types.PhasePaused, types.PhaseStopping, types.PhaseIdle},
		types.PhasePaused:   {types.PhaseWorking, types.PhaseStopping, types.PhaseIdle},
		types.PhaseStopping: {types.PhaseIdle},
	}
}

// transition moves to next if the matrix allows it. Callers hold s.mu.
func (s *Scheduler) transition(next types.Phase) error {
	if s.phase == next {
		return nil
	}
	for _, p := range s.stateTransitions[s.phase] {
		if p == next {
			s.logger.Trace("phase change", "from", s.phase.String(), "to", next.String())
			s.phase = next
			s.cfg.Reporter.SetPhase(next)
			return nil
		}
	}
	return eErrors.SessionError("transition", eErrors.ErrInvalidState).
		WithDetail("from", s.phase.String()).
		WithDetail("to", next.String())
}

// Phase returns the current phase.
func (s *Scheduler) Phase() types.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// TitleSet returns the latest published title set. It is never nil and never
// modified after publication.
func (s *Scheduler) TitleSet() *types.TitleSet {
	return s.titles.Load()
}

// Scan requests an asynchronous scan. It fails unless the scheduler is idle.
func (s *Scheduler) Scan(p scanner.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return eErrors.SessionError("scan", eErrors.ErrHandleClosed)
	}
	if s.phase != types.PhaseIdle {
		return eErrors.SessionError("scan", eErrors.ErrInvalidState).WithDetail("phase", s.phase.String())
	}

	s.scanCtx, s.scanCancel = context.WithCancel(s.ctx)
	s.scanReq = &p
	s.cfg.Reporter.BeginScan()
	s.phase = types.PhaseScanning
	s.cfg.Interjob.Reset()
	s.titles.Store(&types.TitleSet{Path: p.Path})
	s.cond.Broadcast()

	s.logger.Debug("scan requested", "path", p.Path, "title", p.TitleIndex, "previews", p.Previews)
	return nil
}

// ScanStop cancels a pending or running scan. It is safe in any phase.
func (s *Scheduler) ScanStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopScanLocked()
}

func (s *Scheduler) stopScanLocked() {
	if s.scanCancel != nil {
		s.scanCancel()
	}
	if s.phase == types.PhaseScanning {
		s.transition(types.PhaseStopping)
	}
}

// Add queues job, expanding it into its pass jobs, and returns the job id
// shared by those passes. The caller keeps ownership of job.
func (s *Scheduler) Add(job *types.Job) (string, error) {
	if job == nil || job.Title == nil {
		return "", eErrors.QueueError("add", eErrors.ErrInvalidInput).WithDetail("reason", "job has no title")
	}
	if job.Closed() {
		return "", eErrors.QueueError("add", eErrors.ErrInvalidInput).WithDetail("reason", "job is closed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return "", eErrors.SessionError("add", eErrors.ErrHandleClosed)
	}

	base := job.Clone()
	base.ID = uuid.NewString()
	logical := s.logical.Add(1)

	var passes []types.Pass
	if base.ForeignAudioSearch && len(base.Title.Subtitles) > 0 {
		passes = append(passes, types.PassSubtitleScan)
	}
	if base.TwoPass {
		passes = append(passes, types.PassFirst, types.PassSecond)
	} else {
		passes = append(passes, types.PassSingle)
	}

	jobs := make([]*types.Job, 0, len(passes))
	for _, p := range passes {
		j := base.Clone()
		j.Sequence = types.NewSequenceID(logical, p)
		jobs = append(jobs, j)
	}
	s.queue.Push(jobs...)

	s.logger.Info("job added",
		"job_id", base.ID,
		"title", base.TitleIndex,
		"passes", len(jobs),
		"logical", logical)
	return base.ID, nil
}

// Rem removes every not yet started pass of the job with the given id.
func (s *Scheduler) Rem(id string) error {
	_, err := s.queue.Remove(id)
	return err
}

// Count returns the number of queued pass jobs.
func (s *Scheduler) Count() int { return s.queue.Len() }

// Job returns a copy of the queued pass job at position i.
func (s *Scheduler) Job(i int) (*types.Job, error) {
	return s.queue.At(i)
}

// Jobs returns copies of all queued pass jobs as one consistent view.
func (s *Scheduler) Jobs() []*types.Job { return s.queue.Snapshot() }

// Start begins working through the queue.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return eErrors.SessionError("start", eErrors.ErrHandleClosed)
	}
	switch s.phase {
	case types.PhaseWorking, types.PhasePaused:
		return nil
	case types.PhaseIdle:
	default:
		return eErrors.SessionError("start", eErrors.ErrInvalidState).WithDetail("phase", s.phase.String())
	}
	s.jobsDone = 0
	s.stopReq = false
	s.startReq = true
	s.cfg.Reporter.BeginWork(s.queue.Len())
	s.phase = types.PhaseWorking
	s.cond.Broadcast()
	return nil
}

// Pause holds the running job at its next buffer boundary.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case types.PhasePaused:
		return nil
	case types.PhaseWorking:
		s.logger.Info("work paused")
		return s.transition(types.PhasePaused)
	}
	return eErrors.SessionError("pause", eErrors.ErrInvalidState).WithDetail("phase", s.phase.String())
}

// Resume continues a paused job.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case types.PhaseWorking:
		return nil
	case types.PhasePaused:
		if err := s.transition(types.PhaseWorking); err != nil {
			return err
		}
		s.logger.Info("work resumed")
		s.cond.Broadcast()
		return nil
	}
	return eErrors.SessionError("resume", eErrors.ErrInvalidState).WithDetail("phase", s.phase.String())
}

// Stop aborts the running job and drops the rest of the queue. A running
// scan is stopped as by ScanStop. Stop is safe in any phase.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	switch s.phase {
	case types.PhaseScanning:
		s.stopScanLocked()
		return
	case types.PhaseWorking, types.PhasePaused:
		s.stopReq = true
		s.transition(types.PhaseStopping)
	}
	for _, j := range s.queue.Clear() {
		j.Close()
	}
	s.cond.Broadcast()
}

// Close stops all activity, waits for the worker to exit and releases the
// queue. A second Close returns ErrHandleClosed.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return eErrors.SessionError("close", eErrors.ErrHandleClosed)
	}
	s.closing = true
	s.stopReq = true
	if s.scanCancel != nil {
		s.scanCancel()
	}
	for _, j := range s.queue.Clear() {
		j.Close()
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.phase = types.PhaseIdle
	s.mu.Unlock()
	s.cfg.Reporter.SetPhase(types.PhaseIdle)
	s.cfg.Interjob.Reset()
	s.logger.Debug("scheduler closed")
	return nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for !s.closing && s.scanReq == nil && !s.startReq {
			s.cond.Wait()
		}
		if s.closing {
			return
		}
		if p := s.scanReq; p != nil {
			s.scanReq = nil
			ctx := s.scanCtx
			s.mu.Unlock()
			s.runScan(ctx, *p)
			s.mu.Lock()
			continue
		}
		s.startReq = false
		s.mu.Unlock()
		s.runJobs()
		s.mu.Lock()
	}
}

// scanSink publishes scan output into the scheduler.
type scanSink struct{ s *Scheduler }

func (k scanSink) Publish(set *types.TitleSet) { k.s.titles.Store(set) }

func (k scanSink) Progress(p types.ScanProgress) { k.s.cfg.Reporter.UpdateScan(p) }

func (s *Scheduler) runScan(ctx context.Context, p scanner.Params) {
	store := s.previewStore(p)
	if s.cfg.Previews != nil {
		s.cfg.Previews.SetStore(store)
	}

	started := time.Now()
	err := s.cfg.Scanner.Scan(ctx, p, store, scanSink{s})

	code, msg := types.WorkErrorNone, ""
	switch {
	case err == nil:
	case eErrors.Is(err, eErrors.ErrCancelled):
		code, msg = types.WorkErrorCancelled, err.Error()
		s.logger.Info("scan stopped", "path", p.Path, "titles", len(s.TitleSet().Titles))
	default:
		code, msg = classify(err), err.Error()
		s.logger.Error("scan failed", "path", p.Path, "error", err)
	}
	s.logger.Debug("scan done", "path", p.Path, "elapsed", time.Since(started))

	s.mu.Lock()
	if s.scanCancel != nil {
		s.scanCancel()
	}
	s.scanCtx, s.scanCancel = nil, nil
	if !s.closing {
		s.phase = types.PhaseIdle
		s.cfg.Reporter.EndScan(code, msg)
	}
	s.mu.Unlock()
}

// previewStore picks the cache for a scan's previews. Disk stores are
// cleared so stale frames from an earlier scan are never served.
func (s *Scheduler) previewStore(p scanner.Params) preview.Store {
	if p.StorePreviews && s.cfg.PreviewDir != "" {
		ds, err := preview.NewDiskStore(s.cfg.PreviewDir, s.logger)
		if err == nil {
			if err := ds.Clear(); err != nil {
				s.logger.Warn("failed to clear preview cache", "dir", s.cfg.PreviewDir, "error", err)
			}
			return ds
		}
		s.logger.Warn("preview cache unavailable, using memory", "dir", s.cfg.PreviewDir, "error", err)
	}
	return preview.NewMemoryStore()
}

func (s *Scheduler) runJobs() {
	for {
		s.mu.Lock()
		if s.stopReq || s.closing {
			s.mu.Unlock()
			break
		}
		job, ok := s.queue.Pop()
		s.mu.Unlock()
		if !ok {
			break
		}
		s.runJob(job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReq = false
	if s.closing {
		return
	}
	s.phase = types.PhaseIdle
	s.cfg.Reporter.EndWork()
	s.logger.Info("work done", "jobs", s.jobsDone)
}

func (s *Scheduler) runJob(job *types.Job) {
	defer job.Close()

	cur, count := passPosition(job)
	s.updateWork(func(w *types.WorkProgress) {
		*w = types.WorkProgress{
			JobID:      job.ID,
			Sequence:   job.Sequence,
			Pass:       job.Pass(),
			PassCount:  count,
			PassCur:    cur,
			JobsDone:   w.JobsDone,
			JobsQueued: s.queue.Len(),
		}
	})

	started := time.Now()
	res, err := s.cfg.Runner.Run(s.ctx, job, s.cfg.Interjob.Get(), control{s})
	finished := time.Now()

	rec := &history.JobRecord{
		JobID:      job.ID,
		Sequence:   uint32(job.Sequence),
		Logical:    job.Sequence.Logical(),
		Pass:       job.Pass().String(),
		TitleIndex: job.TitleIndex,
		Source:     job.Title.Path,
		StartedAt:  started,
		FinishedAt: finished,
	}

	if err != nil {
		code := classify(err)
		rec.Status = history.StatusFailed
		if code == types.WorkErrorCancelled {
			rec.Status = history.StatusCancelled
			s.logger.Info("job cancelled", "job_id", job.ID, "sequence", job.Sequence.String())
		} else {
			s.logger.Error("job failed", "job_id", job.ID, "sequence", job.Sequence.String(), "error", err)
			// later passes depend on this one
			if n, rerr := s.queue.Remove(job.ID); rerr == nil {
				s.logger.Warn("dropped dependent passes", "job_id", job.ID, "count", n)
			}
		}
		rec.Error = err.Error()
		s.cfg.Reporter.SetError(code, err.Error())
		s.record(rec)
		return
	}

	if job.Pass() == types.PassSubtitleScan {
		s.cfg.Interjob.SetSubtitle(job.Sequence, res.SelectedSubtitle)
	} else {
		s.cfg.Interjob.Record(job.Sequence, res.Frames, res.OutFrames, res.TotalTicks, res.VRate)
	}

	rec.Status = history.StatusCompleted
	rec.Output = res.Output
	rec.Frames = res.Frames
	rec.OutFrames = res.OutFrames
	rec.TotalTicks = res.TotalTicks
	rec.VRateNum, rec.VRateDen = res.VRate.Num, res.VRate.Den
	if secs := res.Elapsed.Seconds(); secs > 0 {
		rec.AvgFPS = float64(res.Frames) / secs
	}
	s.record(rec)

	s.mu.Lock()
	s.jobsDone++
	done := s.jobsDone
	s.mu.Unlock()
	s.updateWork(func(w *types.WorkProgress) {
		w.JobsDone = done
		w.Progress = 1
	})
	s.cfg.Reporter.SetError(types.WorkErrorNone, "")
}

// updateWork applies fn to the work progress once the scheduler is not
// paused, so a paused snapshot never changes.
func (s *Scheduler) updateWork(fn func(*types.WorkProgress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.phase == types.PhasePaused && !s.stopReq && !s.closing {
		s.cond.Wait()
	}
	s.cfg.Reporter.UpdateWork(fn)
}

func (s *Scheduler) record(rec *history.JobRecord) {
	if s.cfg.History == nil {
		return
	}
	if err := s.cfg.History.Record(context.Background(), rec); err != nil {
		s.logger.Warn("failed to record job history", "job_id", rec.JobID, "error", err)
	}
}

// control is the pipeline's view of the scheduler.
type control struct{ s *Scheduler }

func (c control) Checkpoint(update func(*types.WorkProgress)) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.phase == types.PhasePaused && !s.stopReq && !s.closing {
		s.cond.Wait()
	}
	if s.stopReq || s.closing {
		return eErrors.PipelineError("checkpoint", eErrors.ErrCancelled)
	}
	if update != nil {
		s.cfg.Reporter.UpdateWork(update)
	}
	return nil
}

func (c control) SetMuxing(muxing bool) { c.s.cfg.Reporter.SetMuxing(muxing) }

// passPosition returns the 1-based position of job within its logical
// encode and the number of passes the encode has.
func passPosition(job *types.Job) (int, int) {
	extra := 0
	if job.ForeignAudioSearch && job.Title != nil && len(job.Title.Subtitles) > 0 {
		extra = 1
	}
	count := 1 + extra
	if job.TwoPass {
		count++
	}
	switch job.Pass() {
	case types.PassSubtitleScan:
		return 1, count
	case types.PassSecond:
		return 2 + extra, count
	default:
		return 1 + extra, count
	}
}

// classify maps a job or scan failure to the reported error code.
func classify(err error) types.WorkError {
	switch {
	case err == nil:
		return types.WorkErrorNone
	case eErrors.Is(err, eErrors.ErrCancelled):
		return types.WorkErrorCancelled
	case eErrors.Is(err, eErrors.ErrInvalidInput), eErrors.Is(err, eErrors.ErrNoReader),
		eErrors.Is(err, eErrors.ErrTitleNotFound):
		return types.WorkErrorWrongInput
	}
	switch eErrors.GetOperation(err) {
	case "init":
		return types.WorkErrorInit
	case "read":
		return types.WorkErrorRead
	}
	return types.WorkErrorUnknown
}
