package enginemodule

import (
	"sort"

	"github.com/mantonx/encore/internal/modules/enginemodule/core/filters"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/pipeline"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// JobInit builds a job for title with the default settings: the y4m muxer
// and raw encoder, strict anamorphic output with the detected crop, every
// chapter, the first audio track, deinterlacing for combed titles and a
// crop/scale step.
func (s *Session) JobInit(title *types.Title) (*types.Job, error) {
	if title == nil {
		return nil, eErrors.ValidationError("job_init", eErrors.ErrTitleNotFound)
	}
	job := &types.Job{
		TitleIndex: title.Index,
		Title:      title,
		Muxer:      pipeline.DefaultMuxer,
		Encoder:    pipeline.DefaultEncoder,
		Geometry: types.GeometrySettings{
			Mode:     types.AnamorphicStrict,
			Keep:     types.KeepDisplayAspect,
			Modulus:  2,
			Crop:     title.AutoCrop,
			Geometry: title.Geometry,
		},
		FrameRate:    title.FrameRate,
		ChapterStart: 1,
		ChapterEnd:   len(title.Chapters),
	}
	if len(title.Audio) > 0 {
		job.Audio = []int{title.Audio[0].Index}
	}
	if title.Interlaced {
		if err := s.AddFilter(job, filters.IDDeinterlace, "mode=blend"); err != nil {
			return nil, err
		}
	}
	if err := s.AddFilter(job, filters.IDCropScale, ""); err != nil {
		return nil, err
	}
	return job, nil
}

// JobInitByIndex builds a default job for the title with the given index in
// the current title set.
func (s *Session) JobInitByIndex(titleIndex int) (*types.Job, error) {
	title, err := s.FindTitleByIndex(titleIndex)
	if err != nil {
		return nil, err
	}
	return s.JobInit(title)
}

// JobClose releases job. nil or closed jobs are ignored.
func JobClose(job *types.Job) { job.Close() }

// AddFilter inserts the registered filter id into job's chain at its
// canonical position, after any filters of the same or earlier order.
// settings use the key=value:key=value form.
func (s *Session) AddFilter(job *types.Job, id, settings string) error {
	if job == nil || job.Closed() {
		return eErrors.ValidationError("add_filter", eErrors.ErrInvalidInput).WithDetail("reason", "no job")
	}
	order, err := s.registry.FilterOrder(id)
	if err != nil {
		return err
	}
	if _, err := filters.ParseSettings(settings); err != nil {
		return eErrors.ValidationError("add_filter", eErrors.ErrInvalidInput).
			WithDetail("filter", id).
			WithDetail("settings", settings)
	}

	orders := make([]int, len(job.Filters))
	for i, f := range job.Filters {
		// unknown filters keep their place at the end
		o, err := s.registry.FilterOrder(f.ID)
		if err != nil {
			o = int(^uint(0) >> 1)
		}
		orders[i] = o
	}
	at := sort.Search(len(orders), func(i int) bool { return orders[i] > order })

	job.Filters = append(job.Filters, types.FilterSpec{})
	copy(job.Filters[at+1:], job.Filters[at:])
	job.Filters[at] = types.FilterSpec{ID: id, Settings: settings}
	return nil
}

// Add queues job and returns the id shared by its passes. The session keeps
// its own copy; the caller still owns job.
func (s *Session) Add(job *types.Job) (string, error) { return s.scheduler.Add(job) }

// Rem removes the not yet started passes of the job with the given id.
func (s *Session) Rem(id string) error { return s.scheduler.Rem(id) }

// Count returns the number of queued pass jobs.
func (s *Session) Count() int { return s.scheduler.Count() }

// Job returns a copy of the queued pass job at position i.
func (s *Session) Job(i int) (*types.Job, error) { return s.scheduler.Job(i) }

// Jobs returns copies of every queued pass job, in queue order.
func (s *Session) Jobs() []*types.Job { return s.scheduler.Jobs() }

// Start begins working through the queue.
func (s *Session) Start() error { return s.scheduler.Start() }

// Pause holds the running job at its next buffer boundary.
func (s *Session) Pause() error { return s.scheduler.Pause() }

// Resume continues a paused job.
func (s *Session) Resume() error { return s.scheduler.Resume() }

// Stop aborts the running job or scan and empties the queue.
func (s *Session) Stop() { s.scheduler.Stop() }

// GetState returns the current state and clears the scan done and work done
// events it reports.
func (s *Session) GetState() types.State { return s.reporter.Snapshot(true) }

// GetState2 returns the current state without clearing any event.
func (s *Session) GetState2() types.State { return s.reporter.Snapshot(false) }

// SubscribeState streams state changes until cancel is called.
func (s *Session) SubscribeState() (<-chan types.State, func()) { return s.reporter.Subscribe() }

// Interjob returns the session's interjob record.
func (s *Session) Interjob() types.InterjobData { return s.interjob.Get() }
