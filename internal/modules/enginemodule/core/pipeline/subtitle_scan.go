package pipeline

import (
	"context"
	"time"

	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// foreignAudioRatio is the largest share of the busiest track's events a
// track may have and still be taken for foreign audio subtitles.
const foreignAudioRatio = 0.10

// runSubtitleScan counts subtitle events per candidate track and picks the
// sparse track that most likely carries only foreign dialogue.
func (r *Runner) runSubtitleScan(ctx context.Context, job *types.Job, ctl Control) (*Result, error) {
	title := job.Title
	log := r.logger.With("job_id", job.ID, "sequence", job.Sequence.String())
	res := &Result{}
	started := time.Now()

	candidates := title.ForeignAudioCandidates
	if len(candidates) == 0 {
		for _, s := range title.Subtitles {
			candidates = append(candidates, s.Index)
		}
	}
	if len(candidates) == 0 {
		log.Info("no subtitle tracks to search")
		return res, nil
	}

	reader, err := r.registry.ReaderByID(title.Reader)
	if err != nil {
		return nil, eErrors.PipelineError("init", err)
	}
	if err := reader.Open(ctx, title.Path); err != nil {
		return nil, eErrors.PipelineError("read", err)
	}
	defer reader.Close()

	counter, ok := reader.(types.SubtitleCounter)
	if !ok {
		log.Info("reader cannot count subtitle events", "reader", title.Reader)
		return res, nil
	}

	counts := make(map[int]int, len(candidates))
	for i, track := range candidates {
		done := float64(i) / float64(len(candidates))
		if err := ctl.Checkpoint(func(w *types.WorkProgress) { w.Progress = done }); err != nil {
			return nil, err
		}
		n, err := counter.CountSubtitleEvents(ctx, title, track)
		if err != nil {
			return nil, eErrors.PipelineError("read", err).WithDetail("track", track)
		}
		counts[track] = n
		log.Debug("subtitle events counted", "track", track, "events", n)
	}
	if err := ctl.Checkpoint(func(w *types.WorkProgress) { w.Progress = 1 }); err != nil {
		return nil, err
	}

	if idx := SelectForeignAudio(candidates, counts); idx > 0 {
		for _, s := range title.Subtitles {
			if s.Index == idx {
				sub := s
				res.SelectedSubtitle = &sub
				break
			}
		}
		log.Info("foreign audio subtitle selected", "track", idx, "events", counts[idx])
	}
	res.Elapsed = time.Since(started)
	return res, nil
}

// SelectForeignAudio returns the candidate with the fewest nonzero events if
// that count is at most 10% of the busiest candidate, or 0.
func SelectForeignAudio(candidates []int, counts map[int]int) int {
	busiest := 0
	for _, c := range candidates {
		if counts[c] > busiest {
			busiest = counts[c]
		}
	}
	best, bestCount := 0, 0
	for _, c := range candidates {
		n := counts[c]
		if n == 0 || float64(n) > float64(busiest)*foreignAudioRatio {
			continue
		}
		if best == 0 || n < bestCount {
			best, bestCount = c, n
		}
	}
	return best
}
