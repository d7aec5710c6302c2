package enginemodule

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mantonx/encore/internal/modules/enginemodule/core/enginetest"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/filters"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/pipeline"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/update"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/works"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, opts Options) (*Session, *enginetest.ReaderObject) {
	t.Helper()
	obj := enginetest.NewReaderObject()
	if opts.Registry == nil {
		opts.Registry = enginetest.Registry(obj)
	}
	if opts.LogOutput == nil {
		opts.LogOutput = &bytes.Buffer{}
	}
	if opts.PreviewDir == "" {
		opts.PreviewDir = t.TempDir()
	}
	s, err := Init(0, false, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, obj
}

func waitScan(t *testing.T, s *Session) types.State {
	t.Helper()
	var st types.State
	require.Eventually(t, func() bool {
		st = s.GetState()
		return st.ScanDone
	}, 10*time.Second, 5*time.Millisecond)
	return st
}

func waitWork(t *testing.T, s *Session) types.State {
	t.Helper()
	var st types.State
	require.Eventually(t, func() bool {
		st = s.GetState()
		return st.WorkDone
	}, 20*time.Second, 5*time.Millisecond)
	return st
}

func TestInitAndCloseShareGlobalState(t *testing.T) {
	base := OpenSessions()

	a, err := Init(0, false, Options{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	b, err := Init(1, false, Options{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)

	assert.Equal(t, base+2, OpenSessions())
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
	assert.GreaterOrEqual(t, HostInfo().LogicalCPUs, 1)

	// built-ins are registered process wide
	_, err = a.Registry().Get(types.KindMuxer, "y4m")
	assert.NoError(t, err)
	_, err = a.Registry().Get(types.KindFilter, filters.IDCombDetect)
	assert.NoError(t, err)

	require.NoError(t, a.Close())
	assert.Equal(t, base+1, OpenSessions())
	assert.ErrorIs(t, a.Close(), eErrors.ErrHandleClosed)
	assert.True(t, a.Closed())
	assert.Equal(t, base+1, OpenSessions())

	require.NoError(t, b.Close())
	assert.Equal(t, base, OpenSessions())

	assert.ErrorIs(t, a.Start(), eErrors.ErrHandleClosed)
	assert.ErrorIs(t, a.Scan("fake://none", 0, 0, false, 0), eErrors.ErrHandleClosed)
}

func TestHardwareDecodeFlag(t *testing.T) {
	s, _ := newSession(t, Options{HardwareDecode: true})
	assert.True(t, s.HardwareDecodeEnabled())
	s.SetHardwareDecode(false)
	assert.False(t, s.HardwareDecodeEnabled())
}

func TestRegisterLogger(t *testing.T) {
	var fallback bytes.Buffer
	s, _ := newSession(t, Options{LogOutput: &fallback})

	var mu sync.Mutex
	var lines []string
	s.RegisterLogger(func(m string) {
		mu.Lock()
		lines = append(lines, m)
		mu.Unlock()
	})
	s.Logger().Info("hello from test")

	mu.Lock()
	require.NotEmpty(t, lines)
	assert.Contains(t, strings.Join(lines, "\n"), "hello from test")
	mu.Unlock()

	s.SetLogLevel(0)
	s.Logger().Debug("hidden")
	s.SetLogLevel(1)
	s.Logger().Debug("shown")
	mu.Lock()
	joined := strings.Join(lines, "\n")
	mu.Unlock()
	assert.NotContains(t, joined, "hidden")
	assert.Contains(t, joined, "shown")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Logger().Info("concurrent", "j", j)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.RegisterLogger(func(string) {})
			}
		}()
	}
	wg.Wait()
}

func TestRegisterWorkObject(t *testing.T) {
	s, err := Init(0, false, Options{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	defer s.Close()

	obj := enginetest.NewReaderObject()
	require.NoError(t, RegisterWorkObject(obj))
	got, err := s.Registry().Get(types.KindReader, enginetest.ReaderID)
	require.NoError(t, err)
	assert.Same(t, obj, got)
}

// hostMuxer stands in for a host supplied replacement of a built-in.
type hostMuxer struct{ types.StageObject }

func (m hostMuxer) Info() types.Info {
	info := m.StageObject.Info()
	info.Name = "host y4m"
	return info
}

func TestRegisterWorkObjectBeforeInitKeepsReplacement(t *testing.T) {
	require.Equal(t, 0, OpenSessions())

	var builtin types.StageObject
	for _, obj := range works.Builtins() {
		if info := obj.Info(); info.Kind == types.KindMuxer && info.ID == pipeline.DefaultMuxer {
			builtin = obj.(types.StageObject)
		}
	}
	require.NotNil(t, builtin)
	t.Cleanup(func() { require.NoError(t, RegisterWorkObject(builtin)) })

	custom := hostMuxer{builtin}
	require.NoError(t, RegisterWorkObject(custom))

	for i := 0; i < 2; i++ {
		s, err := Init(0, false, Options{LogOutput: &bytes.Buffer{}})
		require.NoError(t, err)
		got, err := s.Registry().Get(types.KindMuxer, pipeline.DefaultMuxer)
		require.NoError(t, err)
		assert.Equal(t, "host y4m", got.Info().Name)

		// the other built-ins are still there
		_, err = s.Registry().Get(types.KindEncoder, pipeline.DefaultEncoder)
		assert.NoError(t, err)
		require.NoError(t, s.Close())
	}
}

func TestScanFiltersShortTitles(t *testing.T) {
	s, obj := newSession(t, Options{})
	path := obj.Add("disc", &enginetest.Source{Titles: []enginetest.TitleSpec{
		{Duration: 10 * time.Second},
		{Duration: 45 * time.Second},
		{Duration: 3 * time.Second},
	}})

	require.NoError(t, s.Scan(path, 0, 0, false, 5*time.Second))
	st := waitScan(t, s)
	assert.Equal(t, types.WorkErrorNone, st.Error)
	assert.Equal(t, types.PhaseIdle, st.Phase)

	titles := s.Titles()
	require.Len(t, titles, 2)
	assert.Equal(t, 10*time.Second, titles[0].Duration)
	assert.Equal(t, 45*time.Second, titles[1].Duration)
	assert.Equal(t, 2, s.TitleSet().Feature)
	assert.Equal(t, "disc", s.TitleSet().Name)

	_, err := s.FindTitleByIndex(3)
	assert.ErrorIs(t, err, eErrors.ErrTitleNotFound)
	t2, err := s.FindTitleByIndex(2)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, t2.Duration)

	d, err := s.FirstDuration(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
	d, err = s.FirstDuration(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	assert.ErrorIs(t, s.Scan(path, -1, 0, false, 0), eErrors.ErrInvalidInput)
}

func TestScanUnknownSourceReportsWrongInput(t *testing.T) {
	s, _ := newSession(t, Options{})
	require.NoError(t, s.Scan("/definitely/not/here.xyz", 0, 0, false, 0))
	st := waitScan(t, s)
	assert.Equal(t, types.WorkErrorWrongInput, st.Error)
	assert.Empty(t, s.Titles())
}

func TestPreviews(t *testing.T) {
	s, obj := newSession(t, Options{})
	path := obj.Add("clip", &enginetest.Source{Titles: []enginetest.TitleSpec{
		{Duration: 4 * time.Second, Width: 64, Height: 32, Border: 4},
	}})
	require.NoError(t, s.Scan(path, 0, 3, true, 0))
	waitScan(t, s)

	title, err := s.FindTitleByIndex(1)
	require.NoError(t, err)
	assert.Equal(t, 3, title.Previews)
	assert.Equal(t, [4]int{4, 4, 0, 0}, title.AutoCrop)

	cached, err := s.ReadPreview(title, 1)
	require.NoError(t, err)
	assert.Equal(t, 64, cached.Width)

	geo := types.GeometrySettings{Mode: types.AnamorphicStrict, Crop: title.AutoCrop}
	img, err := s.GetPreview2(context.Background(), 1, 1, geo, true)
	require.NoError(t, err)
	want := SetAnamorphicSize2(title.Geometry, geo)
	assert.Equal(t, want, img.Geometry)
	assert.Equal(t, 64, img.Pix.Bounds().Dx())
	assert.Equal(t, 24, img.Pix.Bounds().Dy())

	data, err := EncodePreview(img, 80)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))

	_, err = s.GetPreview2(context.Background(), 1, 3, geo, false)
	assert.ErrorIs(t, err, eErrors.ErrPreviewOutOfRange)
	_, err = s.GetPreview2(context.Background(), 9, 0, geo, false)
	assert.ErrorIs(t, err, eErrors.ErrTitleNotFound)

	frame := types.NewFrame(8, 8)
	require.NoError(t, s.SavePreview(1, 2, frame))
	back, err := s.ReadPreview(title, 2)
	require.NoError(t, err)
	assert.Equal(t, frame.Data, back.Data)
	assert.ErrorIs(t, s.SavePreview(1, 0, nil), eErrors.ErrInvalidInput)
}

func TestSetAnamorphicSize2IsPure(t *testing.T) {
	src := types.Geometry{Width: 720, Height: 480, PAR: types.Rational{Num: 32, Den: 27}}
	settings := types.GeometrySettings{Mode: types.AnamorphicLoose, Modulus: 16, Geometry: types.Geometry{Width: 640}}
	first := SetAnamorphicSize2(src, settings)
	for i := 0; i < 10; i++ {
		SetAnamorphicSize2(types.Geometry{Width: 1920, Height: 1080}, types.GeometrySettings{Mode: types.AnamorphicAuto, MaxWidth: 1280})
		assert.Equal(t, first, SetAnamorphicSize2(src, settings))
	}
}

func TestJobInitDefaultsAndFilters(t *testing.T) {
	s, obj := newSession(t, Options{})
	path := obj.Add("combed", &enginetest.Source{Titles: []enginetest.TitleSpec{
		{Duration: 2 * time.Second, Combed: true},
	}})
	require.NoError(t, s.Scan(path, 0, 3, false, 0))
	waitScan(t, s)

	_, err := s.JobInitByIndex(4)
	assert.ErrorIs(t, err, eErrors.ErrTitleNotFound)

	job, err := s.JobInitByIndex(1)
	require.NoError(t, err)
	assert.Equal(t, "y4m", job.Muxer)
	assert.Equal(t, "rawvideo", job.Encoder)
	assert.Equal(t, types.AnamorphicStrict, job.Geometry.Mode)
	assert.Equal(t, 1, job.ChapterStart)
	assert.Equal(t, 1, job.ChapterEnd)
	require.Len(t, job.Filters, 2)
	assert.Equal(t, filters.IDDeinterlace, job.Filters[0].ID)
	assert.Equal(t, filters.IDCropScale, job.Filters[1].ID)

	require.NoError(t, s.AddFilter(job, filters.IDGrayscale, ""))
	require.NoError(t, s.AddFilter(job, filters.IDCombDetect, "threshold=12"))
	var ids []string
	for _, f := range job.Filters {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{filters.IDCombDetect, filters.IDDeinterlace, filters.IDGrayscale, filters.IDCropScale}, ids)

	assert.ErrorIs(t, s.AddFilter(job, "sharpen", ""), eErrors.ErrWorkObjectNotFound)
	assert.ErrorIs(t, s.AddFilter(job, filters.IDGrayscale, "=1"), eErrors.ErrInvalidInput)

	JobClose(job)
	JobClose(job)
	JobClose(nil)
	assert.ErrorIs(t, s.AddFilter(job, filters.IDGrayscale, ""), eErrors.ErrInvalidInput)
	_, err = s.Add(job)
	assert.ErrorIs(t, err, eErrors.ErrInvalidInput)
}

func TestEncodeEndToEnd(t *testing.T) {
	s, obj := newSession(t, Options{})
	path := obj.Add("movie", &enginetest.Source{Titles: []enginetest.TitleSpec{
		{Duration: 3 * time.Second, Width: 48, Height: 32, Border: 2},
	}})
	require.NoError(t, s.Scan(path, 0, 2, false, 0))
	waitScan(t, s)

	out := t.TempDir()
	job, err := s.JobInitByIndex(1)
	require.NoError(t, err)
	job.Destination = filepath.Join(out, "movie.y4m")
	job.TwoPass = true
	require.NoError(t, s.AddFilter(job, filters.IDGrayscale, ""))

	id, err := s.Add(job)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())
	queued, err := s.Job(1)
	require.NoError(t, err)
	assert.Equal(t, id, queued.ID)
	assert.Equal(t, types.PassSecond, queued.Pass())
	_, err = s.Job(2)
	assert.ErrorIs(t, err, eErrors.ErrJobNotFound)

	require.NoError(t, s.Start())
	st := waitWork(t, s)
	assert.Equal(t, types.WorkErrorNone, st.Error)
	assert.Equal(t, 2, st.Work.JobsDone)
	assert.False(t, s.GetState().WorkDone)
	assert.Equal(t, 0, s.Count())

	fi, err := os.Stat(job.Destination)
	require.NoError(t, err)
	// 75 frames of 48x28 after cropping two lines top and bottom
	assert.Greater(t, fi.Size(), int64(75*types.FrameSize(48, 28)))

	ij := s.Interjob()
	assert.Equal(t, types.PassSecond, ij.LastJob.Pass())
	assert.Equal(t, int64(75), ij.OutFrameCount)
	assert.Equal(t, types.Rational{Num: 25, Den: 1}, ij.VRate)
}

func TestGetStateDoesNotBlockWhilePaused(t *testing.T) {
	s, obj := newSession(t, Options{})
	path := obj.Add("long", &enginetest.Source{Titles: []enginetest.TitleSpec{{Duration: 20 * time.Second}}})
	require.NoError(t, s.Scan(path, 0, 0, false, 0))
	waitScan(t, s)

	job, err := s.JobInitByIndex(1)
	require.NoError(t, err)
	job.Destination = filepath.Join(t.TempDir(), "long.y4m")
	_, err = s.Add(job)
	require.NoError(t, err)

	paused := make(chan struct{})
	var once sync.Once
	obj.FrameHook = func(seq int64) {
		if seq == 10 {
			once.Do(func() {
				assert.NoError(t, s.Pause())
				close(paused)
			})
		}
	}
	require.NoError(t, s.Start())
	<-paused

	before := s.GetState2()
	for i := 0; i < 20; i++ {
		start := time.Now()
		st := s.GetState2()
		assert.Less(t, time.Since(start), 100*time.Millisecond)
		assert.Equal(t, types.PhasePaused, st.Phase)
		assert.True(t, st.Paused)
		assert.Equal(t, before.Work.Frames, st.Work.Frames)
		time.Sleep(2 * time.Millisecond)
	}

	s.Stop()
	st := waitWork(t, s)
	assert.Equal(t, types.WorkErrorCancelled, st.Error)
	assert.NoFileExists(t, job.Destination)
}

func TestCheckUpdate(t *testing.T) {
	checker := staticChecker{rel: update.Release{Version: "99.0.0", Build: update.Build + 10}}
	s, err := Init(0, true, Options{LogOutput: &bytes.Buffer{}, UpdateChecker: checker})
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		build, _ := s.CheckUpdate()
		return build > 0
	}, 5*time.Second, 5*time.Millisecond)
	build, version := s.CheckUpdate()
	assert.Equal(t, update.Build+10, build)
	assert.Equal(t, "99.0.0", version)

	plain, _ := newSession(t, Options{})
	build, version = plain.CheckUpdate()
	assert.Equal(t, -1, build)
	assert.Empty(t, version)
	assert.Equal(t, update.Version, plain.Version())
	assert.Equal(t, update.Build, plain.Build())
}

type staticChecker struct{ rel update.Release }

func (c staticChecker) Latest(context.Context) (update.Release, error) { return c.rel, nil }

func TestWatchSourceRescans(t *testing.T) {
	s, obj := newSession(t, Options{})
	path := obj.Add("watched", &enginetest.Source{Titles: []enginetest.TitleSpec{{Duration: time.Second}}})
	dir := t.TempDir()

	stop, err := s.WatchSource(dir, ScanParams{Path: path}, 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.y4m"), []byte("x"), 0644))

	waitScan(t, s)
	assert.Len(t, s.Titles(), 1)
	require.NoError(t, stop())

	_, err = s.WatchSource(filepath.Join(dir, "missing"), ScanParams{Path: path}, 0)
	assert.Error(t, err)
}

func TestDetectCombExport(t *testing.T) {
	combed := enginetest.Packet(enginetest.TitleSpec{Duration: time.Second, Combed: true}, 0)
	flat := enginetest.Packet(enginetest.TitleSpec{Duration: time.Second}, 0)
	p := filters.DefaultCombParams()
	assert.True(t, DetectComb(combed, p))
	assert.False(t, DetectComb(flat, p))
}
