// Package enginemodule is the transcoding engine's host-facing surface: a
// Session owns one worker, its title set, job queue, preview cache and
// interjob record, and exposes the scan, preview, queue and state calls.
package enginemodule

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/logger"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/interjob"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/pipeline"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/preview"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/registry"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/scanner"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/scheduler"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/state"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/update"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/watcher"
	eErrors "github.com/mantonx/encore/internal/modules/enginemodule/errors"
)

// Options tunes a Session beyond the verbosity and update flags.
type Options struct {
	// LogOutput receives log lines while no callback is registered.
	// Defaults to stderr.
	LogOutput io.Writer
	LogJSON   bool
	// Registry overrides the process-wide registry.
	Registry *registry.Registry
	// PreviewDir holds previews of scans that store them. Defaults to a
	// per-session directory under the system temp dir.
	PreviewDir string
	// History records finished pass jobs when set.
	History scheduler.HistoryRecorder
	// UpdateChecker serves update polls. Without one CheckUpdate reports -1.
	UpdateChecker  update.Checker
	HardwareDecode bool
}

// Session is one engine instance.
type Session struct {
	id     int64
	logger hclog.Logger
	sink   *logger.Sink

	registry  *registry.Registry
	reporter  *state.Reporter
	interjob  *interjob.Store
	scanner   *scanner.Scanner
	previews  *preview.Generator
	scheduler *scheduler.Scheduler
	updates   *update.Poller

	hardware   atomic.Bool
	previewDir string
	ownsDir    bool

	closeMu  sync.Mutex
	closed   bool
	watchers []*watcher.Watcher
}

// Init creates a Session. verbosity 0 logs info, 1 debug, 2 and above
// trace. With updateCheck set an update poll starts in the background.
func Init(verbosity int, updateCheck bool, opts ...Options) (*Session, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	id := instanceSeq.Add(1)
	sink := logger.NewSink(o.LogOutput)
	root := logger.New(logger.Options{
		Name:   "encore",
		Level:  logger.LevelForVerbosity(verbosity),
		JSON:   o.LogJSON,
		Output: sink,
	}).With("instance", id)

	if err := globalInit(root); err != nil {
		return nil, eErrors.SessionError("init", err)
	}

	reg := o.Registry
	if reg == nil {
		reg = registry.Default()
	}

	previewDir, ownsDir := o.PreviewDir, false
	if previewDir == "" {
		previewDir = filepath.Join(os.TempDir(), fmt.Sprintf("encore-previews-%d-%d", os.Getpid(), id))
		ownsDir = true
	}

	s := &Session{
		id:         id,
		logger:     root,
		sink:       sink,
		registry:   reg,
		reporter:   state.NewReporter(),
		interjob:   interjob.New(),
		previewDir: previewDir,
		ownsDir:    ownsDir,
	}
	s.hardware.Store(o.HardwareDecode)

	s.scanner = scanner.New(reg, s.hardware.Load, root)
	s.previews = preview.NewGenerator(preview.NewMemoryStore(), s.scanner.DecodePreview, root)
	s.scheduler = scheduler.New(scheduler.Config{
		Runner:     pipeline.NewRunner(reg, s.hardware.Load, root),
		Scanner:    s.scanner,
		Reporter:   s.reporter,
		Interjob:   s.interjob,
		Previews:   s.previews,
		PreviewDir: previewDir,
		History:    o.History,
		Logger:     root,
	})

	s.updates = update.NewPoller(o.UpdateChecker, root)
	if updateCheck {
		s.updates.Start()
	}

	root.Info("session initialized",
		"verbosity", verbosity,
		"hardware_decode", o.HardwareDecode,
		"preview_dir", previewDir,
		"sessions", OpenSessions())
	return s, nil
}

// Close stops any scan or job, waits for the worker and releases the
// session. Closing twice returns ErrHandleClosed.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return eErrors.SessionError("close", eErrors.ErrHandleClosed)
	}
	s.closed = true

	for _, w := range s.watchers {
		w.Stop()
	}
	s.watchers = nil
	if err := s.scheduler.Close(); err != nil {
		s.logger.Warn("scheduler close failed", "error", err)
	}
	s.updates.Stop()
	if err := s.previews.Store().Clear(); err != nil {
		s.logger.Warn("failed to clear preview cache", "error", err)
	}
	if s.ownsDir {
		os.RemoveAll(s.previewDir)
	}

	s.logger.Info("session closed")
	globalClose(s.logger)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// InstanceID returns the session's process-unique id.
func (s *Session) InstanceID() int64 { return s.id }

// SetHardwareDecode enables or disables hardware decoders for later scans
// and jobs.
func (s *Session) SetHardwareDecode(enabled bool) {
	s.hardware.Store(enabled)
	s.logger.Debug("hardware decode changed", "enabled", enabled)
}

// HardwareDecodeEnabled reports the hardware decode flag.
func (s *Session) HardwareDecodeEnabled() bool { return s.hardware.Load() }

// RegisterLogger routes log output to cb. nil restores the default output.
// Lines logged while the callback is replaced go to either the old or the
// new target.
func (s *Session) RegisterLogger(cb func(message string)) {
	s.sink.SetCallback(cb)
}

// SetLogLevel changes verbosity at runtime.
func (s *Session) SetLogLevel(verbosity int) {
	s.logger.SetLevel(logger.LevelForVerbosity(verbosity))
}

// Logger returns the session's logger.
func (s *Session) Logger() hclog.Logger { return s.logger }

// Registry returns the registry the session resolves work objects from.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Version returns the engine version string.
func (s *Session) Version() string { return update.Version }

// Build returns the engine build number.
func (s *Session) Build() int { return update.Build }

// UpdatePoll starts an update check if none has run yet.
func (s *Session) UpdatePoll() { s.updates.Start() }

// CheckUpdate returns the build number and version of a newer release found
// by the update poll, or -1 and "" when there is none.
func (s *Session) CheckUpdate() (int, string) { return s.updates.Check() }
