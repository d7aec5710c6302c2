package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/encore/internal/api"
	"github.com/mantonx/encore/internal/config"
	"github.com/mantonx/encore/internal/logger"
	"github.com/mantonx/encore/internal/modules/enginemodule"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/history"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/update"
	"github.com/mantonx/encore/internal/modules/enginemodule/core/watcher"
	"github.com/mantonx/encore/internal/modules/enginemodule/types"
)

// filterFlags collects repeated -filter id[:settings] values.
type filterFlags []string

func (f *filterFlags) String() string     { return strings.Join(*f, ",") }
func (f *filterFlags) Set(v string) error { *f = append(*f, v); return nil }

type options struct {
	configPath  string
	writeConfig string
	serve       bool
	input       string
	output      string
	title       int
	scanOnly    bool
	twoPass     bool
	anamorphic  string
	width       int
	height      int
	verbosity   int
	hardware    bool
	minDuration time.Duration
	previews    int
	filters     filterFlags
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", os.Getenv("ENCORE_CONFIG_PATH"), "path to encore.yaml")
	flag.StringVar(&o.writeConfig, "write-config", "", "write the default configuration to this path and exit")
	flag.BoolVar(&o.serve, "serve", false, "run the HTTP control API")
	flag.StringVar(&o.input, "i", "", "source to scan")
	flag.StringVar(&o.output, "o", "", "destination file")
	flag.IntVar(&o.title, "t", 0, "title to encode (default: main feature)")
	flag.BoolVar(&o.scanOnly, "scan", false, "list titles and exit")
	flag.BoolVar(&o.twoPass, "2", false, "two-pass encode")
	flag.StringVar(&o.anamorphic, "anamorphic", "", "none, strict, loose, custom or auto")
	flag.IntVar(&o.width, "w", 0, "output width")
	flag.IntVar(&o.height, "l", 0, "output height")
	flag.IntVar(&o.verbosity, "v", -1, "verbosity (overrides the config)")
	flag.BoolVar(&o.hardware, "hw", false, "enable hardware decoding")
	flag.DurationVar(&o.minDuration, "min-duration", -1, "skip shorter titles (overrides the config)")
	flag.IntVar(&o.previews, "previews", -1, "previews per title (overrides the config)")
	flag.Var(&o.filters, "filter", "add a filter as id or id:key=value:... (repeatable)")
	flag.Parse()

	if o.writeConfig != "" {
		if err := config.Default().Save(o.writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "encore: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", o.writeConfig)
		return
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encore: %v\n", err)
		os.Exit(1)
	}
	if o.verbosity >= 0 {
		cfg.Engine.Verbosity = o.verbosity
	}
	if o.hardware {
		cfg.Engine.HardwareDecode = true
	}
	if o.minDuration >= 0 {
		cfg.Engine.MinDuration = o.minDuration
	}
	if o.previews >= 0 {
		cfg.Engine.PreviewCount = o.previews
	}

	log := logger.New(logger.Options{
		Name:  "encore",
		Level: logger.ParseLevel(cfg.Logging.Level),
		JSON:  cfg.Logging.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.serve {
		err = serve(ctx, cfg, log)
	} else {
		err = encode(ctx, cfg, o, log)
	}
	if err != nil {
		log.Error("encore failed", "error", err)
		os.Exit(1)
	}
}

func openHistory(cfg *config.Config, log hclog.Logger) (*history.Store, error) {
	switch cfg.Database.Type {
	case "":
		return nil, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, err
		}
		return history.Open("sqlite", cfg.Database.Path, log)
	default:
		return history.Open(cfg.Database.Type, cfg.Database.DSN, log)
	}
}

func newSession(cfg *config.Config, store *history.Store) (*enginemodule.Session, error) {
	opts := enginemodule.Options{
		LogJSON:        cfg.Logging.JSON,
		PreviewDir:     cfg.Cache.PreviewDir,
		HardwareDecode: cfg.Engine.HardwareDecode,
	}
	if store != nil {
		opts.History = store
	}
	if cfg.Engine.UpdateURL != "" {
		opts.UpdateChecker = update.NewHTTPChecker(cfg.Engine.UpdateURL, 0)
	}
	return enginemodule.Init(cfg.Engine.Verbosity, cfg.Engine.UpdateCheck, opts)
}

func serve(ctx context.Context, cfg *config.Config, log hclog.Logger) error {
	store, err := openHistory(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open job history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	session, err := newSession(cfg, store)
	if err != nil {
		return err
	}
	defer session.Close()

	if dir := cfg.Server.WatchDir; dir != "" {
		_, err := session.WatchSource(dir, enginemodule.ScanParams{
			Path:          dir,
			Previews:      cfg.Engine.PreviewCount,
			StorePreviews: cfg.Engine.StorePreviews,
			MinDuration:   cfg.Engine.MinDuration,
		}, watcher.DefaultDebounce)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		log.Info("watching source directory", "dir", dir)
	}

	opts := api.Options{StateInterval: cfg.Server.StateInterval, Logger: log}
	if store != nil {
		opts.History = store
	}
	return api.NewServer(session, opts).Run(ctx, cfg.Addr())
}

func encode(ctx context.Context, cfg *config.Config, o options, log hclog.Logger) error {
	if o.input == "" {
		flag.Usage()
		return errors.New("missing -i")
	}
	if o.output == "" && !o.scanOnly {
		return errors.New("missing -o")
	}

	store, err := openHistory(cfg, log)
	if err != nil {
		log.Warn("job history disabled", "error", err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	session, err := newSession(cfg, store)
	if err != nil {
		return err
	}
	defer session.Close()

	go func() {
		<-ctx.Done()
		session.Stop()
	}()

	if err := session.Scan(o.input, o.title, cfg.Engine.PreviewCount, cfg.Engine.StorePreviews, cfg.Engine.MinDuration); err != nil {
		return err
	}
	st := poll(session, func(st types.State) bool { return st.ScanDone }, printScan)
	if st.Error != types.WorkErrorNone {
		return fmt.Errorf("scan failed: %s %s", st.Error, st.Message)
	}

	set := session.TitleSet()
	if len(set.Titles) == 0 {
		return errors.New("no title found")
	}
	if o.scanOnly {
		printTitles(set)
		return nil
	}

	index := o.title
	if index == 0 {
		index = set.Feature
	}
	job, err := session.JobInitByIndex(index)
	if err != nil {
		return err
	}
	defer enginemodule.JobClose(job)

	job.Destination = o.output
	job.TwoPass = o.twoPass
	if o.anamorphic != "" {
		mode, ok := types.ParseAnamorphicMode(o.anamorphic)
		if !ok {
			return fmt.Errorf("unknown anamorphic mode %q", o.anamorphic)
		}
		job.Geometry.Mode = mode
	}
	if o.width > 0 {
		job.Geometry.Geometry.Width = o.width
	}
	if o.height > 0 {
		job.Geometry.Geometry.Height = o.height
	}
	for _, f := range o.filters {
		id, settings, _ := strings.Cut(f, ":")
		if err := session.AddFilter(job, id, settings); err != nil {
			return err
		}
	}

	if _, err := session.Add(job); err != nil {
		return err
	}
	if err := session.Start(); err != nil {
		return err
	}
	st = poll(session, func(st types.State) bool { return st.WorkDone }, printWork)
	fmt.Fprintln(os.Stderr)

	if build, version := session.CheckUpdate(); build > 0 {
		log.Info("a newer release is available", "version", version, "build", build)
	}
	if st.Error != types.WorkErrorNone {
		return fmt.Errorf("encode failed: %s %s", st.Error, st.Message)
	}
	log.Info("encode done", "output", o.output)
	return nil
}

// poll reads the state at 5 Hz until done reports true.
func poll(session *enginemodule.Session, done func(types.State) bool, show func(types.State)) types.State {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		st := session.GetState()
		if done(st) {
			return st
		}
		show(st)
	}
	return types.State{}
}

func printScan(st types.State) {
	if st.Phase != types.PhaseScanning {
		return
	}
	fmt.Fprintf(os.Stderr, "\rScanning title %d of %d, preview %d, %.2f %%",
		st.Scan.TitleCur, st.Scan.TitleCount, st.Scan.PreviewCur, st.Scan.Progress*100)
}

func printWork(st types.State) {
	switch st.Phase {
	case types.PhasePaused:
		fmt.Fprint(os.Stderr, "\rPaused...")
	case types.PhaseWorking:
		w := st.Work
		if st.Muxing {
			fmt.Fprint(os.Stderr, "\rMuxing: this may take awhile...")
			return
		}
		fmt.Fprintf(os.Stderr, "\rEncoding: task %d of %d, %.2f %%", w.PassCur, w.PassCount, w.Progress*100)
		if w.Rate > 0 {
			fmt.Fprintf(os.Stderr, " (%.2f fps, avg %.2f fps, ETA %s)",
				w.Rate, w.RateAvg, time.Duration(w.ETASeconds)*time.Second)
		}
	}
}

func printTitles(set *types.TitleSet) {
	fmt.Printf("%s: %d titles\n", set.Name, len(set.Titles))
	for _, t := range set.Titles {
		mark := " "
		if t.Index == set.Feature {
			mark = "*"
		}
		fmt.Printf("%s title %d: %s, %dx%d, %s fps, %d chapters",
			mark, t.Index, t.Duration, t.Geometry.Width, t.Geometry.Height, t.FrameRate, len(t.Chapters))
		if t.Interlaced {
			fmt.Print(", interlaced")
		}
		if t.AutoCrop != [4]int{} {
			fmt.Printf(", autocrop %d/%d/%d/%d", t.AutoCrop[0], t.AutoCrop[1], t.AutoCrop[2], t.AutoCrop[3])
		}
		fmt.Println()
	}
}
