package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/example/fortify/internal/browser"
	"github.com/example/fortify/internal/config"
	"github.com/example/fortify/internal/generate"
	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
	"github.com/example/fortify/internal/pipeline"
	"github.com/example/fortify/internal/scrape"
	"github.com/example/fortify/internal/store"
	"github.com/example/fortify/internal/store/pgstore"
	"github.com/example/fortify/internal/throttle"
)

type snapshotStore interface {
	pipeline.Store
	Migrate(ctx context.Context) error
	Close() error
}

type app struct {
	cfg      *config.Config
	log      *logging.Logger
	pipeline *pipeline.Pipeline
	throttle *throttle.Throttle
	args     []string
}

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup happens before the process
// exits.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to config file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `fortify - profile snapshot and awareness-simulation pipeline

Usage:
  fortify [--config config.yaml] <command> [options]

Commands:
  acquire --target ID --url URL       Capture a profile and store it as the next snapshot
  acquire --file targets.yaml         Capture every {target_id, url} in the file
  latest --target ID                  Print the newest snapshot
  history --target ID [--limit N]     Print snapshots, newest first (default 10)
  status --target ID                  Print the profile record
  generate --campaign TYPE --targets targets.yaml
                                      Write one simulation email per target
  risk --target ID [--position P]     Print a risk assessment

Campaign types: password_reset, invoice, executive_impersonation,
urgent_request, training_invitation, security_alert

Examples:
  fortify acquire --target emp-42 --url https://www.linkedin.com/in/jane-doe
  fortify generate --campaign invoice --targets finance.yaml
`)
	}

	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 1
	}
	log := logging.New(cfg.Logging.Level)
	log.Info("config loaded", "db_driver", cfg.Database.Driver, "log_level", cfg.Logging.Level)

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("db open failed", "err", err)
		return 1
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Error("db migration failed", "err", err)
		return 1
	}

	// The browser launches on first use; commands that never scrape never
	// start it.
	br := browser.New(cfg, log)
	defer br.Close()

	th := throttle.FromConfig(cfg.Throttle)
	session := scrape.NewSession(br, scrape.DefaultRegistry(), scrape.OptionsFromConfig(cfg), log)
	gen := generate.New(generate.BackendFromConfig(cfg.Generator), generate.OptionsFromConfig(cfg.Generator), log)
	if !gen.HasBackend() {
		log.Warn("NEBIUS_API_KEY not set, content generation runs in fallback mode")
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		pipeline: pipeline.New(st, th, session, gen, log),
		throttle: th,
		args:     flag.Args()[1:],
	}

	cmd := flag.Arg(0)
	log.Info("executing command", "command", cmd)
	switch cmd {
	case "acquire":
		err = a.runAcquire(ctx)
	case "latest":
		err = a.runLatest(ctx)
	case "history":
		err = a.runHistory(ctx)
	case "status":
		err = a.runStatus(ctx)
	case "generate":
		err = a.runGenerate(ctx)
	case "risk":
		err = a.runRisk(ctx)
	default:
		err = fmt.Errorf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Error("command failed", "cmd", cmd, "err", err)
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "tip: run with FORTIFY_LOG_LEVEL=debug for field-level details\n")
		return 1
	}
	log.Info("command completed", "cmd", cmd)
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (snapshotStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return pgstore.Open(ctx, cfg.Database.DSN, cfg.Database.MaxConns, log)
	default:
		return store.Open(cfg.Database.Path, log)
	}
}

type acquireEntry struct {
	TargetID string          `yaml:"target_id"`
	URL      string          `yaml:"url"`
	Platform models.Platform `yaml:"platform"`
}

func (a *app) runAcquire(ctx context.Context) error {
	fs := flag.NewFlagSet("acquire", flag.ContinueOnError)
	var target, url, platform, file string
	fs.StringVar(&target, "target", "", "Target ID")
	fs.StringVar(&url, "url", "", "Public profile URL")
	fs.StringVar(&platform, "platform", string(models.PlatformLinkedIn), "Platform")
	fs.StringVar(&file, "file", "", "YAML list of {target_id, url, platform}")
	if err := fs.Parse(a.args); err != nil {
		return err
	}

	if file == "" {
		snap, err := a.pipeline.Acquire(ctx, pipeline.AcquireRequest{
			TargetID:   target,
			Platform:   models.Platform(platform),
			ProfileURL: url,
		})
		if err != nil {
			return err
		}
		return printJSON(snap)
	}

	var entries []acquireEntry
	if err := readYAML(file, &entries); err != nil {
		return err
	}
	type result struct {
		TargetID string           `json:"targetId"`
		Snapshot *models.Snapshot `json:"snapshot,omitempty"`
		Error    string           `json:"error,omitempty"`
	}
	results := make([]result, len(entries))

	// Every entry goes through the throttle; the fan-out only queues them.
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			if e.Platform == "" {
				e.Platform = models.Platform(platform)
			}
			results[i].TargetID = e.TargetID
			snap, err := a.pipeline.Acquire(ctx, pipeline.AcquireRequest{TargetID: e.TargetID, Platform: e.Platform, ProfileURL: e.URL})
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Snapshot = &snap
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	a.log.Info("batch acquisition done", "total", len(entries), "failed", failed, "started", a.throttle.Stats().Started)
	if err := printJSON(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d acquisitions failed", failed, len(entries))
	}
	return nil
}

func (a *app) targetFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	target := fs.String("target", "", "Target ID")
	platform := fs.String("platform", string(models.PlatformLinkedIn), "Platform")
	return fs, target, platform
}

func (a *app) runLatest(ctx context.Context) error {
	fs, target, platform := a.targetFlags("latest")
	if err := fs.Parse(a.args); err != nil {
		return err
	}
	snap, ok, err := a.pipeline.Latest(ctx, *target, models.Platform(*platform))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no snapshot for target %q", *target)
	}
	return printJSON(snap)
}

func (a *app) runHistory(ctx context.Context) error {
	fs, target, platform := a.targetFlags("history")
	limit := fs.Int("limit", pipeline.DefaultHistoryLimit, "Max snapshots to print")
	if err := fs.Parse(a.args); err != nil {
		return err
	}
	snaps, err := a.pipeline.History(ctx, *target, models.Platform(*platform), *limit)
	if err != nil {
		return err
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	return printJSON(snaps)
}

func (a *app) runStatus(ctx context.Context) error {
	fs, target, platform := a.targetFlags("status")
	if err := fs.Parse(a.args); err != nil {
		return err
	}
	prof, err := a.pipeline.Profile(ctx, *target, models.Platform(*platform))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("unknown target %q", *target)
	}
	if err != nil {
		return err
	}
	return printJSON(prof)
}

func (a *app) runGenerate(ctx context.Context) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	var campaign, file string
	fs.StringVar(&campaign, "campaign", string(models.CampaignUrgentRequest), "Campaign type")
	fs.StringVar(&file, "targets", "", "YAML list of {id, name, position, company}")
	if err := fs.Parse(a.args); err != nil {
		return err
	}
	if file == "" {
		return errors.New("--targets is required")
	}
	var targets []models.Target
	if err := readYAML(file, &targets); err != nil {
		return err
	}
	out, err := a.pipeline.GenerateBatch(ctx, models.CampaignType(campaign), targets)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func (a *app) runRisk(ctx context.Context) error {
	fs := flag.NewFlagSet("risk", flag.ContinueOnError)
	var t models.Target
	fs.StringVar(&t.ID, "target", "", "Target ID")
	fs.StringVar(&t.Position, "position", "", "Position override")
	if err := fs.Parse(a.args); err != nil {
		return err
	}
	return printJSON(a.pipeline.AssessRisk(ctx, t))
}

func readYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
