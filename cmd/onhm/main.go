// Command onhm runs the National Hydrologic Model operational and
// ensemble forecast batches through the container runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onhm-labs/onhm-go/internal/collector"
	"github.com/onhm-labs/onhm-go/internal/config"
	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/handoff"
	"github.com/onhm-labs/onhm-go/internal/orchestrator"
	"github.com/onhm-labs/onhm-go/internal/platform/env"
	platformpg "github.com/onhm-labs/onhm-go/internal/platform/postgres"
	"github.com/onhm-labs/onhm-go/internal/repo"
	repopg "github.com/onhm-labs/onhm-go/internal/repo/postgres"
	"github.com/onhm-labs/onhm-go/internal/runtimeexec"
	"github.com/onhm-labs/onhm-go/internal/scheduler"
	"github.com/onhm-labs/onhm-go/internal/staging"
	"github.com/onhm-labs/onhm-go/internal/storage/objectstore"
)

var version = "dev"

const usageText = `usage: onhm <command> [flags]

commands:
  build-images      build the model image set
  load-data         stage the supporting datasets into the shared volume
  run-operational   run the daily operational simulation
  run-sub-seasonal  run the 48-member sub-seasonal forecast ensemble
  run-seasonal      run the seasonal forecast ensemble
  fetch-op-results  copy daily and forecast results out of the volume
  version           print the version

exit codes: 0 batch succeeded, 1 batch failed, 3 batch partially failed,
2 usage or configuration error.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "build-images":
		code = cmdBuildImages(ctx, os.Args[2:])
	case "load-data":
		code = cmdLoadData(ctx, os.Args[2:])
	case "run-operational":
		code = cmdRunOperational(ctx, os.Args[2:])
	case "run-sub-seasonal":
		code = cmdRunForecast(ctx, os.Args[2:], domain.ModeSubSeasonal)
	case "run-seasonal":
		code = cmdRunForecast(ctx, os.Args[2:], domain.ModeSeasonal)
	case "fetch-op-results":
		code = cmdFetchOpResults(ctx, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println("onhm " + version)
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usageText)
		code = 2
	}
	os.Exit(code)
}

// deps holds everything a command needs once configuration is resolved.
type deps struct {
	logger   *slog.Logger
	cfg      *config.Config
	runtime  runtimeexec.Runtime
	recorder repo.RunRecorder
	closers  []func()
}

func (d *deps) close() {
	for _, fn := range d.closers {
		fn()
	}
}

func setup(ctx context.Context, configPath, envFile string) (*deps, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if strings.TrimSpace(envFile) != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	runtime, err := runtimeexec.NewDockerRuntime(cfg.DockerBin, cfg.MounterImage)
	if err != nil {
		return nil, err
	}

	d := &deps{logger: logger, cfg: cfg, runtime: runtime, recorder: repo.NoopRecorder{}}

	dbCfg, err := platformpg.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if dbCfg.Enabled() {
		db, err := platformpg.Open(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("run ledger unavailable: %w", err)
		}
		d.closers = append(d.closers, func() { _ = db.Close() })
		recorder, err := repopg.NewRecorder(ctx, db)
		if err != nil {
			return nil, err
		}
		d.recorder = recorder
		logger.Info("run ledger enabled")
	}
	return d, nil
}

func cmdBuildImages(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("build-images", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", "", "environment file to load")
	noCache := fs.Bool("no-cache", false, "rebuild without the image cache")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	d, err := setup(ctx, *configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	defer d.close()

	for _, img := range d.cfg.Images {
		d.logger.Info("building image", "tag", img.Tag, "context", img.ContextPath)
		if err := d.runtime.BuildImage(ctx, img.ContextPath, img.Tag, *noCache); err != nil {
			d.logger.Error("image build failed", "tag", img.Tag, "error", err)
			return 1
		}
	}
	d.logger.Info("image set built", "count", len(d.cfg.Images))
	return 0
}

func cmdLoadData(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("load-data", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", "", "environment file to load")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	d, err := setup(ctx, *configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	defer d.close()

	vol := d.cfg.DataVolume()
	if err := d.runtime.EnsureVolume(ctx, vol.Name); err != nil {
		d.logger.Error("volume create failed", "volume", vol.Name, "error", err)
		return 1
	}

	stager, err := staging.NewStager(d.runtime, d.logger, 0, 0, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	ready, err := stager.Prepare(ctx, "load-data", d.cfg.LoadDataSources(envSnapshot()))
	if err != nil {
		d.logger.Error("data load failed", "error", err)
		return 1
	}
	d.logger.Info("data loaded", "volumes", strings.Join(ready, ","), "purpose", string(vol.Purpose))
	return 0
}

func cmdRunOperational(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run-operational", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", "", "environment file to load")
	testRun := fs.Bool("test", false, "short test run that does not advance the restart chain")
	numDays := fs.Int("num-days", 2, "test run length in days")
	endDate := fs.String("end-date", "", "simulation end date (default: yesterday, America/Denver)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	d, err := setup(ctx, *configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	defer d.close()

	restartDate, err := staging.LatestRestartDate(ctx, d.runtime, d.cfg.Volume, d.cfg.VolumeMount,
		d.cfg.BaseImage, d.cfg.ProjectRoot+"/daily/restart")
	if err != nil {
		d.logger.Error("restart date discovery failed", "error", err)
		return 1
	}

	var window config.OperationalWindow
	if *testRun {
		window, err = config.NewTestWindow(restartDate, *numDays)
	} else {
		end := strings.TrimSpace(*endDate)
		if end == "" {
			end = config.YesterdayMST(time.Now())
		}
		window, err = config.NewOperationalWindow(restartDate, end)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	d.logger.Info("operational window", "restart", window.RestartDate, "start", window.StartDate, "end", window.EndDate)

	controlFile := env.String("OP_PRMS_CONTROL_FILE", d.cfg.ProjectRoot+"/control/NHM-PRMS.control")
	prmsEnv, err := window.PRMSEnv(d.cfg.ProjectRoot, controlFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}

	batch, err := d.cfg.BuildBatch(domain.ModeOperational, func(int) (map[string]string, error) {
		return prmsEnv, nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}

	sources := d.cfg.OperationalSources(window, envSnapshot())
	manifest, code := runBatch(ctx, d, batch, sources)
	if manifest == nil || manifest.Status != domain.BatchSucceeded {
		return code
	}

	// Once the simulation succeeded, convert the daily output to NetCDF
	// and advance the daily restart chain to the save-restart date.
	post := d.cfg.OperationalConversionSources(envSnapshot())
	restart, err := d.cfg.RestartUpdateSources(window, controlFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	post = append(post, restart...)

	stager, err := staging.NewStager(d.runtime, d.logger, 0, 0, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	if _, err := stager.Prepare(ctx, batch.ID, post); err != nil {
		d.logger.Error("post-run conversion failed", "batch_id", batch.ID, "error", err)
		return 1
	}
	return code
}

func cmdRunForecast(ctx context.Context, args []string, mode domain.RunMode) int {
	fs := flag.NewFlagSet(string(mode), flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", "", "environment file to load")
	horizonDays := fs.Int("horizon-days", config.HorizonDays(mode), "forecast horizon in days")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	d, err := setup(ctx, *configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	defer d.close()

	// Forecasts initialize from the forecast restart state the daily run
	// saved at its window end.
	restartDate, err := staging.LatestRestartDate(ctx, d.runtime, d.cfg.Volume, d.cfg.VolumeMount,
		d.cfg.BaseImage, d.cfg.ProjectRoot+"/forecast/restart")
	if err != nil {
		d.logger.Error("restart date discovery failed", "error", err)
		return 1
	}

	window, err := config.NewForecastWindow(restartDate, *horizonDays)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	d.logger.Info("forecast window", "mode", string(mode), "restart", window.RestartDate, "start", window.StartDate, "end", window.EndDate)

	controlFile := env.String("FRCST_PRMS_CONTROL_FILE", d.cfg.ProjectRoot+"/control/NHM-PRMS.ensemble.control")
	projectRoot := d.cfg.ProjectRoot
	batch, err := d.cfg.BuildBatch(mode, func(member int) (map[string]string, error) {
		return window.PRMSEnv(projectRoot, controlFile, member)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}

	sources := d.cfg.ForecastSources(window, envSnapshot())
	_, code := runBatch(ctx, d, batch, sources)
	return code
}

func cmdFetchOpResults(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fetch-op-results", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", "", "environment file to load")
	outputDir := fs.String("output-dir", "./onhm-op", "destination for the daily run trees")
	forecastDir := fs.String("forecast-dir", "./onhm-forecast", "destination for the forecast trees")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	d, err := setup(ctx, *configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return 2
	}
	defer d.close()

	err = handoff.FetchOpResults(ctx, d.runtime, d.logger, handoff.OpResultsConfig{
		Volume:      d.cfg.Volume,
		VolumeMount: d.cfg.VolumeMount,
		ProjectRoot: d.cfg.ProjectRoot,
		OutputDir:   *outputDir,
		ForecastDir: *forecastDir,
	})
	if err != nil {
		d.logger.Error("result fetch failed", "error", err)
		return 1
	}
	d.logger.Info("results fetched", "output_dir", *outputDir, "forecast_dir", *forecastDir)
	return 0
}

// runBatch wires the batch pipeline, runs it, reports the member summary
// and uploads finalized results when object storage is configured.
func runBatch(ctx context.Context, d *deps, batch domain.Batch, sources []staging.Source) (*domain.ResultManifest, int) {
	mc, err := d.cfg.Mode(batch.Mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return nil, 2
	}

	stager, err := staging.NewStager(d.runtime, d.logger, 0, 0, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return nil, 2
	}
	sched, err := scheduler.New(d.runtime, d.recorder, d.logger, scheduler.Config{
		MaxConcurrency: mc.MaxConcurrency,
		AttemptTimeout: mc.AttemptTimeout.Std(),
		BatchTimeout:   mc.BatchTimeout.Std(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return nil, 2
	}
	fetcher, err := handoff.NewVolumeFetcher(d.runtime, d.cfg.Volume, d.cfg.VolumeMount)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return nil, 2
	}
	coll, err := collector.New(d.logger, fetcher, nil, d.cfg.ResultRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return nil, 2
	}
	orch, err := orchestrator.New(stager, sched, coll, d.recorder, d.logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "onhm:", err)
		return nil, 2
	}

	manifest, err := orch.Run(ctx, batch, sources)
	if err != nil {
		d.logger.Error("batch failed", "batch_id", batch.ID, "error", err)
		if manifest == nil {
			return nil, 1
		}
	}
	printSummary(manifest)
	if manifest.Finalized() {
		fmt.Println("manifest:", filepath.Join(d.cfg.ResultRoot, manifest.BatchID, "manifest.json"))
	}
	uploadResults(ctx, d, manifest)
	return manifest, exitCode(manifest.Status)
}

func uploadResults(ctx context.Context, d *deps, manifest *domain.ResultManifest) {
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		d.logger.Error("invalid object store config", "error", err)
		return
	}
	if !storeCfg.Enabled() {
		return
	}
	store, err := objectstore.NewStore(storeCfg)
	if err != nil {
		d.logger.Error("object store client init failed", "error", err)
		return
	}
	batchDir := filepath.Join(d.cfg.ResultRoot, manifest.BatchID)
	if err := handoff.Upload(ctx, store, d.logger, manifest, batchDir); err != nil {
		d.logger.Error("result upload failed", "batch_id", manifest.BatchID, "error", err)
	}
}

func printSummary(manifest *domain.ResultManifest) {
	succeeded, failed := manifest.Counts()
	fmt.Printf("batch %s (%s): %s, %d succeeded, %d failed\n",
		manifest.BatchID, manifest.Mode, manifest.Status, succeeded, failed)

	members := make([]domain.MemberResult, 0, len(manifest.Members))
	for _, m := range manifest.Members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].MemberIndex < members[j].MemberIndex })
	for _, m := range members {
		line := fmt.Sprintf("  member %02d: %s after %d attempt(s)", m.MemberIndex, m.FinalStatus, m.Attempts)
		if m.Notes != "" {
			line += " (" + firstLine(m.Notes) + ")"
		}
		fmt.Println(line)
	}
}

func exitCode(status domain.BatchStatus) int {
	switch status {
	case domain.BatchSucceeded:
		return 0
	case domain.BatchPartiallyFailed:
		return 3
	default:
		return 1
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func envSnapshot() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			out[kv[:idx]] = kv[idx+1:]
		}
	}
	return out
}
