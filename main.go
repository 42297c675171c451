package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	echoprom "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mboers/homestore/api"
	"github.com/mboers/homestore/config"
	"github.com/mboers/homestore/events"
	"github.com/mboers/homestore/export"
	"github.com/mboers/homestore/pipeline"
	"github.com/mboers/homestore/stores"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	exportDevice := flag.String("export", "", "write the series of this device as CSV to stdout and exit")
	importDevice := flag.String("import", "", "append CSV from stdin to the series of this device and exit")
	lenient := flag.Bool("lenient", false, "skip and count corrupt records instead of aborting")
	flag.Parse()

	// a bootstrap logger until the configured one is up
	bootstrap, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(bootstrap)

	cfg := loadConfig(*configPath)

	level, err := cfg.Logger.ZapLevel()
	if err != nil {
		zap.S().Fatalw("bad log level in config", "level", cfg.Logger.Level)
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := logger.Sugar()

	if *exportDevice != "" || *importDevice != "" {
		runExchange(cfg, *exportDevice, *importDevice, *lenient)
		return
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0o755); err != nil {
		log.Fatalw("could not create data directory", "error", err)
	}

	bus := pipeline.NewBus()
	defer bus.Close()

	seriesStore := stores.NewSeriesStore(stores.SeriesStoreConfig{
		DataDir:    cfg.Database.DataDir,
		Downsample: cfg.Downsample,
		Cache:      cfg.Cache,
	})
	defer seriesStore.Close()

	jobStore, err := stores.NewJobStore(cfg.Database.JobsPath, bus)
	if err != nil {
		log.Fatalw("could not open job store", "error", err)
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			log.Errorw("could not close job store", "error", err)
		}
	}()

	go logFiredEvents(bus.Subscribe(), log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	p := echoprom.NewPrometheus("homestore", nil)
	p.Use(e)
	api.RegisterApiHandlers(e.Group("/api"), version, seriesStore, jobStore)

	go func() {
		log.Infow("starting http listener", "address", cfg.Listener, "version", version)
		if err := e.Start(cfg.Listener); err != nil && err != http.ErrServerClosed {
			log.Fatalw("http listener failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorw("could not shut down http listener", "error", err)
	}
	if err := seriesStore.Flush(); err != nil {
		log.Errorw("could not flush series", "error", err)
	}
}

// logFiredEvents is the default bus consumer. Room controllers subscribe the
// same way and act on the events instead of logging them.
func logFiredEvents(ch chan events.Event, log *zap.SugaredLogger) {
	for event := range ch {
		log.Infow("event fired",
			"id", event.ID, "kind", event.Kind.String(), "room", event.Room, "at", event.At)
	}
}

func loadConfig(path string) *config.Config {
	if err := config.ValidateConfigPath(path); err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig()
		}
		zap.S().Fatalw("could not read config", "path", path, "error", err)
	}

	cfg, err := config.NewConfig(path)
	if err != nil {
		zap.S().Fatalw("could not parse config", "path", path, "error", err)
	}
	return cfg
}

func runExchange(cfg *config.Config, exportPath, importPath string, lenient bool) {
	log := zap.S()

	if exportPath != "" {
		dev, ok := events.DeviceByPath(exportPath)
		if !ok {
			log.Fatalw("unknown device", "device", exportPath)
		}
		skipped, err := export.Export(dev, cfg.Database.DataDir, os.Stdout, lenient)
		if err != nil {
			log.Fatalw("export failed", "device", exportPath, "error", err)
		}
		if skipped > 0 {
			log.Warnw("export skipped corrupt records", "count", skipped)
		}
		return
	}

	dev, ok := events.DeviceByPath(importPath)
	if !ok {
		log.Fatalw("unknown device", "device", importPath)
	}
	imported, skipped, err := export.Import(dev, cfg.Database.DataDir, os.Stdin, lenient)
	if err != nil {
		log.Fatalw("import failed", "device", importPath, "error", err)
	}
	log.Infow("import done", "imported", imported, "skipped", skipped)
}
