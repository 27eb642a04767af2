package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/discfield/internal/api"
	"github.com/banshee-data/discfield/internal/config"
	"github.com/banshee-data/discfield/internal/db"
	"github.com/banshee-data/discfield/internal/depth"
	"github.com/banshee-data/discfield/internal/measure"
	"github.com/banshee-data/discfield/internal/render"
	"github.com/banshee-data/discfield/internal/serialmux"
	"github.com/banshee-data/discfield/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	configPath    = flag.String("config", "", "Tuning config file (defaults to "+config.DefaultConfigPath+" when present)")
	dbPath        = flag.String("db", "discfield.db", "SQLite database for calibrations and the actuator log")
	port          = flag.String("port", "/dev/ttyACM0", "Actuator serial port")
	disableSerial = flag.Bool("disable-serial", false, "Run without an actuator")
	devMode       = flag.Bool("dev", false, "Use a synthetic depth source and an in-memory actuator")
	replayPath    = flag.String("replay", "", "Replay depth frames from a recording")
	recordPath    = flag.String("record", "", "Record every captured depth frame to this file")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

var errNoSource = errors.New("no depth source: use -dev or -replay")

// devFloor is the synthetic field distance in metres.
const devFloor = 1.2

// loadTuning reads path, or the defaults file when path is empty and the
// file exists, or the built-in defaults otherwise.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.DefaultTuningConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadTuningConfig(path)
}

// devScript is a throw from the near edge of the frame to the far side,
// preceded by empty frames so there is time to capture a baseline.
func devScript(w, h int) []*depth.Disc {
	r := max(min(w, h)/40, 2)
	script := make([]*depth.Disc, 90)
	return append(script, depth.ThrowScript(w/3, h-3*r, 2*w/3, 3*r, 45, r, devFloor-0.3, 60)...)
}

// openSource picks the depth source for the flags and wraps it with the
// frame recorder and the per-frame timeout.
func openSource(cfg *config.TuningConfig, dev bool, replay, record string) (depth.Source, error) {
	var src depth.Source
	switch {
	case replay != "":
		rs, err := depth.OpenReplay(replay)
		if err != nil {
			return nil, err
		}
		log.Printf("replaying %d frames from %s", rs.Len(), replay)
		src = rs
	case dev:
		w, h := cfg.GetFrameWidth(), cfg.GetFrameHeight()
		syn := depth.NewSyntheticSource(w, h, devFloor)
		syn.Enqueue(devScript(w, h)...)
		syn.SetLoop(true)
		src = syn
	default:
		return nil, errNoSource
	}

	if record != "" {
		w, h := src.Size()
		rec, err := depth.CreateRecording(record, w, h)
		if err != nil {
			src.Close()
			return nil, err
		}
		src = depth.NewRecordingSource(src, rec)
	}
	return depth.WithTimeout(src, cfg.GetFrameTimeout()), nil
}

func newLink(cfg *config.TuningConfig, cmdLog serialmux.CommandLog) *serialmux.Link {
	switch {
	case *disableSerial:
		return serialmux.NewLink(nil, cmdLog)
	case *devMode:
		return serialmux.NewLink(serialmux.MockOpener(), cmdLog)
	default:
		opts := serialmux.PortOptionsFromTuning(cfg)
		return serialmux.NewLink(serialmux.FactoryOpener(serialmux.RealPortFactory{}, *port, opts), cmdLog)
	}
}

// restoreCalibration reapplies the newest stored calibration, if any.
func restoreCalibration(ctx context.Context, store *db.DB, ctrl *measure.Controller) {
	rec, snap, err := store.LatestCalibration(ctx)
	if errors.Is(err, db.ErrNoCalibration) {
		return
	}
	if err != nil {
		log.Printf("failed to load stored calibration: %v", err)
		return
	}
	if err := ctrl.RestoreCalibration(snap); err != nil {
		log.Printf("ignoring stored calibration %d: %v", rec.ID, err)
		return
	}
	log.Printf("restored calibration %d (%d pixels)", rec.ID, rec.PixelCount)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Print(version.String())

	cfg, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	src, err := openSource(cfg, *devMode, *replayPath, *recordPath)
	if err != nil {
		log.Fatalf("failed to open depth source: %v", err)
	}
	defer src.Close()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link := newLink(cfg, store)
	defer link.Close()
	if !*disableSerial {
		// the reply monitor runs until link.Close so the final END is logged
		if err := link.Connect(context.Background()); err != nil {
			log.Printf("actuator not connected: %v", err)
		}
	}

	scene := render.NewScene(cfg.GetDisplayScale())
	hub := render.NewHub(func() any { return scene.Snapshot() })
	defer hub.Close()
	disp := render.NewDispatcher(cfg.GetDispatchBuffer(), scene, hub, serialmux.NewActuator(link))
	defer disp.Close()

	ctrl := measure.New(src, measure.ConfigFromTuning(cfg), measure.Options{
		Renderer: disp,
		Store:    store,
	})
	restoreCalibration(ctx, store, ctrl)

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctrl, scene, hub, link, store).ServeMux()
		link.AttachAdminRoutes(mux)
		store.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// a running loop gets its final pass and commit before the sinks close
	if err := ctrl.Close(); err != nil {
		log.Printf("failed to close controller: %v", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	if err := disp.Flush(flushCtx); err != nil {
		log.Printf("renderer flush: %v (%d events dropped)", err, disp.Dropped())
	}
	cancel()
	log.Printf("Graceful shutdown complete")
}
