package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/block"
	"github.com/SoarinFerret/FocusWarden/internal/config"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/emitter"
	"github.com/SoarinFerret/FocusWarden/internal/engine"
	"github.com/SoarinFerret/FocusWarden/internal/ipc"
	"github.com/SoarinFerret/FocusWarden/internal/loginctl"
	"github.com/SoarinFerret/FocusWarden/internal/metrics"
	"github.com/SoarinFerret/FocusWarden/internal/notify"
	"github.com/SoarinFerret/FocusWarden/internal/server"
	"github.com/SoarinFerret/FocusWarden/internal/state"
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		log.Println("Failed to load .env:", err)
	}

	// check for argument to determine config location
	argPath := config.ConfigPath("/etc/focuswarden/config.toml")
	if len(os.Args) > 1 {
		argPath = os.Args[1]
	}
	log.Println("Using config file at:", argPath)
	cfg, err := config.LoadConfigFromFile(argPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	store, err := state.Open(ctx, cfg.StateConfig())
	if err != nil {
		log.Fatal("Failed to open state store:", err)
	}
	defer store.Close()

	det, err := detector.New(cfg.DetectorConfig())
	if err != nil {
		log.Fatal("Failed to create landmark detector:", err)
	}
	if err := det.Initialize(ctx); err != nil {
		log.Println("Landmark detector unavailable, sessions will run permissive:", err)
	}
	defer det.Close()

	m := metrics.New()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		n := notify.NewDBusNotifier(notify.Config{
			AppName:    cfg.Notify.AppName,
			BusAddress: cfg.Notify.BusAddress,
			LeaderPID:  cfg.Notify.LeaderPID,
		})
		defer n.Close()
		notifier = n
	}

	var events emitter.Emitter = emitter.Nop{}
	var eventStats func() emitter.Stats
	if cfg.Events.Broker != "" {
		mq := emitter.NewMQTTEmitter(emitter.MQTTConfig{
			Broker:      cfg.Events.Broker,
			ClientID:    cfg.Events.ClientID,
			TopicPrefix: cfg.Events.TopicPrefix,
			QoS:         cfg.Events.QoS,
		})
		// the client keeps retrying in the background
		if err := mq.Connect(ctx); err != nil {
			log.Println("MQTT broker not reachable yet:", err)
		}
		defer mq.Close()
		events = mq
		eventStats = mq.Stats
	}

	eng, err := engine.NewEngine(engine.Options{
		Blocks:        block.NewRegistry(store),
		Notifier:      notifier,
		Emitter:       events,
		Metrics:       m,
		SweepInterval: cfg.Storage.SweepInterval.Duration,
		Debug:         cfg.Gatekeeper.Debug,
	})
	if err != nil {
		log.Fatal("Failed to create engine:", err)
	}

	srv, err := server.New(server.Config{
		Listen:         cfg.Server.Listen,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Server.WriteTimeout.Duration,
		PingInterval:   cfg.Server.PingInterval.Duration,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		CaptureTimeout: cfg.Server.CaptureTimeout.Duration,
		Debug:          cfg.Server.Debug,
	}, server.Deps{
		Engine:     eng,
		Detector:   det,
		Analyzer:   cfg.Analyzer,
		Gatekeeper: cfg.GatekeeperOptions(),
		Metrics:    m,
		EventStats: eventStats,
	})
	if err != nil {
		log.Fatal("Failed to create server:", err)
	}

	var wg sync.WaitGroup

	// Start the engine (block sweeper and event delivery)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			log.Println("engine error:", err)
		}
	}()

	// Start the player websocket server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil {
			log.Println("server error:", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Println("server shutdown error:", err)
		}
	}()

	// Start the D-Bus control service
	if cfg.IPC.Bus != "none" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Opening %s D-Bus service...", cfg.IPC.Bus)
			if err := serveFocusWarden(ctx, cfg.IPC.Bus == "session", &ipc.Manager{
				Engine:        eng,
				Metrics:       m,
				DetectorReady: det.IsReady,
				EventStats:    eventStats,
			}); err != nil {
				log.Println("focuswarden service error:", err)
			}
		}()
	}

	// Stop cameras while the machine sleeps or the screen is locked
	if cfg.Presence.Logind {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Println("Monitoring logind for sleep and lock...")
			if err := watchLogind(ctx, eng); err != nil {
				log.Println("logind watcher error:", err)
			}
		}()
	}

	wg.Wait()
	eng.Close()
	fmt.Println("Shutdown complete")
}

func watchLogind(ctx context.Context, eng *engine.Engine) error {
	conn, err := ipc.Connect(false)
	if err != nil {
		return err
	}
	defer conn.Close()
	return loginctl.Watch(ctx, conn, eng)
}

func serveFocusWarden(ctx context.Context, session bool, manager *ipc.Manager) error {
	conn, err := ipc.Connect(session)
	if err != nil {
		return err
	}
	defer conn.Close()
	return ipc.Serve(ctx, conn, manager)
}
