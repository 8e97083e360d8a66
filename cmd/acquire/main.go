package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/api"
	"github.com/banshee-data/vibration.report/internal/config"
	"github.com/banshee-data/vibration.report/internal/db"
	"github.com/banshee-data/vibration.report/internal/gateway"
	"github.com/banshee-data/vibration.report/internal/monitoring"
	"github.com/banshee-data/vibration.report/internal/notify"
	"github.com/banshee-data/vibration.report/internal/report"
	"github.com/banshee-data/vibration.report/internal/version"
	"github.com/banshee-data/vibration.report/internal/waveform"
)

var (
	configFile     = flag.String("config", "", "Path to a .json or .hujson config file")
	gatewayURL     = flag.String("gateway", "", "Gateway WebSocket URL, e.g. ws://gateway.local:8080/ws")
	serialPort     = flag.String("serial-port", "", "Serial port the gateway is attached to")
	devMode        = flag.Bool("dev", false, "Use the in-memory simulated gateway")
	disableGateway = flag.Bool("disable-gateway", false, "Serve the API without a gateway; readings fail")
	sensorSerial   = flag.String("sensor", "", "Sensor serial for a one-shot reading")
	samples        = flag.Int("samples", 0, "Expected samples per axis (0 uses the registry or disables the check)")
	dataTimeout    = flag.Duration("data-timeout", 0, "Override the data notification timeout")
	plotPath       = flag.String("plot", "", "Write a waveform plot to this file (.png, .svg, .pdf) or directory")
	chartPath      = flag.String("chart", "", "Write an interactive HTML chart to this file or directory")
	dbPath         = flag.String("db", "", "SQLite database path (default from config, else vibration.db)")
	listen         = flag.String("listen", "", "Serve the HTTP API on this address instead of taking one reading")
	debugMode      = flag.Bool("debug", false, "Enable debug logging")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// shutdownTimeout bounds the unsubscribe and HTTP shutdown on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debugMode)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.Printf("%v", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads -config when given and applies command-line overrides.
func loadConfig() (*config.AcquisitionConfig, error) {
	cfg := config.EmptyConfig()
	if *configFile != "" {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyFlags(cfg)
	return cfg, cfg.Validate()
}

// applyFlags overrides cfg with every connection flag that was set.
func applyFlags(cfg *config.AcquisitionConfig) {
	if *gatewayURL != "" {
		cfg.GatewayURL = gatewayURL
	}
	if *serialPort != "" {
		cfg.SerialPort = serialPort
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dataTimeout > 0 {
		d := dataTimeout.String()
		cfg.DataTimeout = &d
	}
}

type options struct {
	dev      bool
	disabled bool
	target   acquisition.Target
	plot     string
	chart    string
}

func flagOptions() options {
	return options{
		dev:      *devMode,
		disabled: *disableGateway,
		target: acquisition.Target{
			Serial:          *sensorSerial,
			ExpectedSamples: *samples,
		},
		plot:  *plotPath,
		chart: *chartPath,
	}
}

func run(ctx context.Context, cfg *config.AcquisitionConfig, out io.Writer) error {
	return runWith(ctx, cfg, flagOptions(), out)
}

func runWith(ctx context.Context, cfg *config.AcquisitionConfig, o options, out io.Writer) error {
	serving := cfg.GetListen() != ""
	if !serving && o.target.Serial == "" {
		return errors.New("-sensor is required unless -listen is set")
	}
	if o.disabled && !serving {
		return errors.New("-disable-gateway only makes sense with -listen")
	}

	bus := notify.NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	// The connection outlives ctx so the unsubscribe on the way out can
	// still be answered.
	connCtx, closeConn := context.WithCancel(context.Background())
	defer closeConn()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gw, err := openGateway(connCtx, cfg, o, bus, &wg)
	if err != nil {
		return err
	}
	defer gw.Close()

	// run the monitor routine to manage IO on the gateway connection
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gw.Monitor(connCtx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("gateway monitor stopped: %v", err)
			cancel()
		}
		monitoring.Debugf("monitor routine terminated")
	}()

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	orch := acquisition.New(gw, bus, acquisition.Options{
		Timeouts: cfg.GetTimeouts(),
		Decoder:  waveform.NewDecoder(cfg.GetLimits()),
		Journal:  store,
	})

	if serving {
		return serve(ctx, cfg.GetListen(), orch, gw, store, !o.disabled)
	}
	if o.target.ExpectedSamples == 0 {
		if s, err := store.GetSensor(o.target.Serial); err == nil && s != nil {
			o.target.ExpectedSamples = s.ExpectedSamples
		}
	}
	return acquireOnce(ctx, orch, o, out)
}

// openGateway picks the transport: simulator, disabled, WebSocket or serial.
func openGateway(ctx context.Context, cfg *config.AcquisitionConfig, o options, bus *notify.Bus, wg *sync.WaitGroup) (gateway.Gateway, error) {
	if o.disabled {
		monitoring.Logf("gateway disabled; readings will fail")
		return gateway.NewDisabled(), nil
	}

	var conn gateway.Conn
	switch {
	case o.dev:
		client, remote := gateway.Pipe()
		sim := gateway.NewSimulator(gateway.SimulatorOptions{
			StartDelay: 100 * time.Millisecond,
			DataDelay:  500 * time.Millisecond,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sim.Serve(ctx, remote); err != nil {
				monitoring.Logf("simulator stopped: %v", err)
			}
		}()
		monitoring.Logf("using simulated gateway")
		conn = client

	case cfg.GetGatewayURL() != "":
		ws, err := gateway.DialWebSocket(ctx, cfg.GetGatewayURL(), nil)
		if err != nil {
			return nil, err
		}
		monitoring.Logf("connected to gateway %s", cfg.GetGatewayURL())
		conn = ws

	case cfg.GetSerialPort() != "":
		port, err := gateway.OpenSerial(cfg.GetSerialPort(), cfg.GetPortOptions())
		if err != nil {
			return nil, err
		}
		monitoring.Logf("opened gateway serial port %s", cfg.GetSerialPort())
		conn = port

	default:
		return nil, errors.New("no gateway configured: use -gateway, -serial-port, -dev or -disable-gateway")
	}

	return gateway.NewMux(conn, bus, gateway.MuxOptions{CommandTimeout: cfg.GetCommandTimeout()}), nil
}

func unsubscribe(orch *acquisition.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	orch.Unsubscribe(ctx)
}

// acquireOnce takes one reading, prints its summary and writes any requested
// plot or chart.
func acquireOnce(ctx context.Context, orch *acquisition.Orchestrator, o options, out io.Writer) error {
	if err := orch.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to gateway notifications: %w", err)
	}
	defer unsubscribe(orch)

	res, err := orch.AcquireReading(ctx, o.target)
	if err != nil {
		return err
	}
	if err := report.WriteSummary(out, res); err != nil {
		return err
	}

	if o.plot != "" {
		path, err := report.OutputPath(o.plot, res, ".png")
		if err != nil {
			return err
		}
		if err := report.SavePlot(path, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nPlot written to %s\n", path)
	}
	if o.chart != "" {
		path, err := report.OutputPath(o.chart, res, ".html")
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create chart file: %w", err)
		}
		if err := report.RenderChart(f, res, report.ChartOptions{}); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(out, "Chart written to %s\n", path)
	}
	return nil
}

// serve runs the HTTP API until ctx is done.
func serve(ctx context.Context, addr string, orch *acquisition.Orchestrator, gw gateway.Gateway, store *db.DB, subscribe bool) error {
	if subscribe {
		if err := orch.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to gateway notifications: %w", err)
		}
		defer unsubscribe(orch)
	}

	mux := api.NewServer(orch, store).ServeMux()
	gw.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("serving API on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("Graceful shutdown complete")
	return nil
}
