// Discbot - optical disc changer daemon
//
// A headless service that drives a SCSI media changer: REST API, SSE
// event stream, MQTT publishing, batch imaging, and crash recovery.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discbot/api"
	"discbot/config"
	"discbot/jukebox"
	"discbot/logging"
	"discbot/media"
	"discbot/mqtt"
	"discbot/sim"
	"discbot/state"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles --log-debug without a value by injecting "all" as the default.
// This allows users to use `--log-debug` alone to enable all subsystem logging.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		// Check for --log-debug or -log-debug without =
		if arg == "--log-debug" || arg == "-log-debug" {
			// Check if next arg exists and is not another flag
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				// No value provided, inject "all"
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		// If it has = sign, value is already provided
		if len(arg) > 11 && (arg[:12] == "--log-debug=" || arg[:11] == "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	devicePath  = flag.String("device", "", "Changer pass-through device (overrides config)")
	busNode     = flag.String("node", "", "Raw bus node for the fallback backend (overrides config)")
	simulate    = flag.Bool("simulate", false, "Use the simulated changer instead of hardware")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	apiToken    = flag.String("api-token", "", "Set API bearer token (saved to config)")
	statePath   = flag.String("state", "", "Path to state database (overrides config)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")
)

func main() {
	// Pre-process args to handle --log-debug without a value
	preprocessLogDebugFlag()

	flag.Parse()

	if *showVersion {
		fmt.Printf("discbot %s\n", Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Handle --namespace flag: overwrite config and save
	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)\n", *namespace)
			os.Exit(1)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	// Handle --api-token flag: hash, save, and continue (persisted)
	if *apiToken != "" {
		if err := cfg.API.SetToken(*apiToken); err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing token: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("API token configured")
	}

	// Override config from flags (in memory only)
	if *devicePath != "" {
		cfg.Device.Changer = *devicePath
	}
	if *busNode != "" {
		cfg.Device.BusNode = *busNode
	}
	if *httpPort != 0 {
		cfg.API.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.API.Host = *httpHost
	}
	if *noAPI {
		cfg.API.Enabled = false
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *simulate {
		cfg.Simulate.Enabled = true
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	run(cfg)
}

// simChangerConfig maps the config section onto the simulator. The
// operator gate auto-confirms in simulate mode, so the port must empty
// itself between exports or unload-all jams on the second disc.
func simChangerConfig(sc config.SimConfig) sim.Config {
	slots := sc.Slots
	if slots <= 0 {
		slots = 16
	}
	preloaded := sc.Occupied
	if preloaded <= 0 {
		preloaded = 8
	}
	if preloaded > slots {
		preloaded = slots
	}
	occupied := make([]int, preloaded)
	for i := range occupied {
		occupied[i] = i + 1
	}
	return sim.Config{
		Slots:             slots,
		Occupied:          occupied,
		ImpExp:            true,
		AutoRemoveExports: true,
	}
}

func run(cfg *config.Config) {
	// Set up file logging if specified
	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		}
	}

	logFn := func(format string, args ...interface{}) {
		fmt.Printf(format+"\n", args...)
		if fileLogger != nil {
			fileLogger.Log(format, args...)
		}
	}

	// Set up debug logging if specified
	var debugLoggerFile *logging.DebugLogger
	if *logDebug != "" {
		var err error
		debugLoggerFile, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLoggerFile.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLoggerFile)
			if filter == "" {
				logFn("Debug logging enabled (all subsystems) - writing to debug.log")
			} else {
				logFn("Debug logging enabled (filter: %s) - writing to debug.log", filter)
			}
		}
	}

	// Open the state store. The daemon runs without one, but loses the
	// dirty marker, operation history, and disc catalog.
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to open state database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Continuing without persistence.\n")
		store = nil
	}

	var catalog media.Catalog
	var recorder jukebox.Recorder
	if store != nil {
		catalog = store
		recorder = store
	}

	opts := jukebox.Options{
		Device:    cfg.Device.Changer,
		Node:      cfg.Device.BusNode,
		Chunk:     cfg.Device.Chunk,
		Timeouts:  cfg.Device.Timeouts(),
		MediaWait: cfg.Device.MediaWait,
		OutputDir: cfg.Imaging.OutputDir,
	}

	var j *jukebox.Jukebox
	if cfg.Simulate.Enabled {
		simCfg := simChangerConfig(cfg.Simulate)
		simChanger := sim.New(simCfg)
		opts.AutoConfirmRemoval = true
		if catalog == nil {
			catalog = sim.NewCatalog()
		}

		j = jukebox.New(opts, jukebox.Deps{
			Drive:    sim.NewDrive(simChanger),
			Imager:   sim.NewImager(),
			Catalog:  catalog,
			Recorder: recorder,
			LogFunc:  logFn,
		})
		if err := j.ConnectChannel(simChanger); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting simulated changer: %v\n", err)
			os.Exit(1)
		}
		logFn("Simulated changer: %d slots, %d occupied", simCfg.Slots, len(simCfg.Occupied))
	} else {
		j = jukebox.New(opts, jukebox.Deps{
			Catalog:  catalog,
			Recorder: recorder,
			LogFunc:  logFn,
		})
		if err := j.Connect(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Changer not connected: %v\n", err)
			fmt.Fprintf(os.Stderr, "Connect later via the API.\n")
		}
	}

	// Start HTTP server (unless disabled)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(j, store, &cfg.API)
		if err := apiServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start API server on port %d: %v\n", cfg.API.Port, err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
			apiServer = nil
		} else {
			logFn("API server at %s", apiServer.Address())
			logFn("  Event stream: %s/events", apiServer.Address())
		}
	}

	// Create MQTT manager and bridge it to the jukebox event bus
	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)
	bridge := mqtt.NewBridge(j, mqttMgr)

	// Auto-start enabled MQTT publishers
	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			logFn("MQTT: %d publisher(s) started", started)
		}
	}()

	st := j.Status()
	if st.RecoverySlot > 0 {
		logFn("Recovery pending: unclean shutdown left slot %d in the drive", st.RecoverySlot)
		logFn("Resolve via POST /recovery before starting batches")
	}

	fmt.Println("Running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived %v, shutting down...\n", sig)

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		if err := j.CancelBatch(); err != nil && !errors.Is(err, jukebox.ErrNoBatch) {
			logFn("Batch cancel: %v", err)
		}
		// Cancellation lands at the batch's next checkpoint; let the
		// worker drain before tearing the connection down.
		j.WaitBatch()
		if err := j.CancelUnload(); err != nil && !errors.Is(err, jukebox.ErrNoUnload) {
			logFn("Unload cancel: %v", err)
		}
		bridge.Close()
		mqttMgr.StopAll()
		if apiServer != nil {
			apiServer.Stop()
		}
		if err := j.Disconnect(); err != nil {
			logFn("Disconnect: %v", err)
		}
		if store != nil {
			store.Close()
		}
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(10 * time.Second):
		fmt.Fprintln(os.Stderr, "Shutdown timed out")
	}

	if fileLogger != nil {
		fileLogger.Close()
	}
	if debugLoggerFile != nil {
		debugLoggerFile.Close()
	}

	fmt.Println("Stopped")
}
