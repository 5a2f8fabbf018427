// Skald bridges chat platforms to a local coding agent over the Agent
// Client Protocol.
//
// It supervises the agent subprocess, keeps a warm session ready,
// queues inbound messages so the agent only ever sees one prompt at a
// time, and streams replies back as they are produced. An HTTP ops API
// and an optional MQTT publisher (with Home Assistant discovery)
// expose runtime state. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	skald serve              Start the bridge and ops API
//	skald init [dir]         Initialize a working directory with defaults
//	skald ask <question>     Send a single prompt (for testing)
//	skald version            Print version and build information
//	skald -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/skaldbot/skald/internal/acp"
	"github.com/skaldbot/skald/internal/api"
	"github.com/skaldbot/skald/internal/bridge"
	"github.com/skaldbot/skald/internal/buildinfo"
	"github.com/skaldbot/skald/internal/config"
	"github.com/skaldbot/skald/internal/ctxqueue"
	"github.com/skaldbot/skald/internal/events"
	"github.com/skaldbot/skald/internal/mqtt"
)

// main only assembles the OS-level environment (context, stdio, argv)
// and hands off to [run], keeping os.Exit and os.Args out of the
// application logic so the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the skald command. Cancelling ctx
// triggers graceful shutdown of every server and background goroutine.
// Structured logs go to stdout, fatal errors to stderr, and args is
// os.Args[1:]. run returns nil on clean shutdown; the caller (main)
// prints the error and exits.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Arguments are parsed by hand. The flag package keeps state in
	// package-level globals (flag.CommandLine), which breaks calling
	// run() concurrently from tests, and the surface here is too small
	// to justify a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: skald ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// skald is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Skald - Agent Session Bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: skald [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the bridge and ops API")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Send a single prompt (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./skald.yaml, ~/.config/skald/config.yaml, /etc/skald/config.yaml")
	return nil
}

// defaultConfigYAML is written by "skald init". Every field is present
// with its default so a new install can be edited in place.
const defaultConfigYAML = `# Skald configuration.
#
# The agent block describes the coding agent subprocess that Skald
# supervises. The command must speak the Agent Client Protocol over
# stdio (for example: claude-code-acp, gemini --experimental-acp).

agent:
  command: ""          # REQUIRED: path to the ACP agent binary
  args: []             # extra arguments appended after the built-in ones
  work_dir: ""         # agent working directory (default: process cwd)
  model: ""            # model override passed to the agent, if any
  approval_mode: ""    # auto | deny | first (default: auto-approve)
  include_dirs: []     # extra directories the agent may access
  prompt_timeout_sec: 600
  no_output_timeout_sec: 120
  terminate_grace_sec: 5
  prewarm:
    max_retries: 3
    retry_delay_sec: 10

delivery:
  max_message_len: 4000
  stream_interval_ms: 1500

listen:
  enabled: true
  address: "127.0.0.1"
  port: 8316

mqtt:
  enabled: false
  broker: "mqtt://localhost:1883"
  username: ""
  password: ""
  device_name: "skald"
  discovery_prefix: "homeassistant"
  publish_interval_sec: 60

data_dir: "./data"
log_level: "info"
`

// runInit handles the "skald init [dir]" subcommand. It creates the
// directory if needed and writes a commented default config, refusing
// to overwrite one that already exists.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "skald.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintln(w, "Edit agent.command to point at your ACP agent, then run: skald serve")
	return nil
}

// runAsk handles the "skald ask <question>" subcommand. It boots a
// bare session runtime (no queue, no durable context store, no servers)
// and sends a single prompt, streaming the reply to stdout as it
// arrives. Useful for smoke-testing an agent config without starting
// the full bridge.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	runtime := acp.NewRuntime(acp.RuntimeConfig{
		Agent:  cfg.Agent,
		Logger: logger,
	})
	defer runtime.Shutdown()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, err = runtime.RunPrompt(ctx, question, func(chunk string) {
		fmt.Fprint(stdout, chunk)
	})
	if err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	fmt.Fprintln(stdout)
	return nil
}

// runServe handles the "skald serve" subcommand: the full bridge with
// the session runtime, message queue, durable context store, ops API,
// and optional MQTT publishing.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	// Bootstrap logger at info/text until the config tells us otherwise.
	logger := newLogger(stdout, slog.LevelInfo, "text")

	logger.Info("starting", "build", buildinfo.String())

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	logLevel, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("invalid log level, using info", "error", err)
		logLevel = slog.LevelInfo
	}
	logger = newLogger(stdout, logLevel, "text")
	slog.SetDefault(logger)

	// --- Data directory ---
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Event bus ---
	// Every component publishes lifecycle events here; the API streams
	// them to WebSocket clients and the bridge listens for session
	// readiness to flush queued context.
	bus := events.New()

	// --- Durable context queue ---
	ctxStore, err := ctxqueue.NewStore(filepath.Join(cfg.DataDir, "context.db"))
	if err != nil {
		return fmt.Errorf("open context store: %w", err)
	}
	defer ctxStore.Close()

	if n, err := ctxStore.Count(); err == nil && n > 0 {
		logger.Info("pending context notes from previous run", "count", n)
	}

	// --- Agent session runtime ---
	runtime := acp.NewRuntime(acp.RuntimeConfig{
		Agent:  cfg.Agent,
		Logger: logger,
		Bus:    bus,
	})

	// --- Message bridge ---
	br := bridge.NewBridge(bridge.BridgeConfig{
		Runtime:        runtime,
		Store:          ctxStore,
		MaxMessageLen:  cfg.Delivery.MaxMessageLen,
		StreamInterval: cfg.Delivery.StreamInterval(),
		Logger:         logger,
		Bus:            bus,
	})
	go br.Run(ctx)

	// Warm a session at startup so the first message doesn't pay the
	// agent boot cost.
	runtime.SchedulePrewarm("startup")

	// --- MQTT publishing (optional) ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		statsAdapter := &mqttStatsAdapter{
			runtime: runtime,
			bridge:  br,
		}

		mqttPub = mqtt.New(cfg.MQTT, instanceID, statsAdapter, logger)
		mqttPub.SetContextHandler(func(source, text string) {
			if err := br.QueueContext(source, text); err != nil {
				logger.Error("failed to queue mqtt context note", "error", err)
			}
		})
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()

		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Ops API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, runtime, br, bus, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		// Terminate the agent subprocess before closing the listener so
		// in-flight prompts settle with a shutdown error, not a hang.
		runtime.Shutdown()

		_ = server.Shutdown(context.Background())
	}()

	if !cfg.Listen.Enabled {
		logger.Info("api server disabled, running headless")
		<-ctx.Done()
		logger.Info("Skald stopped")
		return nil
	}

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Skald stopped")
	return nil
}

// mqttStatsAdapter exposes runtime and bridge counters to the MQTT
// publisher without coupling the mqtt package to either.
type mqttStatsAdapter struct {
	runtime *acp.Runtime
	bridge  *bridge.Bridge
}

func (a *mqttStatsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }

func (a *mqttStatsAdapter) Version() string { return buildinfo.Version }

func (a *mqttStatsAdapter) SessionState() string { return a.runtime.Status().State }

func (a *mqttStatsAdapter) QueueDepth() int { return a.bridge.QueueDepth() }

func (a *mqttStatsAdapter) PromptsCompleted() uint64 { return a.runtime.Status().PromptsCompleted }

func (a *mqttStatsAdapter) PromptsFailed() uint64 { return a.runtime.Status().PromptsFailed }

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in Skald goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
