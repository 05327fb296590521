// Package main is the entry point for the plugbus plugin host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/plugbus/internal/app"
	"github.com/dshills/plugbus/internal/config"
	"github.com/dshills/plugbus/internal/plugin/lua"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	logLevel   string
	pluginDirs stringList
	watch      bool
	list       bool
	plugins    []string
}

// stringList is a repeatable flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(cfg, opts)

	if opts.list {
		return listPlugins(cfg)
	}

	application := app.New(cfg)
	if err := application.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start: %v\n", err)
		return 1
	}

	// Handle signals for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	if err := application.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if len(opts.pluginDirs) > 0 {
		cfg.Lua.Paths = append([]string(opts.pluginDirs), cfg.Lua.Paths...)
	}
	if opts.watch {
		cfg.Watch.Enabled = true
	}

	configured := make(map[string]bool, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		configured[p.Name] = true
	}
	for _, name := range opts.plugins {
		if !configured[name] {
			cfg.Plugins = append(cfg.Plugins, config.PluginConfig{Name: name})
			configured[name] = true
		}
	}
}

func listPlugins(cfg *config.Config) int {
	var loaderOpts []lua.LoaderOption
	if len(cfg.Lua.Paths) > 0 {
		loaderOpts = append(loaderOpts, lua.WithPaths(cfg.Lua.Paths...))
	}
	manifests, err := lua.NewLoader(loaderOpts...).Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, m := range manifests {
		fmt.Printf("%-20s %-10s %s\n", m.Name, m.Version, m.MainPath())
	}
	return 0
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (YAML or TOML)")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Var(&opts.pluginDirs, "plugins", "Lua plugin directory, repeatable")
	flag.Var(&opts.pluginDirs, "p", "Lua plugin directory (shorthand)")
	flag.BoolVar(&opts.watch, "watch", false, "Reload Lua plugins when their files change")
	flag.BoolVar(&opts.list, "list", false, "List discoverable Lua plugins and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "plugbus - eventbus plugin host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: plugbus [options] [plugins...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  plugbus -c plugbus.yaml          Run the configured plugins\n")
		fmt.Fprintf(os.Stderr, "  plugbus -p ./plugins greeter     Load greeter from ./plugins\n")
		fmt.Fprintf(os.Stderr, "  plugbus -p ./plugins -list       List plugins in ./plugins\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("plugbus %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}

	opts.plugins = flag.Args()
	return opts
}
