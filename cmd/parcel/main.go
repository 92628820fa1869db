package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parcelhq/parcel/internal/callable"
	"github.com/parcelhq/parcel/internal/config"
	"github.com/parcelhq/parcel/internal/docstore"
	"github.com/parcelhq/parcel/internal/doctor"
	"github.com/parcelhq/parcel/internal/document"
	"github.com/parcelhq/parcel/internal/environment"
	"github.com/parcelhq/parcel/internal/execute"
	"github.com/parcelhq/parcel/internal/log"
	"github.com/parcelhq/parcel/internal/serializer"
	"github.com/parcelhq/parcel/internal/version"
	"github.com/parcelhq/parcel/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "worker":
		os.Exit(runWorker(args))
	case "env":
		os.Exit(runEnvNoun(args))
	case "doc":
		os.Exit(runDocNoun(args))
	case "pack":
		os.Exit(runPack(args))
	case "run":
		os.Exit(runRun(args))
	case "install":
		os.Exit(runInstall(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "version", "--version":
		fmt.Printf("parcel version %s\n", version.Version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`parcel - package callables with their runtime environment

Usage:
  parcel <command> [flags]

Environment Commands:
  env detect          Describe the environment this process runs in
  env create          Create a venv or conda environment
  env init <path>     Provision a bare install layout at path

Document Commands:
  pack                Package a callable into a document
  doc list            List stored documents
  doc show <id>       Print a stored document
  doc delete <id>     Remove a stored document

Execution Commands:
  run                 Execute a packaged document
  worker <request>    Execute one encoded call (internal)
  install <req>...    Record requirements in the enclosing environment

General:
  doctor              Validate configuration and machine setup
  version             Show version information
  help                Show this help message
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			// Everything works with defaults; config is optional.
			return config.Default(), nil
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// splitList parses a comma-separated flag value.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// --- worker ---

func runWorker(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: parcel worker <request>")
		return 1
	}

	log.Setup(os.Getenv("PARCEL_LOG_LEVEL"))

	ctx, cancel := signalContext()
	defer cancel()

	if err := worker.Run(ctx, args[0], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		return 1
	}
	return 0
}

// --- env ---

func runEnvNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: parcel env <detect|create|init> [flags]")
		if len(args) > 0 && isHelpToken(args[0]) {
			return 0
		}
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "detect":
		return runEnvDetect(actionArgs)
	case "create":
		return runEnvCreate(actionArgs)
	case "init":
		return runEnvInit(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown env action: %s\n", action)
		return 1
	}
}

func runEnvDetect(args []string) int {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log.Setup("ERROR")
	env, err := environment.Detect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		return 1
	}
	data, err := environment.Marshal(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runEnvCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	kind := fs.String("type", "venv", "Environment type (venv, conda)")
	requirements := fs.String("requirements", "", "Comma-separated requirement specifiers")
	condaRequirements := fs.String("conda-requirements", "", "Comma-separated conda specifiers")
	name := fs.String("name", "", "Named conda environment")
	path := fs.String("path", "", "Explicit install path (venv only)")
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx, cancel := signalContext()
	defer cancel()

	var env environment.Env
	switch *kind {
	case "venv":
		env, err = environment.CreateVirtualEnv(ctx, environment.VenvOptions{
			Requirements: splitList(*requirements),
			Path:         *path,
			EnvDir:       cfg.Environments.Dir,
		})
	case "conda":
		opts := environment.CondaOptions{
			Requirements:      splitList(*requirements),
			CondaRequirements: splitList(*condaRequirements),
			Name:              *name,
			CondaExecutable:   cfg.Environments.CondaExecutable,
		}
		if *name == "" {
			opts.BasePath = cfg.Environments.Dir
		}
		env, err = environment.CreateCondaEnv(ctx, opts)
	default:
		fmt.Fprintf(os.Stderr, "Unknown environment type: %s\n", *kind)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Creation failed: %v\n", err)
		return 1
	}

	data, err := environment.Marshal(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// runEnvInit provisions the install layout a virtual environment needs:
// bin/parcel as a copy of this executable plus an empty manifest. It is
// invoked as a subprocess by environment creation.
func runEnvInit(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: parcel env init <path>")
		return 1
	}
	envPath := args[0]

	log.Setup("ERROR")
	if err := environment.InitLayout(envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		return 1
	}
	return 0
}

// --- install ---

// runInstall records requirement specifiers in the enclosing environment's
// manifest. It is the runner-side half of requirement installation, invoked
// inside a freshly created environment.
func runInstall(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: parcel install <requirement>...")
		return 1
	}

	log.Setup("ERROR")
	if err := environment.RecordRequirements(args); err != nil {
		fmt.Fprintf(os.Stderr, "Install failed: %v\n", err)
		return 1
	}
	return 0
}

// --- pack ---

func runPack(args []string) int {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	strategy := fs.String("strategy", serializer.StrategySource, "Encoding strategy")
	sourcePath := fs.String("source", "", "Shell source file (source strategy)")
	symbol := fs.String("symbol", "", "Function symbol inside the source")
	name := fs.String("name", "", "Registered callable name (reference strategy)")
	output := fs.String("output", "", "Write the document to this file instead of the store")
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	value, code := packValue(*strategy, *sourcePath, *symbol, *name)
	if code != 0 {
		return code
	}

	env, err := environment.Detect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		return 1
	}

	doc, err := document.Pack(value, *strategy, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Pack failed: %v\n", err)
		return 1
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		return 1
	}

	if *output != "" {
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Write failed: %v\n", err)
			return 1
		}
		fmt.Println(*output)
		return 0
	}

	ctx, cancel := signalContext()
	defer cancel()
	store, err := docstore.Open(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Store error: %v\n", err)
		return 1
	}
	defer store.Close()

	id, err := store.Save(ctx, doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Save failed: %v\n", err)
		return 1
	}
	fmt.Println(id)
	return 0
}

// packValue builds the callable to encode from the pack flags.
func packValue(strategy, sourcePath, symbol, name string) (any, int) {
	switch strategy {
	case serializer.StrategySource:
		if sourcePath == "" || symbol == "" {
			fmt.Fprintln(os.Stderr, "pack -strategy source requires -source and -symbol")
			return nil, 1
		}
		source, err := os.ReadFile(sourcePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read source: %v\n", err)
			return nil, 1
		}
		script := callable.ScriptFunc{Source: string(source), Symbol: symbol}
		if err := script.Validate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid source: %v\n", err)
			return nil, 1
		}
		return script, 0
	case serializer.StrategyReference:
		if name == "" {
			fmt.Fprintln(os.Stderr, "pack -strategy reference requires -name")
			return nil, 1
		}
		value, err := callable.Resolve(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Resolve %q: %v\n", name, err)
			return nil, 1
		}
		return value, 0
	default:
		fmt.Fprintf(os.Stderr, "pack does not support strategy %q from the command line\n", strategy)
		return nil, 1
	}
}

// --- run ---

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("file", "", "Document file to execute")
	id := fs.String("id", "", "Stored document id to execute")
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if (*file == "") == (*id == "") {
		fmt.Fprintln(os.Stderr, "run requires exactly one of -file or -id")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	// Workers inherit the registration list through the environment.
	if len(cfg.Worker.RegisterPaths) > 0 {
		os.Setenv(worker.RegisterPathsVar, strings.Join(cfg.Worker.RegisterPaths, string(os.PathListSeparator)))
	}

	ctx, cancel := signalContext()
	defer cancel()
	if cfg.Worker.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Worker.Timeout.Std())
		defer timeoutCancel()
	}

	var doc *document.Document
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read document: %v\n", err)
			return 1
		}
		doc = &document.Document{}
		if err := json.Unmarshal(data, doc); err != nil {
			fmt.Fprintf(os.Stderr, "Decode document: %v\n", err)
			return 1
		}
	} else {
		store, err := docstore.Open(ctx, cfg.Store.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Store error: %v\n", err)
			return 1
		}
		defer store.Close()
		entry, err := store.Get(ctx, *id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load document: %v\n", err)
			return 1
		}
		doc = entry.Document
	}

	callArgs := make([]any, 0, fs.NArg())
	for _, arg := range fs.Args() {
		callArgs = append(callArgs, arg)
	}

	result, err := execute.Run(ctx, doc, callArgs, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
		return 1
	}
	fmt.Println(result)
	return 0
}

// --- doc ---

func runDocNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: parcel doc <list|show|delete> [flags]")
		if len(args) > 0 && isHelpToken(args[0]) {
			return 0
		}
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		return runDocList(actionArgs)
	case "show":
		return runDocShow(actionArgs)
	case "delete":
		return runDocDelete(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown doc action: %s\n", action)
		return 1
	}
}

func openStore(ctx context.Context, configPath string) (*docstore.Store, int) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return nil, 1
	}
	log.Setup(cfg.Service.LogLevel)

	store, err := docstore.Open(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Store error: %v\n", err)
		return nil, 1
	}
	return store, 0
}

func runDocList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	store, code := openStore(ctx, *configPath)
	if code != 0 {
		return code
	}
	defer store.Close()

	entries, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}
	for _, entry := range entries {
		env := "none"
		if entry.Document.Environment != nil {
			env = entry.Document.Environment.Describe()
		}
		fmt.Printf("%s  %-14s %-24s %s\n", entry.ID, entry.Document.Strategy, env,
			entry.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}

func runDocShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: parcel doc show <id>")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	store, code := openStore(ctx, *configPath)
	if code != 0 {
		return code
	}
	defer store.Close()

	entry, err := store.Get(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
		return 1
	}
	data, err := json.MarshalIndent(entry.Document, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runDocDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: parcel doc delete <id>")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	store, code := openStore(ctx, *configPath)
	if code != 0 {
		return code
	}
	defer store.Close()

	if err := store.Delete(ctx, fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		return 1
	}
	return 0
}

// --- doctor ---

func runDoctor(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	log.Setup("ERROR")

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
		fmt.Printf("Strategies: %s\n", strings.Join(doctor.Strategies(), ", "))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

