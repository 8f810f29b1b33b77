package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/CTAG07/blocktpl/pkg/store"
	"github.com/CTAG07/blocktpl/pkg/template"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// RenderPlan describes one render session as JSON: top-level variable
// assignments followed by ordered block additions, each with its own
// variable assignments applied first.
type RenderPlan struct {
	// Escape HTML-escapes every assigned value when true.
	Escape    bool           `json:"escape,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Steps     []RenderStep   `json:"steps,omitempty"`
}

// RenderStep assigns variables and then adds the named block. A step
// with an empty block name only assigns variables.
type RenderStep struct {
	Block     string         `json:"block,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

func main() {
	configPath := flag.String("config", "./blocktpl.json", "path to the config file (created with defaults if missing)")
	tplName := flag.String("template", "", "name of the template to render (required)")
	planPath := flag.String("plan", "", "path to a JSON render plan; omit for an empty plan")
	condJSON := flag.String("cond", "", `compile-time condition variables as inline JSON, e.g. '{"debug":true}'`)
	outPath := flag.String("out", "", "output file; defaults to stdout")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("blocktpl %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}
	if *tplName == "" {
		_, _ = fmt.Fprintln(os.Stderr, "error: -template is required")
		flag.Usage()
		os.Exit(2)
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(config.LogLevel)

	if err = run(context.Background(), logger, config, *tplName, *planPath, *condJSON, *outPath); err != nil {
		logger.Error("Render failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, logger *slog.Logger, config *Config, tplName, planPath, condJSON, outPath string) error {
	var loader template.Loader
	if config.DatabasePath != "" {
		db, err := initDB(config.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = db.Close() }()
		if err = store.SetupSchema(db); err != nil {
			return err
		}
		sqlStore, err := store.NewSQLStore(db)
		if err != nil {
			return fmt.Errorf("failed to create sql store: %w", err)
		}
		defer sqlStore.Close()
		sqlStore.SetLogger(logger)
		loader = sqlStore
		logger.Info("Using sqlite template store", "path", config.DatabasePath)
	} else {
		loader = store.NewDirStore(config.DataDir)
		logger.Info("Using directory template store", "dir", config.DataDir)
	}

	var condVars map[string]any
	if condJSON != "" {
		if err := json.Unmarshal([]byte(condJSON), &condVars); err != nil {
			return fmt.Errorf("failed to parse condition variables: %w", err)
		}
	}

	var plan RenderPlan
	if planPath != "" {
		data, err := os.ReadFile(planPath)
		if err != nil {
			return fmt.Errorf("failed to read render plan: %w", err)
		}
		if err = json.Unmarshal(data, &plan); err != nil {
			return fmt.Errorf("failed to parse render plan: %w", err)
		}
	}

	cache := store.NewCache(loader, config.options())
	cache.SetLogger(logger)
	tpl, err := cache.Get(ctx, tplName, condVars)
	if err != nil {
		return err
	}

	out := template.NewOutput(tpl)
	if err = applyPlan(out, &plan); err != nil {
		return err
	}
	text := out.Generate()

	if outPath == "" {
		_, err = os.Stdout.WriteString(text)
		return err
	}
	if err = os.WriteFile(outPath, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("Rendered template", "template", tplName, "bytes", len(text), "out", outPath)
	return nil
}

func applyPlan(out *template.Output, plan *RenderPlan) error {
	setVar := out.SetVar
	if plan.Escape {
		setVar = out.SetVarEsc
	}
	for name, value := range plan.Variables {
		if err := setVar(name, value); err != nil {
			return err
		}
	}
	for i, step := range plan.Steps {
		for name, value := range step.Variables {
			if err := setVar(name, value); err != nil {
				return fmt.Errorf("plan step %d: %w", i, err)
			}
		}
		if step.Block == "" {
			continue
		}
		if err := out.AddBlock(step.Block); err != nil {
			return fmt.Errorf("plan step %d: %w", i, err)
		}
	}
	return nil
}
