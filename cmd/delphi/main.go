package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haricheung/delphibot/internal/archive"
	"github.com/haricheung/delphibot/internal/bus"
	"github.com/haricheung/delphibot/internal/export"
	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/llm"
	"github.com/haricheung/delphibot/internal/roles/responder"
	"github.com/haricheung/delphibot/internal/runlog"
	"github.com/haricheung/delphibot/internal/study"
	"github.com/haricheung/delphibot/internal/types"
	"github.com/haricheung/delphibot/internal/ui"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const appName = "delphi"

// roleTiers maps each generation role to its credential prefix.
var roleTiers = map[types.Role]string{
	types.RolePersonaSelector: "PERSONA",
	types.RoleInterviewer:     "INTERVIEWER",
	types.RoleResponder:       "RESPONDER",
	types.RoleSummarizer:      "SUMMARIZER",
	types.RoleCatalogWriter:   "CATALOG",
	types.RoleManager:         "MANAGER",
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	_ = godotenv.Load(".env")

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := defaultConfig()

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Run a simulated Delphi study and write its factor catalog",
		Long: `delphi runs a Delphi study with simulated experts:

- an exploratory interview proposes the study structure
- you confirm the proposal and the formalized interview and catalog guides
- structured interviews with distinct expert personas follow the guides
- the summaries are synthesized into a Markdown factor catalog

Credentials are read per role tier ({TIER}_API_KEY, _BASE_URL, _MODEL,
_TEMPERATURE) with OPENAI_* as the fallback. Tiers: PERSONA, INTERVIEWER,
RESPONDER, SUMMARIZER, CATALOG, MANAGER.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.StudyPath, "study", "", "Study definition (YAML); the built-in sample study when empty")
	f.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, "Maximum question/answer turns per interview (1..10)")
	f.IntVar(&cfg.Rounds, "rounds", cfg.Rounds, "Target number of structured interviews (1..10)")
	f.BoolVar(&cfg.Human, "human", false, "Be the interviewee of the exploratory interview yourself")
	f.StringVarP(&cfg.OutDir, "out", "o", cfg.OutDir, "Directory the catalog is exported to")
	f.StringVar(&cfg.RunLogDir, "run-log-dir", cfg.RunLogDir, "Directory for per-run JSONL logs")
	f.StringVar(&cfg.DebugLog, "debug-log", cfg.DebugLog, "Diagnostic log file")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Write diagnostic logs to stderr instead of the debug log")
	f.BoolVarP(&cfg.Yes, "yes", "y", false, "Accept the proposed structure and guides without review")
	f.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Bound for a single model call")
	f.StringVar(&cfg.Backend, "backend", cfg.Backend, "Model API: chat (chat completions) or responses (OpenAI Responses API)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(parent context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	sc, err := loadStudy(cfg.StudyPath)
	if err != nil {
		return err
	}

	g, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\ndelphi: shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	b := bus.New()
	fails := watchFailures(ctx, b.Subscribe(types.MsgFailure))
	disp := ui.New(b.Tap(), os.Stdout)
	dispDone := make(chan struct{})
	dispCtx, stopDisp := context.WithCancel(ctx)
	go func() { disp.Run(dispCtx); close(dispDone) }()
	defer func() { stopDisp(); <-dispDone }()

	store, err := archive.Open()
	if err != nil {
		return err
	}
	defer store.Close()

	scfg := study.Config{
		Study:    sc,
		MaxTurns: cfg.MaxTurns,
		Rounds:   cfg.Rounds,
		Runs:     runlog.NewRegistry(cfg.RunLogDir),
	}

	var rv study.Reviewer = study.AutoAccept{}
	if !cfg.Yes || cfg.Human {
		term, err := newTerminal(disp)
		if err != nil {
			return err
		}
		defer term.Close()
		if !cfg.Yes {
			rv = term
		}
		if cfg.Human {
			h, err := term.askProfile()
			if err != nil {
				return err
			}
			scfg.Human = &h
			scfg.HumanResponder = responder.NewHuman(term.Answer)
		}
	}

	fmt.Printf("📋 %s\n", sc.Topic)
	m := study.New(g, b, store, scfg)
	rep, err := m.Drive(ctx, rv)
	if err != nil {
		status := "failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, errInterrupted) {
			status = "cancelled"
		}
		m.Close(status)
		disp.Abort()
		printUsage(rep)
		printFailures(os.Stdout, fails.Stop())
		return fmt.Errorf("study %s in state %s: %w", rep.SessionID, rep.State, err)
	}
	m.Close("completed")

	path, err := export.Write(cfg.OutDir, rep)
	if err != nil {
		return err
	}
	stopDisp()
	<-dispDone
	fmt.Printf("\n📚 catalog written to %s\n", path)
	if p := scfg.Runs.Path(rep.SessionID); p != "" {
		fmt.Printf("🧾 run log: %s\n", p)
	}
	printUsage(rep)
	printFailures(os.Stdout, fails.Stop())
	return nil
}

// setupLogging sends the log package to the debug log file unless verbose.
func setupLogging(cfg Config) (func(), error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.Verbose {
		log.SetOutput(os.Stderr)
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DebugLog), 0o755); err != nil {
		return nil, fmt.Errorf("debug log: %w", err)
	}
	f, err := os.OpenFile(cfg.DebugLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("debug log: %w", err)
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}

// tier is a completer that can report its own configuration errors.
type tier interface {
	gateway.Completer
	Validate() error
	Label() string
}

func newTier(backend, prefix string) tier {
	if backend == backendResponses {
		return llm.NewResponsesTier(prefix)
	}
	return llm.NewTier(prefix)
}

// buildGateway binds one tier per generation role and reports every
// misconfigured tier at once.
func buildGateway(cfg Config) (*gateway.Gateway, error) {
	opts := []gateway.Option{gateway.WithTimeout(cfg.CallTimeout)}
	var problems []string
	for _, role := range types.GenerationRoles {
		t := newTier(cfg.Backend, roleTiers[role])
		if err := t.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		log.Printf("[MAIN] role=%s tier=%s backend=%s", role, t.Label(), cfg.Backend)
		opts = append(opts, gateway.WithCompleter(role, t))
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("model configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return gateway.New(newTier(cfg.Backend, ""), nil, opts...), nil
}

func printUsage(rep study.Report) {
	fmt.Printf("📊 usage: %d input + %d output = %d units\n", rep.Usage.Input, rep.Usage.Output, rep.Usage.Sum())
	for _, s := range rep.RoleStats {
		fmt.Printf("   %-18s calls=%-3d failures=%-2d in=%-6d out=%d\n", s.Role, s.Calls, s.Failures, s.Input, s.Output)
	}
}
