// Command litcritic is the editorial review CLI.
//
// Usage:
//
//	litcritic analyze --scene scenes/ch01.md --project ./my-novel
//	litcritic resume --project ./my-novel
//	litcritic sessions list --project ./my-novel
//	litcritic serve --listen :8080
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"litcritic"
	"litcritic/pkg/config"
	"litcritic/pkg/learning"
	"litcritic/pkg/llms"
	"litcritic/pkg/logger"
	"litcritic/pkg/observability"
	"litcritic/pkg/platform"
	"litcritic/pkg/review"
	"litcritic/pkg/service"
	"litcritic/pkg/store"
)

// CLI defines the command-line interface.
type CLI struct {
	Analyze  AnalyzeCmd  `cmd:"" help:"Run a full analysis pass and review the findings interactively."`
	Resume   ResumeCmd   `cmd:"" help:"Resume the most recent active session."`
	Sessions SessionsCmd `cmd:"" help:"List, inspect, export, or delete review sessions."`
	Learning LearningCmd `cmd:"" help:"View, export, or reset the project's learning memory."`
	Serve    ServeCmd    `cmd:"" help:"Run the stateless core as an HTTP service."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Project   string `short:"p" help:"Project directory (must contain CANON.md)." type:"path" default:"."`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
	Debug     bool   `help:"Shorthand for --log-level=debug."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("litcritic"),
		kong.Description("lit-critic - multi-lens editorial review for fiction manuscripts"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func initLogger(cli *CLI) (func(), error) {
	levelStr := cli.LogLevel
	if cli.Debug {
		levelStr = "debug"
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFile
	}
	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// buildCore assembles the in-process engine: the model registry, the
// optional discovery refresh loop, and the engine itself.
func buildCore(ctx context.Context, cfg *config.UserConfig) service.Core {
	registry := llms.NewRegistry()
	if cfg.Discovery.Enabled {
		llms.NewDiscovery(registry, cfg.Discovery).Start(ctx)
	}
	return service.NewEngine(registry)
}

// loadUserConfig loads .env files and the user config.
func loadUserConfig() (*config.UserConfig, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	return config.Load()
}

// resolveProject validates the project directory, prompting for a corrected
// path up to three times on preflight failure.
func resolveProject(path string, in *bufio.Reader) (string, error) {
	const retries = 3
	for attempt := 0; ; attempt++ {
		err := platform.Preflight(path)
		if err == nil {
			return path, nil
		}
		if attempt >= retries {
			return "", err
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fmt.Fprint(os.Stderr, "Project directory: ")
		line, readErr := in.ReadString('\n')
		if readErr != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return "", err
		}
		path = line
	}
}

// openProject wires a validated project directory into a platform: store,
// core, learning.
func openProject(ctx context.Context, cli *CLI, in *bufio.Reader) (*platform.Platform, *config.UserConfig, error) {
	cfg, err := loadUserConfig()
	if err != nil {
		return nil, nil, err
	}
	dir, err := resolveProject(cli.Project, in)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open("", filepath.Join(dir, cfg.DatabaseFile))
	if err != nil {
		return nil, nil, err
	}
	p, err := platform.New(ctx, dir, buildCore(ctx, cfg), st, cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return p, cfg, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(litcritic.GetVersion().String())
	return nil
}

// ServeCmd runs the stateless core over HTTP.
type ServeCmd struct {
	Listen  string `help:"Listen address (host:port)." placeholder:"ADDR"`
	Observe bool   `help:"Enable observability (Prometheus metrics + OTLP tracing)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadUserConfig()
	if err != nil {
		return err
	}
	listen := c.Listen
	if listen == "" {
		listen = cfg.Listen
	}

	if c.Observe {
		manager := observability.NewManager(observability.Config{
			Tracing: observability.TracerConfig{Enabled: true},
			Metrics: observability.MetricsConfig{Enabled: true},
		})
		if err := manager.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = manager.Shutdown(shutdownCtx)
		}()
	}

	srv := service.NewServer(buildCore(ctx, cfg), listen)
	go func() {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = srv.Stop(stopCtx)
	}()

	fmt.Printf("lit-critic core service on %s\n", listen)
	fmt.Println("  POST /v1/analyze")
	fmt.Println("  POST /v1/discuss")
	fmt.Println("  POST /v1/re-evaluate-finding")
	fmt.Println("\nPress Ctrl+C to stop")
	return srv.Start(ctx)
}

// SessionsCmd groups session management subcommands.
type SessionsCmd struct {
	List   SessionsListCmd   `cmd:"" help:"List all sessions, newest first."`
	View   SessionsViewCmd   `cmd:"" help:"Show one session with its findings."`
	Delete SessionsDeleteCmd `cmd:"" help:"Delete a session and its findings."`
	Export SessionsExportCmd `cmd:"" help:"Export a session report as a spreadsheet."`
}

func openStore(cli *CLI) (*store.Store, error) {
	cfg, err := loadUserConfig()
	if err != nil {
		return nil, err
	}
	if err := platform.Preflight(cli.Project); err != nil {
		return nil, err
	}
	return store.Open("", filepath.Join(cli.Project, cfg.DatabaseFile))
}

// SessionsListCmd lists sessions.
type SessionsListCmd struct{}

func (c *SessionsListCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	summaries, err := st.ListSessions(context.Background())
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%s  %-9s  %s  %d findings (%d/%d/%d)  %s\n",
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.Status,
			shortID(s.ID),
			s.TotalFindings, s.AcceptedCount, s.RejectedCount, s.WithdrawnCount,
			strings.Join(s.ScenePaths, ", "))
	}
	return nil
}

// SessionsViewCmd shows one session.
type SessionsViewCmd struct {
	ID string `arg:"" help:"Session id (or unique prefix)."`
}

func (c *SessionsViewCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sess, err := loadByPrefix(ctx, st, c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%s)\n", sess.ID, sess.Status)
	fmt.Printf("Scenes:  %s\n", strings.Join(sess.ScenePaths, ", "))
	fmt.Printf("Model:   %s\n", sess.Model)
	fmt.Printf("Started: %s\n", sess.CreatedAt.Local().Format(time.RFC1123))
	if sess.CompletedAt != nil {
		fmt.Printf("Done:    %s\n", sess.CompletedAt.Local().Format(time.RFC1123))
	}
	fmt.Printf("Findings: %d total, %d accepted, %d rejected, %d withdrawn\n\n",
		sess.TotalFindings, sess.AcceptedCount, sess.RejectedCount, sess.WithdrawnCount)
	for _, f := range sess.Findings {
		fmt.Println(findingLine(f))
	}
	return nil
}

// SessionsDeleteCmd deletes a session.
type SessionsDeleteCmd struct {
	ID string `arg:"" help:"Session id (or unique prefix)."`
}

func (c *SessionsDeleteCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sess, err := loadByPrefix(ctx, st, c.ID)
	if err != nil {
		return err
	}
	if err := st.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s.\n", sess.ID)
	return nil
}

// SessionsExportCmd writes a spreadsheet report.
type SessionsExportCmd struct {
	ID  string `arg:"" help:"Session id (or unique prefix)."`
	Out string `short:"o" help:"Output path." type:"path"`
}

func (c *SessionsExportCmd) Run(cli *CLI) error {
	st, err := openStore(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := loadByPrefix(context.Background(), st, c.ID)
	if err != nil {
		return err
	}
	out := c.Out
	if out == "" {
		out = fmt.Sprintf("lit-critic-%s.xlsx", shortID(sess.ID))
	}
	if err := platform.ExportSessionReport(sess, out); err != nil {
		return err
	}
	fmt.Printf("Wrote %s.\n", out)
	return nil
}

// loadByPrefix resolves a session id that may be a unique prefix of the
// stored uuid.
func loadByPrefix(ctx context.Context, st *store.Store, id string) (*review.Session, error) {
	sess, err := st.LoadSession(ctx, id)
	if err == nil {
		return sess, nil
	}

	summaries, listErr := st.ListSessions(ctx)
	if listErr != nil {
		return nil, err
	}
	match := ""
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, id) {
			if match != "" {
				return nil, fmt.Errorf("session id prefix '%s' is ambiguous", id)
			}
			match = s.ID
		}
	}
	if match == "" {
		return nil, err
	}
	return st.LoadSession(ctx, match)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// LearningCmd groups learning memory subcommands.
type LearningCmd struct {
	View   LearningViewCmd   `cmd:"" help:"Print the learning memory."`
	Export LearningExportCmd `cmd:"" help:"Write LEARNING.md to the project directory."`
	Reset  LearningResetCmd  `cmd:"" help:"Delete all learning for the project."`
}

func loadLearning(cli *CLI) (*store.Store, *learning.Learning, error) {
	st, err := openStore(cli)
	if err != nil {
		return nil, nil, err
	}
	name := cli.Project
	if abs, aerr := filepath.Abs(name); aerr == nil {
		name = abs
	}
	l, err := st.LoadLearning(context.Background(), filepath.Base(name))
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, l, nil
}

// LearningViewCmd prints the learning state.
type LearningViewCmd struct{}

func (c *LearningViewCmd) Run(cli *CLI) error {
	st, l, err := loadLearning(cli)
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Print(learning.ExportMarkdown(l))
	return nil
}

// LearningExportCmd writes LEARNING.md.
type LearningExportCmd struct{}

func (c *LearningExportCmd) Run(cli *CLI) error {
	st, l, err := loadLearning(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	path := filepath.Join(cli.Project, platform.LearningFile)
	if err := os.WriteFile(path, []byte(learning.ExportMarkdown(l)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", platform.LearningFile, err)
	}
	fmt.Printf("Wrote %s.\n", path)
	return nil
}

// LearningResetCmd wipes the learning tables.
type LearningResetCmd struct {
	Force bool `help:"Skip the confirmation prompt."`
}

func (c *LearningResetCmd) Run(cli *CLI) error {
	st, l, err := loadLearning(cli)
	if err != nil {
		return err
	}
	defer st.Close()

	if !c.Force {
		fmt.Printf("This deletes %d learning entries and resets the review count. Type 'yes' to continue: ",
			l.TotalEntries())
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}
	if err := st.ResetLearning(context.Background()); err != nil {
		return err
	}
	fmt.Println("Learning reset.")
	return nil
}
