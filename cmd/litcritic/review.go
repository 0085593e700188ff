package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"litcritic/pkg/platform"
	"litcritic/pkg/review"
	"litcritic/pkg/scenediff"
	"litcritic/pkg/service"
)

// AnalyzeCmd runs a full analysis pass and drops into the review loop.
type AnalyzeCmd struct {
	Scene           []string           `help:"Scene file(s) to review (.md, .txt, .docx, .pdf)." type:"path" required:""`
	Model           string             `help:"Analysis model (short name or full id)."`
	DiscussionModel string             `name:"discussion-model" help:"Model for discussion turns (defaults to the analysis model)."`
	LensPreset      string             `name:"lens-preset" help:"Lens weight preset (balanced, prose-first, story-logic, clarity-pass, auto)."`
	LensWeight      map[string]float64 `name:"lens-weight" help:"Per-lens weight override, e.g. --lens-weight prose=2.0." mapsep:","`
	MaxTokens       int                `name:"max-tokens" help:"Max output tokens per model call."`
	NoStream        bool               `name:"no-stream" help:"Disable streaming discussion replies."`
}

func (c *AnalyzeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	in := bufio.NewReader(os.Stdin)

	p, cfg, err := openProject(ctx, cli, in)
	if err != nil {
		return err
	}
	defer p.Store().Close()

	preset := c.LensPreset
	if preset == "" {
		preset = cfg.LensPreset
	}
	weights := c.LensWeight
	if weights == nil {
		weights = cfg.LensWeights
	}
	discussionModel := c.DiscussionModel
	if discussionModel == "" {
		discussionModel = cfg.DiscussionModel
	}

	fmt.Printf("Analyzing %s...\n", strings.Join(c.Scene, ", "))
	sess, resp, err := p.StartSession(ctx, platform.StartOptions{
		ScenePaths:      c.Scene,
		Model:           c.Model,
		DiscussionModel: discussionModel,
		LensPreset:      preset,
		LensWeights:     weights,
		MaxTokens:       c.MaxTokens,
	})
	if err != nil {
		return err
	}

	printAnalysisSummary(sess, resp)
	return runReviewLoop(ctx, p, in, !c.NoStream)
}

// ResumeCmd reattaches the most recent active session.
type ResumeCmd struct {
	NoStream bool `name:"no-stream" help:"Disable streaming discussion replies."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	in := bufio.NewReader(os.Stdin)

	p, _, err := openProject(ctx, cli, in)
	if err != nil {
		return err
	}
	defer p.Store().Close()

	sess, recheck, err := p.Resume(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Resumed session %s: %d findings, %d remaining.\n",
		shortID(sess.ID), sess.TotalFindings, remaining(sess))

	if recheck != nil && recheck.Prompt {
		fmt.Printf("Index files changed since analysis: %s\n", strings.Join(recheck.Changed, ", "))
		fmt.Print("Re-run analysis over the updated indexes? [y/N] ")
		line, _ := in.ReadString('\n')
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			return c.reRun(ctx, p, in, sess)
		}
		fmt.Println("Continuing with the existing findings.")
	}
	return runReviewLoop(ctx, p, in, !c.NoStream)
}

// reRun abandons the stale session and starts a fresh analysis over the same
// scenes with the same preferences.
func (c *ResumeCmd) reRun(ctx context.Context, p *platform.Platform, in *bufio.Reader, old *review.Session) error {
	opts := platform.StartOptions{
		ScenePaths:      old.ScenePaths,
		Model:           old.Model,
		DiscussionModel: old.DiscussionModel,
	}
	if old.Preferences != nil {
		opts.LensPreset = old.Preferences.Preset
	}
	if err := p.Abandon(ctx); err != nil {
		return err
	}

	fmt.Printf("Re-analyzing %s...\n", strings.Join(opts.ScenePaths, ", "))
	sess, resp, err := p.StartSession(ctx, opts)
	if err != nil {
		return err
	}
	printAnalysisSummary(sess, resp)
	return runReviewLoop(ctx, p, in, !c.NoStream)
}

// runReviewLoop drives the interactive stdin loop until the session
// completes or the author quits. An index watcher feeds staleness re-checks
// between prompts.
func runReviewLoop(ctx context.Context, p *platform.Platform, in *bufio.Reader, stream bool) error {
	var indexChanges <-chan struct{}
	if w, err := platform.NewIndexWatcher(p.ProjectDir()); err == nil {
		if ch, werr := w.Watch(ctx); werr == nil {
			indexChanges = ch
			defer w.Close()
		}
	}

	lastShown := -1
	for {
		if ctx.Err() != nil {
			fmt.Println("\nInterrupted; session saved. Run 'litcritic resume' to continue.")
			return nil
		}
		drainIndexChanges(ctx, p, indexChanges)

		sess := p.Session()
		if sess == nil {
			return nil
		}
		if sess.Status == review.SessionCompleted {
			printCompletion(sess)
			return nil
		}
		f := sess.CurrentFinding()
		if f == nil {
			// Cursor past the end with unresolved findings left: jump back.
			if err := p.Advance(ctx); err != nil {
				return err
			}
			continue
		}
		if sess.CurrentIndex != lastShown {
			printFinding(sess, f)
			lastShown = sess.CurrentIndex
		}

		fmt.Printf("[%d/%d] > ", sess.CurrentIndex+1, sess.TotalFindings)
		line, err := in.ReadString('\n')
		if err == io.EOF {
			fmt.Println("\nSession saved. Run 'litcritic resume' to continue.")
			return nil
		}
		if err != nil {
			return err
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)
		switch strings.ToLower(cmd) {
		case "":
			continue
		case "accept", "a":
			report, err := p.AcceptCurrent(ctx)
			printChangeReport(report)
			if err != nil {
				return err
			}
			lastShown = -1
		case "reject", "r":
			reason := arg
			if reason == "" {
				fmt.Print("Reason: ")
				raw, rerr := in.ReadString('\n')
				if rerr != nil {
					return rerr
				}
				reason = strings.TrimSpace(raw)
			}
			if reason == "" {
				fmt.Println("A rejection needs a reason; it feeds the learning memory.")
				continue
			}
			report, err := p.RejectCurrent(ctx, reason)
			printChangeReport(report)
			if err != nil {
				return err
			}
			lastShown = -1
		case "discuss", "d":
			if arg == "" {
				fmt.Println("Usage: discuss <message>")
				continue
			}
			if err := discuss(ctx, p, arg, stream); err != nil {
				fmt.Fprintf(os.Stderr, "Discussion failed: %v\n", err)
				continue
			}
			lastShown = -1
		case "ambiguity":
			switch strings.ToLower(arg) {
			case "intentional":
				if err := p.AnswerAmbiguity(ctx, true); err != nil {
					return err
				}
				fmt.Println("Recorded as intentional ambiguity.")
			case "accidental":
				if err := p.AnswerAmbiguity(ctx, false); err != nil {
					return err
				}
				fmt.Println("Recorded as accidental ambiguity.")
			default:
				fmt.Println("Usage: ambiguity <intentional|accidental>")
			}
		case "next", "n":
			if sess.CurrentIndex+1 < len(sess.Findings) {
				if err := p.GotoIndex(ctx, sess.CurrentIndex+1); err != nil {
					return err
				}
			} else {
				fmt.Println("Already at the last finding.")
			}
		case "prev":
			if sess.CurrentIndex > 0 {
				if err := p.GotoIndex(ctx, sess.CurrentIndex-1); err != nil {
					return err
				}
			} else {
				fmt.Println("Already at the first finding.")
			}
		case "skip-to":
			if arg != review.ChunkStructure && arg != review.ChunkCoherence {
				fmt.Println("Usage: skip-to <structure|coherence>")
				continue
			}
			if _, err := p.SkipToLens(ctx, arg); err != nil {
				fmt.Println(err)
			}
		case "list", "l":
			for _, other := range sess.Findings {
				marker := "  "
				if other.Number == f.Number {
					marker = "> "
				}
				fmt.Println(marker + findingLine(other))
			}
		case "quit", "q", "exit":
			fmt.Println("Session saved. Run 'litcritic resume' to continue.")
			return nil
		case "help", "?":
			printHelp()
		default:
			fmt.Printf("Unknown command '%s'. Type 'help' for commands.\n", cmd)
		}
	}
}

func discuss(ctx context.Context, p *platform.Platform, message string, stream bool) error {
	var resp *service.DiscussResponse
	var err error
	if stream {
		fmt.Println()
		resp, err = p.DiscussCurrentStream(ctx, message, func(token string) {
			fmt.Print(token)
		})
		fmt.Println()
	} else {
		resp, err = p.DiscussCurrent(ctx, message)
		if resp != nil {
			fmt.Printf("\n%s\n", resp.Response)
		}
	}
	if err != nil {
		return err
	}

	switch resp.Action.Type {
	case service.ActionWithdraw:
		fmt.Println("\nThe critic withdrew the finding.")
	case service.ActionRevise:
		fmt.Printf("\nFinding revised: %s\n", resp.ChangeDescription)
	case service.ActionEscalate:
		fmt.Printf("\nFinding escalated: %s\n", resp.ChangeDescription)
	case service.ActionExtractPreference:
		fmt.Printf("\nNoted preference: %s\n", resp.ExtractedPreference)
	}
	if resp.Ambiguity != "" {
		fmt.Printf("The critic reads this ambiguity as %s.\n", resp.Ambiguity)
	}
	return nil
}

// drainIndexChanges runs the staleness re-check when the watcher reported
// edits to the index files.
func drainIndexChanges(ctx context.Context, p *platform.Platform, ch <-chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case _, ok := <-ch:
		if !ok {
			return
		}
	default:
		return
	}

	sess := p.Session()
	if sess == nil {
		return
	}
	recheck, err := platform.ReCheckIndexContext(p.ProjectDir(), sess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Index re-check failed: %v\n", err)
		return
	}
	if _, err := p.Store().Checkpoint(ctx, sess); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save index state: %v\n", err)
	}
	if recheck != nil && recheck.Prompt {
		fmt.Printf("\nNote: index files changed (%s). Findings were raised against the old "+
			"context; re-run 'litcritic analyze' when convenient.\n", strings.Join(recheck.Changed, ", "))
	}
}

func printAnalysisSummary(sess *review.Session, resp *service.AnalyzeResponse) {
	fmt.Printf("\n%d findings (%s preset, model %s).\n",
		sess.TotalFindings, sess.Preferences.Preset, sess.Model)
	for _, w := range resp.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	for _, g := range sess.GlossaryIssues {
		fmt.Printf("Glossary: %s\n", g)
	}
	fmt.Println()
	printHelp()
}

func printFinding(sess *review.Session, f *review.Finding) {
	fmt.Printf("\n--- Finding #%d [%s / %s] ---\n", f.Number, strings.ToUpper(f.Severity), f.Lens)
	if f.Location != "" {
		fmt.Printf("Location: %s", f.Location)
		if f.HasLines() {
			fmt.Printf(" (%s)", lineRangeLabel(f))
		}
		fmt.Println()
	}
	if sess.MultiScene() && f.ScenePath != "" {
		fmt.Printf("Scene:    %s\n", f.ScenePath)
	}
	fmt.Printf("Evidence: %s\n", f.Evidence)
	if f.Impact != "" {
		fmt.Printf("Impact:   %s\n", f.Impact)
	}
	for i, opt := range f.Options {
		fmt.Printf("  %d. %s\n", i+1, opt)
	}
	if len(f.FlaggedBy) > 1 {
		fmt.Printf("Flagged by %s.\n", strings.Join(f.FlaggedBy, ", "))
	}
	if f.Status != review.StatusPending {
		fmt.Printf("Status:   %s\n", f.Status)
	}
}

func findingLine(f *review.Finding) string {
	lines := lineRangeLabel(f)
	if lines != "" {
		lines = " " + lines
	}
	return fmt.Sprintf("#%d [%s/%s]%s %s — %s",
		f.Number, f.Severity, f.Lens, lines, f.Status, truncate(f.Evidence, 60))
}

func lineRangeLabel(f *review.Finding) string {
	if !f.HasLines() {
		return ""
	}
	if *f.LineStart == *f.LineEnd {
		return fmt.Sprintf("L%d", *f.LineStart)
	}
	return fmt.Sprintf("L%d-L%d", *f.LineStart, *f.LineEnd)
}

func printChangeReport(report *scenediff.ChangeReport) {
	if report == nil || !report.Changed {
		return
	}
	fmt.Printf("Scene edited: %d findings remapped, %d stale, %d unanchored.\n",
		report.Adjusted, report.Stale, report.NoLines)
	for _, re := range report.ReEvaluated {
		fmt.Printf("  Finding #%d re-evaluated: %s.\n", re.Number, re.Status)
	}
}

func printCompletion(sess *review.Session) {
	fmt.Printf("\nReview complete: %d findings — %d accepted, %d rejected, %d withdrawn.\n",
		sess.TotalFindings, sess.AcceptedCount, sess.RejectedCount, sess.WithdrawnCount)
	fmt.Printf("Export a report with 'litcritic sessions export %s'.\n", shortID(sess.ID))
}

func printHelp() {
	fmt.Println(`Commands:
  accept              accept the current finding
  reject [reason]     reject it (a reason is required)
  discuss <message>   argue with the critic
  ambiguity <intentional|accidental>
                      classify the flagged ambiguity
  next / prev         move between findings
  skip-to <structure|coherence>
                      jump ahead to the next chunk
  list                show all findings
  quit                save and exit`)
}

func remaining(sess *review.Session) int {
	n := 0
	for _, f := range sess.Findings {
		if !f.IsTerminal() {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
