package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"planforge/pkg/config"
	"planforge/pkg/plan"
	"planforge/pkg/session"
)

// defaultAnswer is recorded for questions left unanswered in --yes mode.
const defaultAnswer = "No preference."

var (
	runPrompt    string
	runOutputDir string
	runDryRun    bool
	runYes       bool
)

func init() {
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "project pitch; asked interactively when omitted")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "base directory for generated repositories")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "plan only; skip repository scaffolding")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "accept the first plan without review")
}

// runCmd drives one planning session in the terminal.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and scaffold a project interactively",
	Long: `Plan and scaffold a project interactively.

planforge asks the model for clarifying questions, prompts for answers,
shows the drafted plan, and applies revision notes (separate items with ';')
until the plan is approved. The approved plan is scaffolded under the output
directory.

Examples:
  # Fully interactive
  planforge run

  # Non-interactive, plan only
  planforge run --prompt "a cozy farming sim" --yes --dry-run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if !interactive && (strings.TrimSpace(runPrompt) == "" || !runYes) {
		return errors.New("stdin is not a terminal: pass --prompt and --yes to run unattended")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runOutputDir != "" {
		cfg.Scaffold.OutputRoot = runOutputDir
	}
	if runDryRun {
		cfg.Scaffold.DryRun = true
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := newPlanner(a.orch, cmd.InOrStdin(), cmd.OutOrStdout(), runYes, cfg.Scaffold.DryRun)
	_, err = p.run(ctx, runPrompt)
	return err
}

// planner is the terminal conversation loop over an Orchestrator.
type planner struct {
	orch   *session.Orchestrator
	in     *bufio.Reader
	out    io.Writer
	yes    bool
	dryRun bool
}

func newPlanner(orch *session.Orchestrator, in io.Reader, out io.Writer, yes, dryRun bool) *planner {
	return &planner{orch: orch, in: bufio.NewReader(in), out: out, yes: yes, dryRun: dryRun}
}

// run takes pitch (prompting for it when empty) through to an approved
// session.
func (p *planner) run(ctx context.Context, pitch string) (session.Session, error) {
	p.printf("planforge: project planner\n\n")

	pitch = strings.TrimSpace(pitch)
	if pitch == "" {
		var err error
		if pitch, err = p.prompt("Describe the project you want to create"); err != nil {
			return session.Session{}, err
		}
	}

	sess, err := p.orch.Create(ctx, pitch)
	if err != nil {
		return sess, err
	}

	answers := make([]string, 0, len(sess.Clarifications))
	for _, q := range sess.Clarifications {
		answer, promptErr := p.prompt(q)
		if promptErr != nil && !errors.Is(promptErr, io.EOF) {
			return sess, promptErr
		}
		if answer == "" && p.yes {
			answer = defaultAnswer
		}
		answers = append(answers, answer)
	}

	sess, err = p.orch.SubmitAnswers(ctx, sess.ID, answers)
	if err != nil {
		return sess, err
	}
	p.printf("%s\n\n", sess.LastAcknowledgement)

	if sess, err = p.review(ctx, sess); err != nil {
		return sess, err
	}

	sess, err = p.orch.Approve(ctx, sess.ID)
	if err != nil {
		return sess, err
	}
	if p.dryRun {
		p.printf("Dry-run enabled; repository scaffolding skipped (would write %s).\n", sess.RepoPath)
	} else {
		p.printf("Repository ready at: %s\n", sess.RepoPath)
	}
	return sess, nil
}

// review shows the plan and applies revision notes until the user accepts it.
func (p *planner) review(ctx context.Context, sess session.Session) (session.Session, error) {
	for {
		if err := p.showPlan(sess.Plan); err != nil {
			return sess, err
		}
		if p.yes {
			return sess, nil
		}

		ok, err := p.confirm("Does this plan look complete?")
		if err != nil || ok {
			return sess, err
		}

		update, err := p.prompt("Describe the adjustments needed (separate items with ';')")
		if err != nil && !errors.Is(err, io.EOF) {
			return sess, err
		}
		notes := splitNotes(update)
		if len(notes) == 0 {
			p.printf("No actionable feedback captured; assuming approval.\n")
			return sess, nil
		}

		revised, err := p.orch.SubmitRevision(ctx, sess.ID, notes)
		if err != nil {
			if session.KindOf(err) != session.KindCollaborator {
				return sess, err
			}
			p.printf("Revision failed, the plan is unchanged: %v\n", err)
			continue
		}
		sess = revised
		p.printf("%s\n\n", sess.LastAcknowledgement)
	}
}

func (p *planner) showPlan(pl *plan.Plan) error {
	if pl == nil {
		return errors.New("session has no plan")
	}
	data, err := yaml.Marshal(pl)
	if err != nil {
		return fmt.Errorf("failed to render plan: %w", err)
	}
	p.printf("---\n%s\n", data)
	return nil
}

func (p *planner) prompt(message string) (string, error) {
	p.printf("%s: ", message)
	line, err := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return line, err
	}
	return line, nil
}

// confirm defaults to yes on an empty line or end of input.
func (p *planner) confirm(message string) (bool, error) {
	answer, err := p.prompt(message + " [Y/n]")
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *planner) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// splitNotes splits a ';'-separated line into trimmed, non-empty notes.
func splitNotes(line string) []string {
	var notes []string
	for _, item := range strings.Split(line, ";") {
		if item = strings.TrimSpace(item); item != "" {
			notes = append(notes, item)
		}
	}
	return notes
}
