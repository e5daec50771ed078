package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/roach88/docsession/internal/queryir"
	"github.com/roach88/docsession/internal/querylang"
)

// ShellOptions holds flags for the shell command.
type ShellOptions struct {
	*RootOptions
	History string // history file, empty to disable
}

// LineReader reads one line of input per call. *liner.State implements it.
type LineReader interface {
	Prompt(prompt string) (string, error)
}

const shellPrompt = "docsession> "

const shellHelp = `Enter query text to run it, or a command:
  :param name=value   bind a parameter for later queries
  :params             list bound parameters
  :clear              remove all bound parameters
  :load <id>...       load documents by id
  :collections        list collections
  :help               show this help
  :quit               leave the shell`

// NewShellCommand creates the shell command.
func NewShellCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShellOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive query shell",
		Long: `Run raw queries interactively. Each statement runs in its own session.

Parameters bound with :param are passed to every query that references
them.

Example:
  docsession shell --db ./demo.db
  docsession shell --history ~/.docsession_history`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			if opts.History != "" {
				if f, err := os.Open(opts.History); err == nil {
					_, _ = line.ReadHistory(f)
					f.Close()
				}
				defer saveHistory(line, opts.History)
			}

			return runShell(commandContext(cmd), opts, &historyReader{line}, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.History, "history", "", "history file")

	return cmd
}

// historyReader records every non-empty line in the liner history.
type historyReader struct {
	state *liner.State
}

func (h *historyReader) Prompt(prompt string) (string, error) {
	input, err := h.state.Prompt(prompt)
	if err == nil && strings.TrimSpace(input) != "" {
		h.state.AppendHistory(input)
	}
	return input, err
}

func saveHistory(line *liner.State, path string) {
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}

func runShell(ctx context.Context, opts *ShellOptions, in LineReader, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	e, err := opts.openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	sh := &shell{env: e, out: out, params: make(map[string]any)}
	for {
		input, err := in.Prompt(shellPrompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return nil
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read input", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if quit := sh.exec(ctx, input); quit {
			return nil
		}
	}
}

type shell struct {
	env    *env
	out    *OutputFormatter
	params map[string]any
}

// exec runs one line of input. Failures are reported and the shell goes
// on.
func (sh *shell) exec(ctx context.Context, input string) (quit bool) {
	if !strings.HasPrefix(input, ":") {
		sh.report(sh.query(ctx, input))
		return false
	}

	command, rest, _ := strings.Cut(input, " ")
	args := strings.Fields(rest)
	switch command {
	case ":quit", ":exit", ":q":
		return true
	case ":help":
		fmt.Fprintln(sh.out.Writer, shellHelp)
	case ":param":
		bound, err := parseParams([]string{strings.TrimSpace(rest)})
		if err != nil {
			sh.report(fmt.Errorf("usage: :param name=value"))
			return false
		}
		maps.Copy(sh.params, bound)
	case ":params":
		for _, name := range slices.Sorted(maps.Keys(sh.params)) {
			fmt.Fprintf(sh.out.Writer, "$%s = %v\n", name, sh.params[name])
		}
	case ":clear":
		clear(sh.params)
	case ":load":
		if len(args) == 0 {
			sh.report(fmt.Errorf("usage: :load <id>..."))
			return false
		}
		s := sh.env.docs.OpenSession()
		defer s.Close()
		docs, err := loadDocuments(ctx, s, args)
		if err == nil {
			err = sh.out.Success(docs)
		}
		sh.report(err)
	case ":collections":
		stats, err := listCollections(ctx, sh.env)
		if err == nil {
			err = sh.out.Success(stats)
		}
		sh.report(err)
	default:
		sh.report(fmt.Errorf("unknown command %s (try :help)", command))
	}
	return false
}

// query runs text with the bound parameters it references.
func (sh *shell) query(ctx context.Context, text string) error {
	params := make(map[string]any)
	if parsed, err := querylang.Parse(text); err == nil {
		for _, name := range queryir.ParamNames(parsed) {
			if v, ok := sh.params[name]; ok {
				params[name] = v
			}
		}
	}

	s := sh.env.docs.OpenSession()
	defer s.Close()

	docs, err := runRawQuery(ctx, s, text, params)
	if err != nil {
		return err
	}
	return sh.out.Success(docs)
}

func (sh *shell) report(err error) {
	if err != nil {
		_ = sh.out.Fail("", err)
	}
}
