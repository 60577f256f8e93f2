package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const (
	prompt     = "novadb> "
	contPrompt = "   ...> "
)

type replFlags struct {
	histPath string
	histMax  int
}

func (c *Cmd) getReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive shell",
		Long: `Start an interactive shell. Statements end with ';' and may span
several lines. Type \help for meta commands.`,
		Args: cobra.NoArgs,
		RunE: c.execRepl,
	}
	cmd.Flags().StringVar(&c.replFlags.histPath, "history", defaultHistoryPath(), "history file path")
	cmd.Flags().IntVar(&c.replFlags.histMax, "history-max", 2000, "max history lines loaded into memory")
	return cmd
}

func (c *Cmd) execRepl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cli, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	h := NewHistory(c.replFlags.histPath)
	if err := h.Load(c.replFlags.histMax); err != nil {
		c.log.Warn("failed to load history", "path", c.replFlags.histPath, "err", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for _, line := range h.Lines() {
		_ = rl.SaveHistory(line)
	}

	out := rl.Stdout()
	fmt.Fprintf(out, "connected (%s)\n", cli.Driver())
	fmt.Fprintln(out, `type \help for help`)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			// Ctrl+C clears the pending statement.
			if buf.Len() > 0 {
				buf.Reset()
				rl.SetPrompt(prompt)
			}
			continue
		}
		if err != nil {
			return nil
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if buf.Len() == 0 && isMetaCommand(trimmed) {
			if quit := c.meta(ctx, out, h, cli.Ping, trimmed); quit {
				return nil
			}
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
		if !statementComplete(buf.String()) {
			rl.SetPrompt(contPrompt)
			continue
		}

		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		rl.SetPrompt(prompt)

		if err := h.Append(stmt); err != nil {
			c.log.Warn("failed to save history", "err", err)
		}
		_ = rl.SaveHistory(compactOneLine(stmt))

		results, err := cli.Exec(ctx, stmt)
		printResults(out, results)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// meta runs a backslash command and reports whether the shell should exit.
func (c *Cmd) meta(ctx context.Context, w io.Writer, h *History, ping func(ctx context.Context) error, line string) bool {
	switch line {
	case `\q`, "quit", "exit":
		return true
	case `\help`:
		fmt.Fprintln(w, `meta commands:
  \q | quit | exit       quit
  \history               print history
  \ping                  check the connection
  \help                  show help

sql:
  end statements with ';'
  multiline is supported (the shell waits until ';')`)
	case `\history`:
		h.Print(w, 50)
	case `\ping`:
		if err := ping(ctx); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		} else {
			fmt.Fprintln(w, "ok")
		}
	default:
		fmt.Fprintf(w, "unknown command: %s\n", line)
	}
	return false
}

func isMetaCommand(line string) bool {
	return strings.HasPrefix(line, `\`) || line == "quit" || line == "exit"
}

// statementComplete reports whether buf ends a statement: its last
// significant character is a ';' outside quotes and comments.
func statementComplete(buf string) bool {
	var (
		quote    rune
		comment  bool
		complete bool
		saved    bool
		prev     rune
	)
	for _, r := range buf {
		switch {
		case comment:
			if r == '\n' {
				comment = false
			}
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			complete = false
		case r == '-':
			if prev == '-' {
				comment = true
				complete = saved
			} else {
				saved = complete
				complete = false
			}
		case r == ';':
			complete = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
		default:
			complete = false
		}
		prev = r
	}
	return complete && quote == 0
}
