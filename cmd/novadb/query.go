package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tuannm99/novadb/internal/resultset"
)

func (c *Cmd) getQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute one query string and exit",
		Long: `Execute one query string and exit. Several statements separated by
';' run in order. Without an argument the query is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.execQuery,
	}
}

func (c *Cmd) execQuery(cmd *cobra.Command, args []string) error {
	var sql string
	if len(args) == 1 {
		sql = args[0]
	} else {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		sql = string(b)
	}
	if strings.TrimSpace(sql) == "" {
		return errors.New("empty query")
	}

	ctx := cmd.Context()
	cli, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	results, err := cli.Exec(ctx, sql)
	printResults(cmd.OutOrStdout(), results)
	return err
}

func printResults(w io.Writer, results []*resultset.Result) {
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		resultset.Print(w, res)
	}
}
