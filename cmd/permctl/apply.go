package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/asakaida/permatrix/internal/script"
	"github.com/asakaida/permatrix/internal/services/matrix"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	applyYes    bool
	applyDryRun bool
	applyShow   bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <script.yaml>",
	Short: "Apply an edit script and save the changed permissions",
	Long: `Load the selection of an edit script, replay its operations and save
every changed permission.

The save asks for confirmation with a summary of the changed object, field
and record type permissions unless --yes is given. Records that fail to save
are listed with their error; the command then exits with status 1.`,
	Args: cobra.ExactArgs(1),
	Run:  runApply,
}

func init() {
	applyCmd.Flags().BoolVarP(&applyYes, "yes", "y", false, "Save without asking for confirmation")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Show the changed rows without saving")
	applyCmd.Flags().BoolVar(&applyShow, "show", false, "Show the changed rows before saving")
}

func runApply(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := script.Load(args[0])
	if err != nil {
		fatal("Failed to load script: %v", err)
	}

	svc := be.service()
	engine, err := svc.Open(ctx, s.ServiceSelection())
	if err != nil {
		fatal("Failed to load permissions: %v", err)
	}

	res, err := s.Apply(engine)
	if err != nil {
		fatal("Failed to apply script: %v", err)
	}
	summary := engine.Summary()
	printf(cmd, "applied %d operation(s): %s\n", res.Applied, summaryLine(summary))

	if applyShow || applyDryRun {
		var renderErr error
		engine.View(func(st *matrix.Store) {
			renderErr = renderMatrix(out, st, matrix.DirtyOnlyFilter{})
		})
		if renderErr != nil {
			fatal("Failed to render matrix: %v", renderErr)
		}
	}
	if applyDryRun {
		return
	}

	report, err := engine.Save(ctx, newConfirmer(applyYes, os.Stdin, out, term.IsTerminal(int(os.Stdin.Fd()))))
	switch {
	case errors.Is(err, matrix.ErrNothingToSave):
		printf(cmd, "nothing to save\n")
		return
	case errors.Is(err, matrix.ErrSaveDeclined):
		printf(cmd, "save declined, nothing was saved\n")
		return
	case err != nil:
		fatal("Failed to save: %v", err)
	}

	if err := renderReport(out, report); err != nil {
		fatal("Failed to render report: %v", err)
	}
	if report.Failed() > 0 {
		engine.View(func(st *matrix.Store) {
			err = renderErrors(out, st)
		})
		if err != nil {
			fatal("Failed to render errors: %v", err)
		}
		fatal("%d record(s) failed to save", report.Failed())
	}
}

// newConfirmer confirms automatically with yes, asks on interactive input and
// declines otherwise
func newConfirmer(yes bool, in io.Reader, out io.Writer, interactive bool) matrix.Confirmer {
	return matrix.ConfirmFunc(func(ctx context.Context, summary *matrix.Summary) (bool, error) {
		if yes {
			return true, nil
		}
		if !interactive {
			fmt.Fprintln(out, "refusing to save without a terminal, use --yes")
			return false, nil
		}

		fmt.Fprintf(out, "Save %s? [y/N] ", summaryLine(summary))
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("failed to read confirmation: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	})
}
