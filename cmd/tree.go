package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
	"github.com/Varun-Patkar/RebirthRealm/internal/timeline"
)

var exportOutput string

var timelineCmd = &cobra.Command{
	Use:   "timeline <saga-id>",
	Short: "Print the branching timeline of a saga",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		scope := models.Scope{SagaID: args[0]}
		saga, err := a.engine.GetSaga(cmd.Context(), "", args[0])
		if err != nil {
			return err
		}
		forest, err := a.engine.Timeline(cmd.Context(), scope)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s, %d chapters)\n", saga.Title, saga.WorldName, saga.TotalChapters)
		for _, root := range forest {
			printBranch(out, root)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <saga-id> <node-id>",
	Short: "Export the branch ending at a chapter as a PDF",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		output := exportOutput
		if output == "" {
			output = fmt.Sprintf("branch-%s.pdf", args[1])
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer f.Close()

		if err := a.engine.ExportBranch(cmd.Context(), models.Scope{SagaID: args[0]}, args[1], f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default branch-<node-id>.pdf)")
}

func printBranch(w io.Writer, b *timeline.Branch) {
	n := b.Node
	label := n.Summary
	switch {
	case n.Status.Terminal():
		label = fmt.Sprintf("[%s] %s", n.Status, n.EndReason)
	case n.UserDecision != "":
		label = fmt.Sprintf("%q -> %s", n.UserDecision, n.Summary)
	}
	fmt.Fprintf(w, "%sch.%d %s  %s\n", strings.Repeat("  ", b.Level), n.ChapterNumber, n.ID, label)
	for _, child := range b.Children {
		printBranch(w, child)
	}
}
