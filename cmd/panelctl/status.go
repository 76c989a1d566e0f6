package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/panel-one/internal/api/dto"
	"github.com/cuongbtq/panel-one/internal/domain"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status <job_id>",
		Aliases: []string{"st"},
		Short:   "Shows the current status of a job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := root.client().Status(cmd.Context(), args[0])
			if err != nil {
				return fail(err)
			}
			printStatus(resp)
			return nil
		},
	}
}

func printStatus(resp dto.JobResponse) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	statusColor := warnColor
	switch resp.Status {
	case domain.StatusCompleted.String():
		statusColor = goodColor
	case domain.StatusFailed.String():
		statusColor = badColor
	}

	fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("Job:"), resp.JobID)
	fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("Status:"), statusColor.Sprint(resp.Status))
	fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("Stage:"), describeStatus(resp.Status))
	if resp.ResultURL != "" {
		fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("Result:"), resp.ResultURL)
	}
	if resp.ErrorMessage != "" {
		fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("Error:"), resp.ErrorMessage)
	}
}
