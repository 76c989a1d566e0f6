package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/panel-one/internal/api/dto"
	"github.com/cuongbtq/panel-one/internal/client"
	"github.com/cuongbtq/panel-one/internal/domain"
)

const resultFileName = "panel_one_result.png"

var stageDescriptions = map[domain.Status]string{
	domain.StatusQueued:           "Waiting for a worker...",
	domain.StatusProcessingImages: "Processing images...",
	domain.StatusGeneratingStory:  "Generating story...",
	domain.StatusGeneratingImage:  "Generating panel image...",
	domain.StatusUploading:        "Uploading result...",
	domain.StatusCompleted:        "Panel ready.",
	domain.StatusFailed:           "Generation failed.",
}

func describeStatus(status string) string {
	if desc, ok := stageDescriptions[domain.Status(status)]; ok {
		return desc
	}
	return status
}

type generateOptions struct {
	dir      string
	out      string
	poll     bool
	deadline time.Duration
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submits the images in a directory and downloads the generated panel",
		Example: `  # Follow progress over the websocket
  panelctl generate --dir ./photos

  # Poll instead and write the panel elsewhere
  panelctl generate --dir ./photos --poll --out ./panel.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if opts.deadline > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.deadline)
				defer cancel()
			}

			return runGenerate(ctx, root.client(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "Directory containing images")
	cmd.Flags().StringVar(&opts.out, "out", "", "Output file (default <dir>/"+resultFileName+")")
	cmd.Flags().BoolVar(&opts.poll, "poll", false, "Poll for status instead of streaming")
	cmd.Flags().DurationVar(&opts.deadline, "wait", 15*time.Minute, "Maximum time to wait for the job")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func runGenerate(ctx context.Context, c *client.Client, opts *generateOptions) error {
	headerColor.Println("--- Panel One ---")

	files, skipped, err := client.CollectImages(opts.dir)
	if err != nil {
		return fail(err)
	}
	for _, s := range skipped {
		warnColor.Printf("Warning: skipping %s: %s\n", s.Name, s.Reason)
	}
	if len(files) == 0 {
		return fail(errors.New("no valid images found in directory"))
	}
	goodColor.Printf("Found %d images.\n", len(files))

	sub, err := c.Submit(ctx, files)
	if err != nil {
		return fail(fmt.Errorf("submission failed: %w", err))
	}
	for _, s := range sub.Skipped {
		warnColor.Printf("Warning: server skipped %s: %s\n", s.Name, s.Reason)
	}
	labelColor.Print("Job: ")
	fmt.Println(sub.JobID)

	onUpdate := func(r dto.JobResponse) {
		fmt.Println(describeStatus(r.Status))
	}

	var final dto.JobResponse
	if opts.poll {
		final, err = c.Poll(ctx, sub.JobID, onUpdate)
	} else {
		final, err = c.Follow(ctx, sub.JobID, onUpdate)
		if err != nil && ctx.Err() == nil && !errors.Is(err, client.ErrJobNotFound) {
			warnColor.Printf("Stream interrupted (%v), falling back to polling\n", err)
			final, err = c.Poll(ctx, sub.JobID, onUpdate)
		}
	}
	if err != nil {
		return fail(err)
	}

	if final.Status == domain.StatusFailed.String() {
		return fail(fmt.Errorf("job failed: %s", final.ErrorMessage))
	}

	dst := opts.out
	if dst == "" {
		dst = filepath.Join(opts.dir, resultFileName)
	}

	if err := c.Download(ctx, final.ResultURL, dst); err != nil {
		return fail(err)
	}

	goodColor.Printf("Process completed successfully! Saved %s\n", dst)
	return nil
}
