package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/panel-one/internal/client"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

type rootOptions struct {
	apiURL  string
	timeout time.Duration
	debug   bool
	noColor bool
}

func (o *rootOptions) client() *client.Client {
	cfg := client.Config{
		BaseURL: o.apiURL,
		Timeout: o.timeout,
	}
	if o.debug {
		cfg.DebugFunc = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
		}
	}
	return client.New(cfg)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "panelctl",
		Short:         "Turns a folder of photos into a single story panel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", getEnvOrDefault("PANEL_API_URL", "http://localhost:8080"), "Base URL of the panel API")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "Timeout for each HTTP request")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug output")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable color output")

	cmd.AddCommand(newGenerateCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))

	return cmd
}

// fail prints err in red and returns it so cobra exits non-zero
func fail(err error) error {
	badColor.Fprintf(os.Stderr, "Error: %v\n", err)
	return err
}
