// Package cli implements syncctl, the operator CLI for a running sync
// server.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/api"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server   string
	AdminKey string
	Format   string // "json" | "text"
	Timeout  time.Duration
}

var ValidFormats = []string{"text", "json"}

func (o *RootOptions) client() *api.Client {
	return api.NewClient(o.Server, o.AdminKey, o.Timeout)
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Inspect and operate an offlinesync server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("SYNCCTL_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&opts.AdminKey, "admin-key", os.Getenv("SYNCCTL_ADMIN_KEY"), "operator key for admin commands")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newListCommand(opts, "pending"))
	cmd.AddCommand(newListCommand(opts, "failed"))
	cmd.AddCommand(newEnqueueCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newDiscardCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newClearCommand(opts))
	cmd.AddCommand(newHashKeyCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
