package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/api"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/utils"
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "online:   %t\n", status.Online)
			fmt.Fprintf(w, "syncing:  %t\n", status.IsSyncing)
			fmt.Fprintf(w, "pending:  %d\n", status.PendingCount)
			fmt.Fprintf(w, "failed:   %d\n", status.FailedCount)
			if status.LastSyncAt != nil {
				fmt.Fprintf(w, "last sync: %s\n", status.LastSyncAt.Format(time.RFC3339))
			}
			if status.LastError != nil {
				fmt.Fprintf(w, "last error: %s\n", *status.LastError)
			}
			return nil
		},
	}
}

// newListCommand builds "pending" or "failed".
func newListCommand(opts *RootOptions, which string) *cobra.Command {
	return &cobra.Command{
		Use:   which,
		Short: fmt.Sprintf("List %s operations", which),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			var (
				ops []*models.SyncOperation
				err error
			)
			if which == "failed" {
				ops, err = client.Failed(cmd.Context())
			} else {
				ops, err = client.Pending(cmd.Context())
			}
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), ops)
			}
			return writeOperations(cmd.OutOrStdout(), ops)
		},
	}
}

func newEnqueueCommand(opts *RootOptions) *cobra.Command {
	var (
		typ        string
		entityType string
		entityID   string
		payload    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a create, update or delete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.EnqueueRequest{
				Type:       models.OperationType(typ),
				EntityType: entityType,
				EntityID:   entityID,
			}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			id, err := opts.client().Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), api.EnqueueResponse{ID: id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "update", "operation type (create|update|delete)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type, e.g. order")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "payload as a JSON object")
	cmd.MarkFlagRequired("entity-type")
	cmd.MarkFlagRequired("entity-id")
	return cmd
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a sync cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Sync(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			if !res.Ran {
				fmt.Fprintln(cmd.OutOrStdout(), "no cycle ran (offline or already syncing)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, succeeded %d, failed %d, requeued %d, conflicts %d\n",
				res.Attempted, res.Succeeded, res.Failed, res.Requeued, res.Conflicts)
			return nil
		},
	}
}

func newRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed operations to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := opts.client().RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), api.RetryResponse{IDs: ids})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d operation(s) requeued\n", len(ids))
			return nil
		},
	}
}

func newDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Drop every failed operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.client().DiscardFailed(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), api.DiscardResponse{Discarded: n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d operation(s) discarded\n", n)
			return nil
		},
	}
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove one operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("clear drops every queued operation; pass --yes to confirm")
			}
			if err := opts.client().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newHashKeyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the bcrypt hash to put in ADMIN_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := utils.HashAdminKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func writeOperations(w io.Writer, ops []*models.SyncOperation) error {
	if len(ops) == 0 {
		fmt.Fprintln(w, "no operations")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tSTATUS\tRETRIES\tENQUEUED\tLAST ERROR")
	for _, op := range ops {
		lastErr := ""
		if op.LastError != nil {
			lastErr = *op.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			op.ID, op.Type, op.EntityKey(), op.Status, op.RetryCount, op.EnqueuedAt.Format(time.RFC3339), lastErr)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
