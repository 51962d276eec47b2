package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AbhishekMashetty/axon/internal/manifest"
	apiclient "github.com/AbhishekMashetty/axon/pkg/api/client"
	jwtpkg "github.com/AbhishekMashetty/axon/pkg/jwt"
)

const requestTimeout = 30 * time.Second

func newSubmitCmd(flags *globalFlags) *cobra.Command {
	var mode string
	var watch bool
	cmd := &cobra.Command{
		Use:   "submit <manifest.yaml>",
		Short: "Submit a manifest as a new batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			resp, err := client.SubmitManifest(ctx, filepath.Base(args[0]), content, mode)
			if err != nil {
				return explain(flags.printer(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s accepted with %d deployments (%s)\n", resp.Batch.ID, resp.Batch.Total, resp.Batch.Mode)
			if resp.ArchiveKey != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "manifest archived at %s\n", resp.ArchiveKey)
			}
			if !watch {
				return nil
			}
			return watchBatch(cmd.Context(), client, flags.printer(), resp.Batch.ID, defaultWatchInterval)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "parallel", "Processing mode (parallel|sequential)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the batch until it finishes")
	return cmd
}

const defaultWatchInterval = 10 * time.Second

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show a batch and its deployments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			if watch {
				return watchBatch(cmd.Context(), client, flags.printer(), args[0], interval)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			summary, err := client.GetBatch(ctx, args[0])
			if err != nil {
				return err
			}
			flags.printer().summary(summary)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh until the batch finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Refresh interval for --watch")
	return cmd
}

// watchBatch prints the batch each interval until it leaves PENDING/PROCESSING.
func watchBatch(ctx context.Context, client *apiclient.Client, p *printer, batchID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		summary, err := client.GetBatch(reqCtx, batchID)
		cancel()
		if err != nil {
			return err
		}
		p.summary(summary)
		switch summary.Batch.Status {
		case "PENDING", "PROCESSING":
		default:
			return nil
		}
		fmt.Fprintln(p.out)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			batches, err := client.ListBatches(ctx, limit)
			if err != nil {
				return err
			}
			flags.printer().batches(batches)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of batches")
	return cmd
}

func newRollbackCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <batch-id>",
		Short: "Roll back the successful deployments of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			result, err := client.Rollback(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d deployments of batch %s\n", result.RolledBack, result.BatchID)
			if result.CancelFailures > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d pipeline cancellations failed, check the pipeline UI\n", result.CancelFailures)
			}
			return nil
		},
	}
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "validate <manifest.yaml>",
		Short: "Check a manifest without submitting it",
		Long: "Validates locally against the manifest schema and batch rules. With --remote the API " +
			"also checks services against its service mappings.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p := flags.printer()
			if remote {
				client, err := flags.client()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				resp, err := client.ValidateManifest(ctx, content)
				if err != nil {
					return explain(p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid, %d deployments\n", args[0], resp.Deployments)
				return nil
			}
			return validateLocal(p, args[0], content)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Validate through the API")
	return cmd
}

func validateLocal(p *printer, name string, content []byte) error {
	parser, err := manifest.NewParser(nil)
	if err != nil {
		return err
	}
	m, err := parser.Parse(content)
	if err != nil {
		var verr *manifest.ValidationError
		if errors.As(err, &verr) {
			issues := make([]apiclient.Issue, 0, len(verr.Issues))
			for _, i := range verr.Issues {
				issues = append(issues, apiclient.Issue{Path: i.Path, Message: i.Message})
			}
			p.issues(issues)
			return fmt.Errorf("%s: %d issues", name, len(issues))
		}
		return err
	}
	fmt.Fprintf(p.out, "%s: valid, %d deployments\n", name, len(m.Deployments))
	return nil
}

// explain prints manifest issues carried by an API error before returning it.
func explain(p *printer, err error) error {
	var apiErr apiclient.APIError
	if errors.As(err, &apiErr) && len(apiErr.Issues) > 0 {
		p.issues(apiErr.Issues)
	}
	return err
}

func newConnectivityCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connectivity",
		Short: "Check the pipeline webhook of every pillar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			report, err := client.Connectivity(ctx)
			if err != nil {
				return err
			}
			flags.printer().connectivity(report)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	var subject, role, secret string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with the API's JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := jwtpkg.ParseRole(role)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				if secret, err = readSecret("JWT secret: "); err != nil {
					return err
				}
			}
			token, err := jwtpkg.GenerateToken(subject, r, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "Token subject, usually a user or bot name")
	issue.Flags().StringVar(&role, "role", string(jwtpkg.RoleViewer), "Role (viewer|operator)")
	issue.Flags().StringVar(&secret, "secret", "", "Signing secret (default $JWT_SECRET or prompt)")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = issue.MarkFlagRequired("subject")
	tokenCmd.AddCommand(issue)
	return tokenCmd
}
