package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"credential"},
		Short:   "Manage stored credentials",
		Long:    "Create, inspect and revoke credentials on behalf of an account.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyUsageCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		email     string
		svc       string
		fields    map[string]string
		rateLimit int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store a credential for an account",
		Long:  "Encrypt and store a third-party secret for an account. The access key is shown once and cannot be retrieved again.",
		Example: `  keygate key create --email dev@example.com --service tmdb --field api_key=abc123
  keygate key create --email dev@example.com --service disney_parks \
      --field api_key=abc --field client_id=web --rate-limit 120`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var limit *int
			if cmd.Flags().Changed("rate-limit") {
				limit = &rateLimit
			}
			return runKeyCreate(cmd.Context(), email, service.CreateCredentialInput{
				ServiceName: svc,
				Metadata:    fields,
				RateLimit:   limit,
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owning account email (required)")
	cmd.Flags().StringVar(&svc, "service", "", "Service name, e.g. tmdb (required)")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "Credential field as name=value (repeatable)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per window (default: server default)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("service")

	return cmd
}

func runKeyCreate(ctx context.Context, email string, in service.CreateCredentialInput) error {
	a, err := openOperatorApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("account %q: %w", email, err)
	}
	cred, accessKey, err := a.creds.Create(ctx, owner, in)
	if err != nil {
		return err
	}

	fmt.Printf("Created %s credential %d for %s\n", cred.ServiceName, cred.ID, owner.Email)
	fmt.Printf("  Access key: %s\n", accessKey)
	fmt.Println("  Store it now; it cannot be shown again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		email      string
		svc        string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List an account's credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), email, svc, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owning account email (required)")
	cmd.Flags().StringVar(&svc, "service", "", "Only list credentials for this service")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runKeyList(ctx context.Context, email, svc string, jsonOutput bool) error {
	a, err := openOperatorApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("account %q: %w", email, err)
	}
	creds, err := a.creds.List(ctx, owner, svc)
	if err != nil {
		return err
	}
	views := make([]model.CredentialView, 0, len(creds))
	for i := range creds {
		views = append(views, a.creds.View(&creds[i], ""))
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(views) == 0 {
		fmt.Printf("No credentials for %s.\n", owner.Email)
		return nil
	}

	fmt.Printf("%-6s %-14s %-14s %-8s %-6s %-8s %-20s\n", "ID", "SERVICE", "PREFIX", "ACTIVE", "LIMIT", "USES", "EXPIRES")
	fmt.Printf("%-6s %-14s %-14s %-8s %-6s %-8s %-20s\n", "--", "-------", "------", "------", "-----", "----", "-------")
	for _, v := range views {
		expires := "never"
		if v.ExpiresAt != nil {
			expires = v.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-6d %-14s %-14s %-8s %-6d %-8d %-20s\n",
			v.ID, v.ServiceName, v.KeyPrefix, yesNo(v.IsActive), v.EffectiveRateLimit, v.UsageCount, expires)
	}
	return nil
}

// ---------- key usage ----------

func newKeyUsageCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "usage <id>",
		Short: "Show recent requests made with a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runKeyUsage(cmd.Context(), id, limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show (1-1000)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyUsage(ctx context.Context, id int64, limit int, jsonOutput bool) error {
	a, err := openOperatorApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.monitor.CredentialUsage(ctx, id, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Printf("No usage recorded for credential %d.\n", id)
		return nil
	}

	fmt.Printf("%-20s %-7s %-6s %-9s %-32s %s\n", "TIME", "METHOD", "STATUS", "MS", "ENDPOINT", "ERROR")
	for _, r := range records {
		errText := ""
		if r.Error != nil {
			errText = *r.Error
		}
		fmt.Printf("%-20s %-7s %-6d %-9.1f %-32s %s\n",
			r.RequestedAt.Format(time.RFC3339), r.Method, r.Status, r.ResponseTimeMs, r.Endpoint, errText)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "revoke <id>",
		Aliases: []string{"delete", "rm"},
		Short:   "Delete a credential",
		Long:    "Delete a credential. Its access key stops working immediately; usage history is kept.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runKeyRevoke(cmd.Context(), id)
		},
	}
}

func runKeyRevoke(ctx context.Context, id int64) error {
	a, err := openOperatorApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	cred, err := a.store.GetCredential(ctx, id)
	if err != nil {
		return fmt.Errorf("credential %d: %w", id, err)
	}
	if err := a.store.DeleteCredential(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Revoked %s credential %d (%s...)\n", cred.ServiceName, cred.ID, cred.KeyPrefix)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
