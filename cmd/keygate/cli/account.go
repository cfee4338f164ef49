package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/keygate/internal/service"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage user accounts",
		Long:  "Create and list the accounts that log in to manage credentials.",
	}

	cmd.AddCommand(newAccountCreateCmd())
	cmd.AddCommand(newAccountListCmd())

	return cmd
}

// ---------- account create ----------

func newAccountCreateCmd() *cobra.Command {
	var (
		email     string
		password  string
		name      string
		superuser bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new account",
		Example: `  keygate account create --email admin@example.com --superuser
  keygate account create --email dev@example.com --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountCreate(cmd.Context(), email, password, name, superuser)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "Grant superuser privileges")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAccountCreate(ctx context.Context, email, password, name string, superuser bool) error {
	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	a, err := openOperatorApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	in := service.RegisterInput{Email: email, Password: password, FullName: name}
	create := a.accounts.Register
	if superuser {
		create = a.accounts.CreateSuperuser
	}
	acct, err := create(ctx, in)
	if err != nil {
		return err
	}

	role := "user"
	if acct.IsSuperuser {
		role = "superuser"
	}
	fmt.Printf("Created %s %q (id %d)\n", role, acct.Email, acct.ID)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pw) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pw), nil
}

// ---------- account list ----------

func newAccountListCmd() *cobra.Command {
	var (
		jsonOutput bool
		skip       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountList(cmd.Context(), skip, limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&skip, "skip", 0, "Number of accounts to skip")
	cmd.Flags().IntVar(&limit, "limit", service.DefaultPageSize, "Maximum accounts to list")

	return cmd
}

func runAccountList(ctx context.Context, skip, limit int, jsonOutput bool) error {
	a, err := openOperatorApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.accounts.List(ctx, skip, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(accounts)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts. Use 'keygate account create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-30s %-24s %-8s %-9s\n", "ID", "EMAIL", "NAME", "ACTIVE", "SUPERUSER")
	fmt.Printf("%-6s %-30s %-24s %-8s %-9s\n", "--", "-----", "----", "------", "---------")
	for _, acct := range accounts {
		fmt.Printf("%-6d %-30s %-24s %-8s %-9s\n", acct.ID, acct.Email, acct.FullName, yesNo(acct.IsActive), yesNo(acct.IsSuperuser))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
