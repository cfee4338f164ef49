package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		serverURL  string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI description of the HTTP API",
		Example: `  keygate openapi
  keygate openapi --server-url https://keys.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(serverURL, outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Server URL to advertise in the document")

	return cmd
}

func runOpenAPI(serverURL, outputFile string) error {
	cfg, _, err := loadConfig(false, false)
	if err != nil {
		return err
	}
	registry := connector.NewRegistry(connector.DefaultServices()...)
	if err := cfg.ApplyServices(registry); err != nil {
		return err
	}

	doc := openapi.Generate(openapi.Options{
		BaseURL:  serverURL,
		Version:  versionString(),
		Services: openapi.ServicesFrom(registry.Specs()),
	})
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi: %w", err)
	}

	if outputFile == "" {
		fmt.Println(string(b))
		return nil
	}
	if err := os.WriteFile(outputFile, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Printf("Wrote %s\n", outputFile)
	return nil
}
