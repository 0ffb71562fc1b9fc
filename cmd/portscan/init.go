package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/portscan/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/portscan.yaml
var configTemplate embed.FS

// templatePath is the template location inside configTemplate.
const templatePath = "templates/portscan.yaml"

// configFileName is the default configuration file name.
const configFileName = config.DefaultConfigFile

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new portscan configuration file",
		Long: `Initialize creates a new .portscan configuration file in the current directory.

The generated file includes:
- The built-in scan, pacing and report defaults
- The adaptive timeout policy
- Commented examples for custom port sets, the history database and Pub/Sub

Examples:
  # Create .portscan in current directory
  portscan init

  # Create config file at a specific path
  portscan init -o myconfig.yaml

  # Force overwrite existing file
  portscan init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to configure settings such as:")
	fmt.Fprintln(out, "  - Default scan type, ports and probe rate")
	fmt.Fprintln(out, "  - Adaptive timeout bounds")
	fmt.Fprintln(out, "  - Custom named port sets")
	return nil
}
