package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sahil00000001/PremiumBulkMail/internal/app"
	"github.com/sahil00000001/PremiumBulkMail/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bulkmail",
	Short: "BulkMail - batch email dispatcher",
	Long:  `BulkMail sends personalized email batches from spreadsheet uploads and tracks opens.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch server",
	Long:  `Start the BulkMail HTTP API, send dispatcher and tracking refresh job.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(config.Example())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bulkmail version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd, configExampleCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  SMTP: %s:%d\n", cfg.SMTP.Host, cfg.SMTP.Port)
	fmt.Printf("  Tracker: %s\n", cfg.Tracking.BaseURL)

	return nil
}
