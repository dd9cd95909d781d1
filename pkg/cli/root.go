// Package cli provides the command-line interface for Framesmith
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/framesmith/framesmith/pkg/config"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "framesmith",
	Short: "Parallel frame rendering with isolated workers",
	Long: `🎬 Framesmith - Fault-contained parallel frame rendering

Framesmith turns a frame spec file into rendered artifacts using a pool of
isolated worker processes. Crashing frames, hanging workers and interrupted
runs are contained and accounted for; every frame ends with a terminal
result.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("🎬 Framesmith v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	// Initialize the root command explicitly (avoiding init())
	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// This replaces the init() function to make initialization explicit and testable.
func initializeRootCommand() {
	cobra.OnInitialize(initViper)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: framesmith.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("framesmith.config")
		viper.SetConfigType("json")
	}

	viper.SetEnvPrefix("FRAMESMITH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadProjectConfig resolves and loads the effective configuration
func loadProjectConfig() (*config.ProjectConfig, error) {
	mgr := config.NewManager()

	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		candidate := filepath.Join(projectRoot, "framesmith.config.json")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	if path == "" {
		return mgr.Default(), nil
	}
	return mgr.LoadConfig(path)
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("🎬 %s %s\n", color.GreenString("[Framesmith]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "🎬 %s %s\n", color.RedString("[Framesmith]"), message)
}

func printInfo(message string) {
	fmt.Printf("🎬 %s %s\n", color.CyanString("[Framesmith]"), message)
}
