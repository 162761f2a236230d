package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/astrobak/astrobak/internal/config"
	"github.com/astrobak/astrobak/internal/utils"
	"github.com/astrobak/astrobak/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "astrobak",
	Short:   "Back up astrophotography captures to S3",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader(cfg)

		app, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		defer slog.Info("Bye!")
		return app.Sync(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("bucket", "b", "", "S3 bucket to back up into")
	rootCmd.PersistentFlags().StringP("root", "r", "", "Local directory to back up")
	rootCmd.PersistentFlags().StringP("profile", "p", "", "AWS profile for credentials")
	rootCmd.PersistentFlags().Bool("verify", true, "Re-check each object after upload")
	rootCmd.PersistentFlags().Int("check-workers", 0, "Comparison workers (0 = auto)")
	rootCmd.PersistentFlags().Int("upload-workers", 0, "Upload workers (0 = auto)")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "astrobak config file")
}

func main() {
	logFile := config.DefaultLogFilePath

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	// Setup handlers for both outputs
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	multiLogHandler := utils.NewMultiLogHandler(stdoutHandler, fileHandler)
	slog.SetDefault(slog.New(multiLogHandler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".astrobak"))
		viper.AddConfigPath(filepath.Join(home, ".config/astrobak"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	flags := cmd.Root().PersistentFlags()
	viper.BindPFlag("bucket", flags.Lookup("bucket"))
	viper.BindPFlag("root", flags.Lookup("root"))
	viper.BindPFlag("profile", flags.Lookup("profile"))
	viper.BindPFlag("verify", flags.Lookup("verify"))
	viper.BindPFlag("check_workers", flags.Lookup("check-workers"))
	viper.BindPFlag("upload_workers", flags.Lookup("upload-workers"))

	viper.SetDefault("region", "us-east-1")
	viper.SetDefault("journal_path", config.DefaultJournalPath)
	viper.SetDefault("log_file", config.DefaultLogFilePath)

	viper.SetEnvPrefix("ASTROBAK")
	viper.AutomaticEnv()

	return nil
}

// resolveConfig materializes the merged file/env/flag configuration and
// validates it.
func resolveConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func showHeader(cfg *config.Config) {
	color.New(color.FgHiCyan, color.Bold).Println("astrobak " + version.Short())
	fmt.Printf("%s %s\n", gray("Root   "), green(cfg.Root))
	fmt.Printf("%s %s\n", gray("Bucket "), green("s3://"+cfg.Bucket))
	fmt.Println()
}
