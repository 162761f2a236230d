package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/astrobak/astrobak/internal/blob"
	"github.com/astrobak/astrobak/internal/sync"
	"github.com/astrobak/astrobak/internal/utils"
)

var (
	home, _ = os.UserHomeDir()

	DefaultConfigPath  = filepath.Join(home, ".astrobak", "config.yaml")
	DefaultJournalPath = filepath.Join(home, ".astrobak", "journal.db")
	DefaultLogFilePath = filepath.Join(home, ".astrobak", "logs", "astrobak.log")
)

// Config is the full tool configuration, merged from config file, env and
// flags by the CLI layer.
type Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Profile      string `mapstructure:"profile"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Endpoint     string `mapstructure:"endpoint"`
	StorageClass string `mapstructure:"storage_class"`

	Root    string   `mapstructure:"root"`
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`

	CheckWorkers         int  `mapstructure:"check_workers"`
	UploadWorkers        int  `mapstructure:"upload_workers"`
	MultipartThresholdMB int  `mapstructure:"multipart_threshold_mb"`
	ChunkSizeMB          int  `mapstructure:"chunk_size_mb"`
	Verify               bool `mapstructure:"verify"`

	JournalPath string `mapstructure:"journal_path"`
	LogFile     string `mapstructure:"log_file"`
}

// Default returns the configuration the CLI starts from before merging.
func Default() *Config {
	return &Config{
		Region:      "us-east-1",
		Verify:      true,
		JournalPath: DefaultJournalPath,
		LogFile:     DefaultLogFilePath,
	}
}

// Validate checks required fields and resolves the sync root.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}

	root, err := utils.ResolvePath(c.Root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	if !utils.DirExists(root) {
		return fmt.Errorf("root %s is not a directory", root)
	}
	c.Root = root

	if c.Profile != "" && c.AccessKey != "" {
		return fmt.Errorf("profile and access_key are mutually exclusive")
	}
	if c.ChunkSizeMB < 0 || c.MultipartThresholdMB < 0 {
		return fmt.Errorf("chunk_size_mb and multipart_threshold_mb must be non-negative")
	}
	if c.CheckWorkers < 0 || c.UploadWorkers < 0 {
		return fmt.Errorf("worker counts must be non-negative")
	}
	return nil
}

// BlobConfig derives the S3 client configuration.
func (c *Config) BlobConfig() *blob.S3Config {
	return &blob.S3Config{
		Bucket:               c.Bucket,
		Region:               c.Region,
		Profile:              c.Profile,
		AccessKey:            c.AccessKey,
		SecretKey:            c.SecretKey,
		Endpoint:             c.Endpoint,
		StorageClass:         c.StorageClass,
		MultipartThresholdMB: c.MultipartThresholdMB,
		ChunkSizeMB:          c.ChunkSizeMB,
	}
}

// EngineConfig derives the sync driver configuration. Zero worker counts
// are auto-tuned by the engine.
func (c *Config) EngineConfig() sync.EngineConfig {
	return sync.EngineConfig{
		Root:          c.Root,
		Include:       c.Include,
		Exclude:       c.Exclude,
		CheckWorkers:  c.CheckWorkers,
		UploadWorkers: c.UploadWorkers,
		ChunkSizeMB:   c.ChunkSizeMB,
		Verify:        c.Verify,
	}
}
