// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// filevault is the multi-tenant content addressed file service daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storj.io/filevault/pkg/audit"
	"storj.io/filevault/pkg/auth"
	"storj.io/filevault/pkg/meta"
	"storj.io/filevault/pkg/objects"
	"storj.io/filevault/pkg/server"
)

// Config is the full environment driven configuration of the daemon.
type Config struct {
	Port          int
	DataDir       string
	DBPath        string
	RequireAPIKey bool
	APIKeysJSON   string
	MasterKey     string
	SigningKey    string
	PublicBaseURL string
	AuditLogPath  string
	LogLevel      string
}

var rootCmd = &cobra.Command{
	Use:   "filevault",
	Short: "Content addressed file service",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the file service",
	RunE:  cmdRun,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the data directory and initialize the metadata database",
	RunE:  cmdSetup,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
}

// loadConfig reads configuration from the environment, applying the
// documented defaults.
func loadConfig() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", 8099)
	v.SetDefault("DATA_DIR", "/data")
	v.SetDefault("REQUIRE_API_KEY", "true")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := Config{
		Port:          v.GetInt("PORT"),
		DataDir:       strings.TrimSpace(v.GetString("DATA_DIR")),
		DBPath:        strings.TrimSpace(v.GetString("DB_PATH")),
		APIKeysJSON:   v.GetString("API_KEYS_JSON"),
		MasterKey:     strings.TrimSpace(v.GetString("MASTER_KEY")),
		SigningKey:    strings.TrimSpace(v.GetString("SIGNING_KEY")),
		PublicBaseURL: strings.TrimSpace(v.GetString("PUBLIC_BASE_URL")),
		AuditLogPath:  strings.TrimSpace(v.GetString("AUDIT_LOG_PATH")),
		LogLevel:      strings.TrimSpace(v.GetString("LOG_LEVEL")),
	}

	require := strings.ToLower(strings.TrimSpace(v.GetString("REQUIRE_API_KEY")))
	cfg.RequireAPIKey = require == "true" || require == "1"

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "meta.db")
	}
	return cfg
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}

	db, err := meta.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	keys := auth.NewRegistry(cfg.RequireAPIKey, auth.ParseKeysJSON(cfg.APIKeysJSON))
	if cfg.RequireAPIKey && keys.Len() == 0 {
		log.Warn("REQUIRE_API_KEY=true but API_KEYS_JSON is empty; all requests will be unauthorized")
	}

	srv := server.New(log, db, objects.NewStore(cfg.DataDir), keys,
		audit.NewLog(log, cfg.AuditLogPath),
		server.Config{
			MasterKey:     cfg.MasterKey,
			SigningKey:    []byte(cfg.SigningKey),
			PublicBaseURL: cfg.PublicBaseURL,
		})

	log.Info("filevault starting",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("db_path", cfg.DBPath),
		zap.Bool("encryption", cfg.MasterKey != ""))

	return srv.Run(ctx, fmt.Sprintf(":%d", cfg.Port))
}

// cmdSetup prepares the data directory and database ahead of the first run,
// so a read-only deployment can mount them prebuilt.
func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	cfg := loadConfig()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}

	db, err := meta.Open(context.Background(), cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	log.Info("filevault initialized",
		zap.String("data_dir", cfg.DataDir),
		zap.String("db_path", cfg.DBPath))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
