package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/auth"
	"github.com/atlas-mc/atlas/backend/internal/config"
	"github.com/atlas-mc/atlas/backend/internal/database"
	"github.com/atlas-mc/atlas/backend/internal/logging"
	"github.com/atlas-mc/atlas/backend/internal/metrics"
	"github.com/atlas-mc/atlas/backend/internal/packs"
	"github.com/atlas-mc/atlas/backend/internal/server"
	"github.com/atlas-mc/atlas/backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile      string
	tokenRole    string
	tokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "atlas-api",
		Short: "Atlas pack distribution backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a service token for CI, runner, or admin access",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return mintToken(cmd)
		},
	}
	tokenCmd.Flags().StringVar(&tokenRole, "role", "runner", "Token role (ci, runner, admin)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (pack id for ci/runner)")
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Service token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("storage-providers", defaults.GetString("storage.providers"), "Comma-separated enabled storage provider ids")
	cmd.PersistentFlags().String("gcs-bucket", defaults.GetString("storage.gcs_bucket"), "GCS bucket for the gcs provider")
	cmd.PersistentFlags().String("gcs-credentials", defaults.GetString("storage.gcs_credentials_file"), "GCS service account key file")
	cmd.PersistentFlags().String("signing-secret", "", "Service token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "storage.providers", "storage-providers")
	bindFlag(cmd, "storage.gcs_bucket", "gcs-bucket")
	bindFlag(cmd, "storage.gcs_credentials_file", "gcs-credentials")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func mintToken(cmd *cobra.Command) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	tokens := auth.NewServiceTokens(auth.ServiceTokenConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})

	token, expiresIn, err := tokens.Issue(cmd.Context(), auth.Role(tokenRole), tokenSubject)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
	return nil
}

func buildStorageRegistry(ctx context.Context, appConfig config.AppConfig) (*storage.Registry, error) {
	providers := make([]storage.Provider, 0, len(appConfig.StorageProviders))
	for _, id := range appConfig.StorageProviders {
		if id == storage.ProviderGCS {
			gcsProvider, err := storage.NewGCSProvider(ctx, appConfig.GCSBucket, appConfig.GCSCredentialsFile)
			if err != nil {
				return nil, err
			}
			providers = append(providers, gcsProvider)
			continue
		}
		providers = append(providers, storage.NewStaticProvider(id))
	}
	return storage.NewRegistry(providers...), nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokens := auth.NewServiceTokens(auth.ServiceTokenConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})

	registry, err := buildStorageRegistry(ctx, appConfig)
	if err != nil {
		return err
	}

	dispatcher := server.NewPackUpdateDispatcher()
	metricSet := metrics.New(prometheus.DefaultRegisterer)

	packService, err := packs.NewService(packs.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: packs.NewUUIDProvider(),
		Providers:  registry,
		Publisher:  dispatcher,
		Metrics:    metricSet,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Packs:      packService,
		Tokens:     tokens,
		CIResolver: auth.NewCIResolver(tokens),
		Storage:    registry,
		Realtime:   dispatcher,
		Metrics:    metricSet,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
