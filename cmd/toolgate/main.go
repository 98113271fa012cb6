package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/toolgate/internal/app"
	"github.com/dropDatabas3/toolgate/internal/config"
	"github.com/dropDatabas3/toolgate/internal/http/router"
	"github.com/dropDatabas3/toolgate/internal/http/server"
	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	"github.com/dropDatabas3/toolgate/internal/store/pg"
	migrations "github.com/dropDatabas3/toolgate/migrations/postgres"
)

func main() {
	// .env es opcional; en producción los secrets vienen del entorno real
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "toolgate",
		Short: "OAuth authorization broker para herramientas third-party",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("TOOLGATE_CONFIG", "config.yaml"), "ruta del YAML de configuración (env TOOLGATE_CONFIG)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el broker HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       cfg.Log.Level,
				ServiceName: "toolgate",
			})
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			container, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer container.Close()

			srv := server.New(cfg.Server.Addr, router.New(container))
			return srv.Run(ctx)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de Postgres pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.DSN == "" {
				return fmt.Errorf("migrate: storage.dsn (o TOOLGATE_DB_DSN) es requerido")
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "toolgate-migrate"})
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			st, err := pg.New(ctx, cfg.Storage.DSN, pg.PoolConfig{})
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx, migrations.FS); err != nil {
				return err
			}
			fmt.Println("migrations ok")
			return nil
		},
	}

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una master key de 32 bytes (base64) para cifrado at-rest",
		RunE: func(cmd *cobra.Command, args []string) error {
			var key [32]byte
			if _, err := rand.Read(key[:]); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(key[:]))
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd, keygenCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		// sin YAML también se puede arrancar: todo por env/defaults
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
