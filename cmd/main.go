package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"device-notifier/internal/api"
	"device-notifier/internal/config"
	"device-notifier/internal/db"
	"device-notifier/internal/devices"
	"device-notifier/internal/kafka"
	"device-notifier/internal/logging"
	"device-notifier/internal/providers"
	"device-notifier/internal/services"
)

// reportedError marks an error the command already printed.
type reportedError struct{ error }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func sendFailed(err error) error {
	fmt.Fprintf(os.Stderr, "Erro ao enviar: %v\n", err)
	return reportedError{err}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "device-notifier",
		Short:         "Notify locations about devices that stopped reporting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newServeCmd(), newClearCacheCmd())
	return root
}

// app holds what every command needs.
type app struct {
	cfg    config.Config
	logger *logging.Logger
	db     *db.DB
}

func setup(withDB bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	if withDB && cfg.DB.DSN != "" {
		dbConn, err := db.New(cfg.DB.DSN)
		if err != nil {
			logger.Errorf("DB connect failed: %v", err)
			return nil, err
		}
		if err := dbConn.EnsureSchema(context.Background()); err != nil {
			dbConn.Close()
			logger.Errorf("DB schema failed: %v", err)
			return nil, err
		}
		a.db = dbConn
	}
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
		a.logger.Infof("DB connection closed")
	}
	a.logger.Close()
}

func (a *app) newRunner() (*services.Runner, error) {
	deps := services.Deps{
		LoadConfig: func() (config.RunConfiguration, error) { return config.LoadRunConfiguration(a.cfg) },
		NewMailer:  func(rc config.RunConfiguration) providers.Mailer { return providers.NewSMTPMailer(rc) },
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
	if a.db != nil {
		deps.Store = a.db
	}
	if a.cfg.Telegram.BotToken != "" {
		chat, err := providers.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID)
		if err != nil {
			return nil, err
		}
		deps.Chat = chat
	}
	return services.New(deps, a.logger), nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one notification run and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return sendFailed(err)
			}
			defer a.close()

			runner, err := a.newRunner()
			if err != nil {
				return sendFailed(err)
			}
			result, err := runner.Run(cmd.Context())
			if err != nil {
				return sendFailed(err)
			}
			fmt.Println("Envio concluído com sucesso!")
			fmt.Printf("Aparelhos: %d, inativos: %d, e-mails enviados: %d/%d\n",
				result.Devices, result.Candidates, result.Succeeded, result.Attempted)
			if result.ReportPath != "" {
				fmt.Printf("Relatório não enviado, mantido em %s\n", result.ReportPath)
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, Kafka trigger and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()
			cfg, logger := a.cfg, a.logger

			runner, err := a.newRunner()
			if err != nil {
				return err
			}
			wsManager := services.NewWebSocketManager(logger)
			runner.Subscribe(wsManager.Broadcast)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var wg sync.WaitGroup

			// Kafka trigger
			var consumer *kafka.Consumer
			if cfg.Kafka.Broker != "" {
				consumer = kafka.NewConsumer([]string{cfg.Kafka.Broker}, cfg.Kafka.Topic, cfg.Kafka.GroupID, runner, logger)
				consumer.Start(ctx, &wg)
			}

			// Scheduled runs
			if cfg.Schedule != "" {
				if err := runner.Schedule(cfg.Schedule); err != nil {
					return err
				}
				defer runner.StopSchedule()
			}

			// API server
			var store api.RunReader
			if a.db != nil {
				store = a.db
			}
			handler := api.NewHandler(runner, store, wsManager, logger)
			srv := &http.Server{Addr: cfg.API.Port, Handler: api.NewRouter(logger, cfg, handler)}
			go func() {
				logger.Infof("API started on %s", cfg.API.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("API run failed: %v", err)
				}
			}()

			// Handle graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c
			logger.Infof("Shutting down...")
			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("API shutdown failed: %v", err)
			}
			if consumer != nil {
				if err := consumer.Close(); err != nil {
					logger.Errorf("Kafka close failed: %v", err)
				}
			}
			wg.Wait()
			if runner.Running() {
				logger.Warnf("A run is still in progress; it is abandoned on exit")
			}
			logger.Infof("Service stopped")
			return nil
		},
	}
}

func newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete the cached device snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(false)
			if err != nil {
				return err
			}
			defer a.close()

			src := devices.NewSource(a.cfg.DeviceAPI.URL, a.cfg.Paths.Cache, nil, a.logger, 1)
			if err := src.Invalidate(); err != nil {
				return err
			}
			fmt.Printf("Cache %s removido.\n", a.cfg.Paths.Cache)
			return nil
		},
	}
}
