package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/lmittmann/tint"

	"i4.energy/across/sim800/modem"
)

func main() {
	flag.String("config", "", "Path to a TOML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("log-format", "json", "Log format (json, text)")
	flag.Duration("boot-delay", time.Second, "Delay before the first command sent to the modem")
	flag.String("apn", "", "GPRS access point name; the bearer is opened at startup when set")
	flag.String("apn-user", "", "GPRS bearer user name")
	flag.String("apn-password", "", "GPRS bearer password")
	flag.Parse()

	config, err := LoadConfig(
		WithDefaults(),
		WithFile(configPath(flag.CommandLine)),
		WithEnv(),
		WithFlags(flag.CommandLine),
	)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stderr, config.LogLevel, config.LogFormat)

	modemConfig, err := modem.NewConfigBuilder().
		WithBootDelay(config.BootDelay).
		WithInitTimeout(30 * time.Second).
		WithLogger(logger.With("component", "modem")).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(context.Background(), modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err, "port", config.SerialPort)
		os.Exit(1)
	}

	if config.APN != "" {
		if err := m.SetupBearer(context.Background(), config.APN, config.APNUser, config.APNPassword); err != nil {
			logger.Error("Failed to open GPRS bearer", "error", err, "apn", config.APN)
			m.Close()
			os.Exit(1)
		}
		logger.Info("GPRS bearer opened", "apn", config.APN)
	}

	logger.Info("Starting SIM800 gateway", "modem", m)

	server := &Server{
		Logger: logger.With("component", "server"),
		Modem:  m,
	}
	httpServer := &http.Server{
		Addr:    config.BindAddress,
		Handler: server.Routes(),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	notifySystemd(logger, daemon.SdNotifyReady)

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)
	notifySystemd(logger, daemon.SdNotifyStopping)

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}
}

// notifySystemd reports state to the service manager. Outside systemd the
// notification is skipped without a warning.
func notifySystemd(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("Failed to notify systemd", "error", err, "state", state)
		return
	}
	if sent {
		logger.Debug("Notified systemd", "state", state)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger: JSON records by default, colored
// text when format is "text".
func newLogger(output io.Writer, level, format string) *slog.Logger {
	if format == "text" {
		return slog.New(tint.NewHandler(output, &tint.Options{
			Level:      parseLevel(level),
			TimeFormat: "2006-01-02 15:04:05.000Z07:00",
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Value.Kind() == slog.KindAny {
					if _, ok := a.Value.Any().(error); ok {
						return tint.Attr(9, a)
					}
				}
				return a
			},
		}))
	}
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: parseLevel(level)}))
}
