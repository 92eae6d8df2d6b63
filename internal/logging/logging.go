// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"adx-trader/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "adx-trader", "logs", "trader.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// levelTags maps zerolog level names to colored console tags.
var levelTags = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
	"fatal": "\033[31mFTL\033[0m",
}

// NewLoggerWithConfig creates a logger writing to the console, a
// size-rotated file, or both, per the configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File {
		if fw, err := fileWriter(cfg); err == nil {
			writers = append(writers, fw)
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stdout
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			s, ok := i.(string)
			if !ok {
				return "???"
			}
			if tag, ok := levelTags[s]; ok {
				return tag
			}
			return s
		},
	}
}

// fileWriter returns a rotated log writer, creating the log directory
// if needed.
func fileWriter(cfg LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// LogSignal logs a generated signal.
func LogSignal(logger zerolog.Logger, sig *models.Signal) {
	logger.Info().
		Str("event", "signal").
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Side)).
		Float64("entry", sig.EntryPrice).
		Float64("stop_loss", sig.StopLoss).
		Float64("take_profit", sig.TakeProfit).
		Float64("confidence", sig.Confidence).
		Float64("adx", sig.ADX).
		Msg("Signal generated")
}

// LogSignalFiltered logs a signal rejected by the filter pipeline.
func LogSignalFiltered(logger zerolog.Logger, sig *models.Signal) {
	logger.Debug().
		Str("event", "signal_filtered").
		Str("signal_id", sig.ID).
		Str("side", string(sig.Side)).
		Str("reason", sig.FilterReason).
		Msg("Signal filtered")
}

// LogPositionOpened logs a position entry.
func LogPositionOpened(logger zerolog.Logger, pos *models.Position) {
	logger.Info().
		Str("event", "position_opened").
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.EntryPrice).
		Float64("quantity", pos.Quantity).
		Float64("margin", pos.Margin).
		Int("leverage", pos.Leverage).
		Msg("Position opened")
}

// LogPositionClosed logs a position exit.
func LogPositionClosed(logger zerolog.Logger, pos *models.Position) {
	logger.Info().
		Str("event", "position_closed").
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Str("exit_reason", string(pos.ExitReason)).
		Float64("exit_price", pos.ExitPrice).
		Float64("pnl", pos.RealizedPnL).
		Float64("pnl_percent", pos.PnLPercent).
		Msg("Position closed")
}

// LogCircuitBreaker logs a circuit breaker state change.
func LogCircuitBreaker(logger zerolog.Logger, active bool, reason string) {
	event := logger.Warn().
		Str("event", "circuit_breaker").
		Bool("active", active)

	if active {
		event.Str("reason", reason).Msg("Circuit breaker activated")
	} else {
		event.Msg("Circuit breaker reset")
	}
}

// LogAPICall logs an exchange API call at debug level.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
