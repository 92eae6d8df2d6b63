// Package notify provides notification functionality for the trading application.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/models"
)

// Notifier defines the interface for sending trading event notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendPositionOpened(ctx context.Context, pos *models.Position) error
	SendPositionClosed(ctx context.Context, pos *models.Position) error
	SendCircuitBreaker(ctx context.Context, reason string) error
	SendDailyLossWarning(ctx context.Context, dailyPnLPercent, limitPercent float64) error
	SendConsecutiveLossWarning(ctx context.Context, losses, limit int) error
	SendError(ctx context.Context, err error, context string) error
}

// Channel defines the interface for a notification delivery channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Event     Event
	Severity  Severity
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Event identifies the trading event a notification reports.
type Event string

const (
	EventPositionOpened    Event = "position_opened"
	EventPositionClosed    Event = "position_closed"
	EventCircuitBreaker    Event = "circuit_breaker"
	EventDailyLossWarning  Event = "daily_loss_warning"
	EventConsecutiveLosses Event = "consecutive_losses"
	EventSystemError       Event = "system_error"
)

// Severity orders notifications for level filtering.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity maps a config level string to a Severity. Unknown
// values fall back to info so nothing is silently dropped.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warning":
		return SeverityWarning
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// formatUSD formats a dollar amount with a leading sign for negatives.
func formatUSD(amount float64) string {
	if amount < 0 {
		return fmt.Sprintf("-$%.2f", -amount)
	}
	return fmt.Sprintf("$%.2f", amount)
}

// MultiNotifier fans notifications out to multiple channels, dropping
// anything below the configured minimum severity.
type MultiNotifier struct {
	channels []Channel
	minLevel Severity
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier from configuration. A log
// channel is always attached; webhook and telegram channels are added
// when enabled.
func NewMultiNotifier(cfg config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		minLevel: ParseSeverity(cfg.Level),
	}

	mn.channels = append(mn.channels, NewLogChannel(logger))
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookChannel(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramChannel(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Send sends a notification to all enabled channels. Channel failures
// are collected, not short-circuited, so one broken channel cannot
// block the others.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Severity < mn.minLevel {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendPositionOpened sends a position entry notification.
func (mn *MultiNotifier) SendPositionOpened(ctx context.Context, pos *models.Position) error {
	title := fmt.Sprintf("Position Opened: %s %s", pos.Side, pos.Symbol)
	message := fmt.Sprintf(
		"Entry: %s\nQuantity: %.6f\nLeverage: %dx\nMargin: %s\nStop Loss: %s\nTake Profit: %s",
		formatUSD(pos.EntryPrice),
		pos.Quantity,
		pos.Leverage,
		formatUSD(pos.Margin),
		formatUSD(pos.StopLoss),
		formatUSD(pos.TakeProfit),
	)

	return mn.Send(ctx, Notification{
		Event:    EventPositionOpened,
		Severity: SeverityInfo,
		Title:    title,
		Message:  message,
		Data: map[string]interface{}{
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
			"side":        string(pos.Side),
			"entry_price": pos.EntryPrice,
			"quantity":    pos.Quantity,
			"leverage":    pos.Leverage,
			"stop_loss":   pos.StopLoss,
			"take_profit": pos.TakeProfit,
		},
	})
}

// SendPositionClosed sends a position exit notification.
func (mn *MultiNotifier) SendPositionClosed(ctx context.Context, pos *models.Position) error {
	pnlSign := "+"
	if pos.RealizedPnL < 0 {
		pnlSign = ""
	}

	title := fmt.Sprintf("Position Closed: %s %s (%s)", pos.Side, pos.Symbol, pos.ExitReason)
	message := fmt.Sprintf(
		"Entry: %s\nExit: %s\nP&L: %s%s (%+.2f%%)\nReason: %s\nHeld: %s",
		formatUSD(pos.EntryPrice),
		formatUSD(pos.ExitPrice),
		pnlSign,
		formatUSD(pos.RealizedPnL),
		pos.PnLPercent,
		pos.ExitReason,
		pos.HoldDuration().Round(time.Second),
	)

	severity := SeverityInfo
	if pos.RealizedPnL < 0 {
		severity = SeverityWarning
	}

	return mn.Send(ctx, Notification{
		Event:    EventPositionClosed,
		Severity: severity,
		Title:    title,
		Message:  message,
		Data: map[string]interface{}{
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
			"side":        string(pos.Side),
			"entry_price": pos.EntryPrice,
			"exit_price":  pos.ExitPrice,
			"pnl":         pos.RealizedPnL,
			"pnl_percent": pos.PnLPercent,
			"exit_reason": string(pos.ExitReason),
		},
	})
}

// SendCircuitBreaker sends a circuit breaker activation notification.
func (mn *MultiNotifier) SendCircuitBreaker(ctx context.Context, reason string) error {
	return mn.Send(ctx, Notification{
		Event:    EventCircuitBreaker,
		Severity: SeverityCritical,
		Title:    "Circuit Breaker Activated",
		Message:  fmt.Sprintf("Trading halted: %s\nManual reset required to resume.", reason),
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// SendDailyLossWarning warns that daily losses are approaching the limit.
func (mn *MultiNotifier) SendDailyLossWarning(ctx context.Context, dailyPnLPercent, limitPercent float64) error {
	return mn.Send(ctx, Notification{
		Event:    EventDailyLossWarning,
		Severity: SeverityWarning,
		Title:    "Daily Loss Warning",
		Message:  fmt.Sprintf("Daily P&L at %.2f%% against a -%.2f%% limit.", dailyPnLPercent, limitPercent),
		Data: map[string]interface{}{
			"daily_pnl_percent": dailyPnLPercent,
			"limit_percent":     limitPercent,
		},
	})
}

// SendConsecutiveLossWarning warns about a building loss streak.
func (mn *MultiNotifier) SendConsecutiveLossWarning(ctx context.Context, losses, limit int) error {
	return mn.Send(ctx, Notification{
		Event:    EventConsecutiveLosses,
		Severity: SeverityWarning,
		Title:    "Consecutive Loss Warning",
		Message:  fmt.Sprintf("%d consecutive losses; circuit breaker trips at %d.", losses, limit),
		Data: map[string]interface{}{
			"losses": losses,
			"limit":  limit,
		},
	})
}

// SendError sends a system error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Event:    EventSystemError,
		Severity: SeverityCritical,
		Title:    "System Error",
		Message:  fmt.Sprintf("Context: %s\nError: %v", errContext, err),
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// LogChannel writes notifications to the structured log. It is always
// enabled so events remain visible without any external channel.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a log-backed notification channel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Name returns the name of the channel.
func (l *LogChannel) Name() string {
	return "log"
}

// IsEnabled returns whether the channel is enabled.
func (l *LogChannel) IsEnabled() bool {
	return true
}

// Send writes the notification at a level matching its severity.
func (l *LogChannel) Send(ctx context.Context, n Notification) error {
	var event *zerolog.Event
	switch n.Severity {
	case SeverityCritical:
		event = l.logger.Error()
	case SeverityWarning:
		event = l.logger.Warn()
	default:
		event = l.logger.Info()
	}

	event.Str("event", string(n.Event)).
		Str("title", n.Title).
		Fields(n.Data).
		Msg(strings.ReplaceAll(n.Message, "\n", " | "))
	return nil
}

// WebhookChannel sends notifications via HTTP webhook.
type WebhookChannel struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookChannel creates a new WebhookChannel.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// IsEnabled returns whether the channel is enabled.
func (w *WebhookChannel) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"event":     n.Event,
		"severity":  n.Severity.String(),
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "adx-trader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// TelegramChannel sends notifications via Telegram bot.
type TelegramChannel struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg config.TelegramConfig) *TelegramChannel {
	return &TelegramChannel{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// IsEnabled returns whether the channel is enabled.
func (t *TelegramChannel) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via the Telegram bot API.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	// HTML parse mode; title bolded
	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier discards all notifications. Used when notifications
// are disabled and as a test double.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendPositionOpened does nothing.
func (n *NoOpNotifier) SendPositionOpened(ctx context.Context, pos *models.Position) error {
	return nil
}

// SendPositionClosed does nothing.
func (n *NoOpNotifier) SendPositionClosed(ctx context.Context, pos *models.Position) error {
	return nil
}

// SendCircuitBreaker does nothing.
func (n *NoOpNotifier) SendCircuitBreaker(ctx context.Context, reason string) error {
	return nil
}

// SendDailyLossWarning does nothing.
func (n *NoOpNotifier) SendDailyLossWarning(ctx context.Context, dailyPnLPercent, limitPercent float64) error {
	return nil
}

// SendConsecutiveLossWarning does nothing.
func (n *NoOpNotifier) SendConsecutiveLossWarning(ctx context.Context, losses, limit int) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}

var (
	_ Notifier = (*MultiNotifier)(nil)
	_ Notifier = (*NoOpNotifier)(nil)
	_ Channel  = (*LogChannel)(nil)
	_ Channel  = (*WebhookChannel)(nil)
	_ Channel  = (*TelegramChannel)(nil)
)
