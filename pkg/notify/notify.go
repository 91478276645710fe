// Package notify delivers sentinel alerts to Slack. The notifier receives
// every created alert but posts only when a check escalates into critical,
// so a streak that stays critical produces one channel message, not one per
// interval. A nil *Notifier is valid and does nothing, so callers wire it
// unconditionally.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/sentinel"
)

const defaultTimeout = 10 * time.Second

// Notifier posts critical alerts to a Slack channel. It implements
// sentinel.Notifier.
type Notifier struct {
	api     *goslack.Client
	channel string
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]sentinel.Severity
}

// New builds a Notifier from config. It returns nil when notifications are
// disabled or the token or channel is missing.
func New(cfg config.NotifyConfig) *Notifier {
	if !cfg.Enabled {
		return nil
	}
	token := os.Getenv(cfg.SlackTokenEnv)
	if token == "" || cfg.SlackChannel == "" {
		slog.Warn("Slack notifications enabled but not configured",
			"token_env", cfg.SlackTokenEnv, "channel_set", cfg.SlackChannel != "")
		return nil
	}
	return newNotifier(goslack.New(token), cfg)
}

// NewWithAPIURL builds a Notifier against an alternate Slack API endpoint.
// Used by tests running a mock server.
func NewWithAPIURL(token, apiURL string, cfg config.NotifyConfig) *Notifier {
	return newNotifier(goslack.New(token, goslack.OptionAPIURL(apiURL)), cfg)
}

func newNotifier(api *goslack.Client, cfg config.NotifyConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		api:     api,
		channel: cfg.SlackChannel,
		timeout: timeout,
		logger:  slog.Default().With("component", "notify"),
		seen:    make(map[string]sentinel.Severity),
	}
}

// AlertCreated posts the alert to the configured channel when it marks the
// transition into critical. The alert manager replaces the active alert on
// every failure past the threshold, so this sees the full severity ladder
// per streak and can gate on the previous step. A cleared alert produces no
// call here; the next streak starts the ladder over at info.
func (n *Notifier) AlertCreated(ctx context.Context, alert sentinel.Alert) error {
	if n == nil {
		return nil
	}
	if !n.shouldPost(alert) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	blocks := BuildAlertMessage(alert)
	if _, _, err := n.api.PostMessageContext(ctx, n.channel, goslack.MsgOptionBlocks(blocks...)); err != nil {
		return fmt.Errorf("post alert %s to slack: %w", alert.ID, err)
	}
	n.logger.Info("Posted alert to Slack",
		"check", alert.CheckName, "target", alert.Target, "channel", n.channel)
	return nil
}

func (n *Notifier) shouldPost(alert sentinel.Alert) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.seen[alert.CheckName]
	n.seen[alert.CheckName] = alert.Severity
	return alert.Severity == sentinel.SeverityCritical && prev != sentinel.SeverityCritical
}
