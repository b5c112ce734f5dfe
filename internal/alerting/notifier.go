package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"pumpguard/internal/storage"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert storage.Alert) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name implements Notifier.
func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, alert storage.Alert) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(alert),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal telegram payload: %w", err))
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create telegram request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode))
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return backoff.Permanent(fmt.Errorf("telegram 返回 ok=false"))
		}
	}

	n.logger.Info().
		Str("pair", alert.PairName).
		Str("alert_type", string(alert.Type)).
		Float64("score", alert.Score).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(alert storage.Alert) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[PumpGuard %s]\n", alert.Type))
	builder.WriteString(fmt.Sprintf("Pair: %s\n", alert.PairName))
	if alert.PairAddress != "" {
		builder.WriteString(fmt.Sprintf("Address: %s\n", alert.PairAddress))
	}
	builder.WriteString(fmt.Sprintf("Score: %.2f\n", alert.Score))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", alert.CreatedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(alert.Description)
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
