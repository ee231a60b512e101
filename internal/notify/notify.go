// Package notify はイベントバスに流れる実験イベントの外部通知を提供する
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chaos-mcp/internal/events"
)

const sendTimeout = 5 * time.Second

// Channel は単一の通知先
type Channel interface {
	Name() string
	Send(ctx context.Context, event events.Event) error
}

// LogChannel はイベントを構造化ログとして出力する通知先
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel は新しいログ通知先を作成する
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// Name は通知先の名前を返す
func (c *LogChannel) Name() string { return "log" }

// Send はイベントをログとして出力する
func (c *LogChannel) Send(_ context.Context, event events.Event) error {
	c.logger.Info("chaos event",
		zap.String("event_type", string(event.Type)),
		zap.String("experiment_id", event.ExperimentID),
		zap.String("experiment", event.Data.Experiment),
		zap.String("status", event.Data.Status),
		zap.Strings("reasons", event.Data.Reasons))
	return nil
}

// WebhookChannel はイベントを JSON として HTTP POST する通知先
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel は新しい Webhook 通知先を作成する
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
	}
}

// Name は通知先の名前を返す
func (c *WebhookChannel) Name() string { return "webhook" }

// Send はイベントを Webhook へ送信する
func (c *WebhookChannel) Send(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChannelsFromConfig は設定の通知チャネル指定から通知先を構築する
//
// 指定は "log" または "webhook:<URL>" の形式を受け付ける。
// 不明な指定は警告ログを出して無視する。
func ChannelsFromConfig(specs []string, logger *zap.Logger) []Channel {
	if logger == nil {
		logger = zap.NewNop()
	}

	var channels []Channel
	for _, spec := range specs {
		switch {
		case spec == "log":
			channels = append(channels, NewLogChannel(logger))
		case strings.HasPrefix(spec, "webhook:"):
			url := strings.TrimPrefix(spec, "webhook:")
			if url == "" {
				logger.Warn("webhook channel missing URL", zap.String("spec", spec))
				continue
			}
			channels = append(channels, NewWebhookChannel(url))
		default:
			logger.Warn("unknown notification channel", zap.String("spec", spec))
		}
	}
	return channels
}

// Notifier はイベントバスを購読して各通知先へ配信する
//
// 配信は非同期で行われ、個々の通知先の失敗は他の通知先や
// 実験の実行に影響しない。
type Notifier struct {
	logger   *zap.Logger
	bus      *events.Bus
	channels []Channel

	running atomic.Bool
	sub     <-chan events.Event
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewNotifier は新しい通知ディスパッチャを作成する
func NewNotifier(bus *events.Bus, channels []Channel, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		logger:   logger,
		bus:      bus,
		channels: channels,
	}
}

// Start は通知ディスパッチを開始する
func (n *Notifier) Start(ctx context.Context) {
	if n.running.Swap(true) {
		return
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.sub = n.bus.Subscribe()

	n.wg.Add(1)
	go n.dispatchLoop(ctx)

	n.logger.Info("notifier started", zap.Int("channels", len(n.channels)))
}

// Stop は通知ディスパッチを停止する
func (n *Notifier) Stop() {
	if !n.running.Swap(false) {
		return
	}

	n.bus.Unsubscribe(n.sub)
	n.cancel()
	n.wg.Wait()

	n.logger.Info("notifier stopped")
}

func (n *Notifier) dispatchLoop(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-n.sub:
			if !ok {
				return
			}
			n.deliver(ctx, event)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, event events.Event) {
	for _, ch := range n.channels {
		n.wg.Add(1)
		go func(ch Channel) {
			defer n.wg.Done()

			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()

			if err := ch.Send(sendCtx, event); err != nil {
				n.logger.Warn("notification delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
			}
		}(ch)
	}
}
