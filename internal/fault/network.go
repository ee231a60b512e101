package fault

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chaos-mcp/internal/config"
)

// Shaper はネットワーク整形ルールの適用と巻き戻しを行う
// 実環境では tc / iptables を実行する実装を差し込む
type Shaper interface {
	Apply(ctx context.Context, rule string) error
	Revert(ctx context.Context, rule string) error
}

// AuditShaper は何も実行せずコマンドを記録する Shaper
// デフォルトの安全な実装で、適用されるはずのルールを監査ログとして残す
type AuditShaper struct {
	logger *zap.Logger

	mu       sync.Mutex
	commands []string
}

// NewAuditShaper は新しい監査専用 Shaper を作成する
func NewAuditShaper(logger *zap.Logger) *AuditShaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditShaper{logger: logger}
}

// Apply はルールを記録するのみで実行しない
func (a *AuditShaper) Apply(_ context.Context, rule string) error {
	a.logger.Info("would execute", zap.String("command", rule))
	a.mu.Lock()
	a.commands = append(a.commands, rule)
	a.mu.Unlock()
	return nil
}

// Revert は巻き戻しコマンドを記録するのみで実行しない
func (a *AuditShaper) Revert(_ context.Context, rule string) error {
	a.logger.Info("would execute cleanup", zap.String("command", rule))
	a.mu.Lock()
	a.commands = append(a.commands, rule)
	a.mu.Unlock()
	return nil
}

// Commands は記録された全コマンドを返す
func (a *AuditShaper) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.commands))
	copy(out, a.commands)
	return out
}

// networkInjector は tc / iptables スタイルのルールでネットワーク障害を注入する
type networkInjector struct {
	*state
	shaper Shaper
}

func newNetworkInjector(cfg config.FaultConfig, opts Options) *networkInjector {
	shaper := opts.Shaper
	if shaper == nil {
		shaper = NewAuditShaper(opts.Logger)
	}
	return &networkInjector{state: newState(cfg, opts), shaper: shaper}
}

// Inject は障害種別に応じた整形ルールを適用する
func (n *networkInjector) Inject(ctx context.Context) (Report, error) {
	switch n.cfg.Type {
	case config.FaultNetworkLatency:
		return n.injectLatency(ctx)
	case config.FaultNetworkPacketLoss:
		return n.injectPacketLoss(ctx)
	case config.FaultNetworkBandwidth:
		return n.injectBandwidthLimit(ctx)
	case config.FaultNetworkPartition:
		return n.injectPartition(ctx)
	case config.FaultNetworkDNSFailure:
		return n.injectDNSFailure(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFaultType, n.cfg.Type)
	}
}

// params はネットワークパラメータブロックを返す（未指定ならゼロ値）
func (n *networkInjector) params() config.NetworkParams {
	if n.cfg.Network != nil {
		return *n.cfg.Network
	}
	return config.NetworkParams{}
}

func (n *networkInjector) iface() string {
	if p := n.params(); p.Interface != "" {
		return p.Interface
	}
	return "eth0"
}

// applyRule はルールを適用し、対応する巻き戻しを undo スタックに積む
func (n *networkInjector) applyRule(ctx context.Context, rule, revert string) error {
	if err := n.shaper.Apply(ctx, rule); err != nil {
		return fmt.Errorf("apply rule %q: %w", rule, err)
	}
	n.pushUndo("revert: "+revert, func(ctx context.Context) error {
		return n.shaper.Revert(ctx, revert)
	})
	return nil
}

func (n *networkInjector) injectLatency(ctx context.Context) (Report, error) {
	p := n.params()
	latency := p.LatencyMS
	if latency == 0 {
		latency = 100
	}
	jitter := p.JitterMS
	if jitter == 0 {
		jitter = 10
	}

	rule := fmt.Sprintf("tc qdisc add dev %s root netem delay %dms %dms",
		n.iface(), latency, jitter)
	if p.Correlation > 0 {
		rule += fmt.Sprintf(" %d%%", int(p.Correlation*100))
	}

	if err := n.applyRule(ctx, rule, strings.Replace(rule, "add", "del", 1)); err != nil {
		return nil, err
	}

	return Report{
		"type":       "latency",
		"interface":  n.iface(),
		"latency_ms": latency,
		"jitter_ms":  jitter,
	}, nil
}

func (n *networkInjector) injectPacketLoss(ctx context.Context) (Report, error) {
	p := n.params()
	loss := p.LossPercentage
	if loss == 0 {
		loss = 5.0
	}

	rule := fmt.Sprintf("tc qdisc add dev %s root netem loss %g%%", n.iface(), loss)
	if p.LossCorrelation > 0 {
		rule += fmt.Sprintf(" %d%%", int(p.LossCorrelation*100))
	}

	if err := n.applyRule(ctx, rule, strings.Replace(rule, "add", "del", 1)); err != nil {
		return nil, err
	}

	return Report{
		"type":            "packet_loss",
		"interface":       n.iface(),
		"loss_percentage": loss,
	}, nil
}

func (n *networkInjector) injectBandwidthLimit(ctx context.Context) (Report, error) {
	p := n.params()
	limit := p.BandwidthMbps
	if limit == 0 {
		limit = 1.0
	}

	iface := n.iface()
	rules := []string{
		fmt.Sprintf("tc qdisc add dev %s root handle 1: htb default 30", iface),
		fmt.Sprintf("tc class add dev %s parent 1: classid 1:1 htb rate %gmbit", iface, limit),
		fmt.Sprintf("tc class add dev %s parent 1:1 classid 1:30 htb rate %gmbit", iface, limit),
	}

	for _, rule := range rules {
		if err := n.applyRule(ctx, rule, strings.Replace(rule, "add", "del", 1)); err != nil {
			return nil, err
		}
	}

	return Report{
		"type":       "bandwidth_limit",
		"interface":  iface,
		"limit_mbps": limit,
	}, nil
}

func (n *networkInjector) injectPartition(ctx context.Context) (Report, error) {
	targets := n.params().TargetHosts

	for _, target := range targets {
		// 双方向の通信を遮断する
		rules := []string{
			fmt.Sprintf("iptables -A INPUT -s %s -j DROP", target),
			fmt.Sprintf("iptables -A OUTPUT -d %s -j DROP", target),
		}
		for _, rule := range rules {
			if err := n.applyRule(ctx, rule, strings.Replace(rule, "-A", "-D", 1)); err != nil {
				return nil, err
			}
		}
	}

	return Report{
		"type":          "partition",
		"blocked_hosts": targets,
	}, nil
}

func (n *networkInjector) injectDNSFailure(ctx context.Context) (Report, error) {
	rules := []string{
		"iptables -A OUTPUT -p udp --dport 53 -j DROP",
		"iptables -A OUTPUT -p tcp --dport 53 -j DROP",
	}

	for _, rule := range rules {
		if err := n.applyRule(ctx, rule, strings.Replace(rule, "-A", "-D", 1)); err != nil {
			return nil, err
		}
	}

	return Report{
		"type":          "dns_failure",
		"blocked_ports": []int{53},
	}, nil
}

// Cleanup は適用済みルールを逆順に巻き戻す
func (n *networkInjector) Cleanup(ctx context.Context) error {
	n.runUndo(ctx)
	return nil
}
