package fault

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chaos-mcp/internal/config"
)

// Process は操作対象のプロセス
type Process struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

// ProcessController はプロセスの検索とシグナル送信を行う
// 実環境ではプロセステーブルを操作する実装を差し込む
type ProcessController interface {
	Find(ctx context.Context, target string) (Process, error)
	Kill(ctx context.Context, p Process) error
	Pause(ctx context.Context, p Process) error
	Resume(ctx context.Context, p Process) error
}

// AuditProcessController は何も実行せず操作を記録する ProcessController
// デフォルトの安全な実装
type AuditProcessController struct {
	logger *zap.Logger

	mu      sync.Mutex
	actions []string
}

// NewAuditProcessController は新しい監査専用コントローラを作成する
func NewAuditProcessController(logger *zap.Logger) *AuditProcessController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditProcessController{logger: logger}
}

// Find は対象名をそのまま返す（実プロセスは検索しない）
func (a *AuditProcessController) Find(_ context.Context, target string) (Process, error) {
	return Process{PID: 0, Name: target}, nil
}

func (a *AuditProcessController) record(action string, p Process) {
	a.logger.Info("would signal process",
		zap.String("action", action),
		zap.String("process", p.Name),
		zap.Int("pid", p.PID))
	a.mu.Lock()
	a.actions = append(a.actions, fmt.Sprintf("%s %s(%d)", action, p.Name, p.PID))
	a.mu.Unlock()
}

// Kill は kill 操作を記録するのみで実行しない
func (a *AuditProcessController) Kill(_ context.Context, p Process) error {
	a.record("kill", p)
	return nil
}

// Pause は SIGSTOP 相当の操作を記録するのみで実行しない
func (a *AuditProcessController) Pause(_ context.Context, p Process) error {
	a.record("pause", p)
	return nil
}

// Resume は SIGCONT 相当の操作を記録するのみで実行しない
func (a *AuditProcessController) Resume(_ context.Context, p Process) error {
	a.record("resume", p)
	return nil
}

// Actions は記録された全操作を返す
func (a *AuditProcessController) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.actions))
	copy(out, a.actions)
	return out
}

// processInjector はプロセスの強制終了・一時停止を注入する
type processInjector struct {
	*state
	proc ProcessController
}

func newProcessInjector(cfg config.FaultConfig, opts Options) *processInjector {
	proc := opts.Proc
	if proc == nil {
		proc = NewAuditProcessController(opts.Logger)
	}
	return &processInjector{state: newState(cfg, opts), proc: proc}
}

// Inject は対象プロセスを検索して kill または pause を行う
func (p *processInjector) Inject(ctx context.Context) (Report, error) {
	target := p.cfg.Target
	if target == "" {
		p.logger.Warn("no target specified for process fault",
			zap.String("fault", p.cfg.Name))
		return Report{"type": string(p.cfg.Type), "applied": false}, nil
	}

	proc, err := p.proc.Find(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("find process %q: %w", target, err)
	}

	switch p.cfg.Type {
	case config.FaultProcessKill:
		if err := p.proc.Kill(ctx, proc); err != nil {
			return nil, fmt.Errorf("kill process %q: %w", target, err)
		}
		return Report{
			"type":    "process_kill",
			"process": proc.Name,
			"pid":     proc.PID,
			"applied": true,
		}, nil

	case config.FaultProcessPause:
		if err := p.proc.Pause(ctx, proc); err != nil {
			return nil, fmt.Errorf("pause process %q: %w", target, err)
		}
		// 一時停止の時点で再開を undo に積む
		p.pushUndo(fmt.Sprintf("resume %s", proc.Name), func(ctx context.Context) error {
			return p.proc.Resume(ctx, proc)
		})
		return Report{
			"type":    "process_pause",
			"process": proc.Name,
			"pid":     proc.PID,
			"applied": true,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFaultType, p.cfg.Type)
	}
}

// Cleanup は一時停止したプロセスを再開する
func (p *processInjector) Cleanup(ctx context.Context) error {
	p.runUndo(ctx)
	return nil
}
