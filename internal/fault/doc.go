// Package fault は障害注入器とその実行ライフサイクルを提供する。
//
// Injector は単一の障害（ネットワーク遅延、パケットロス、リソース圧迫、
// プロセス操作、時刻ドリフトなど）を注入・除去する。Run が
// 確率ゲート → 遅延 → 注入 → アクティブウィンドウ → クリーンアップ
// のライフサイクル全体を駆動し、注入後は必ずクリーンアップに到達する。
//
// 破壊的な操作は Shaper / ProcessController の実装を差し込んだ場合のみ
// 実行され、デフォルトでは監査ログに記録されるだけで何も変更しない。
//
// # 使用例
//
//	cfg := config.FaultConfig{
//	    Type:        config.FaultNetworkLatency,
//	    Name:        "api-latency",
//	    Probability: 1.0,
//	    Duration:    30 * time.Second,
//	    Network:     &config.NetworkParams{LatencyMS: 200},
//	}
//
//	inj, err := fault.New(cfg, fault.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//
//	outcome, err := fault.Run(ctx, inj, func(ctx context.Context) {
//	    // 障害がアクティブな間の監視を呼び出し側が駆動する
//	})
package fault
