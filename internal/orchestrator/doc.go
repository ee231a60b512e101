// Package orchestrator はカオス実験の実行を統括する。
//
// Orchestrator が実験のライフサイクル（検証、開始遅延、時間帯チェック、
// 定常状態チェック、障害の逐次・並行実行、確定処理）を駆動し、
// Runner が個々の障害注入とアクティブな注入器のレジストリを管理する。
// 逐次実行では各障害の前に安全チェックが入り、不合格なら実験は
// 打ち切られ、必要に応じてロールバックされる。
//
// # 使用例
//
//	orch := orchestrator.New(orchestrator.Options{Logger: logger, EventBus: bus})
//
//	cfg, _ := orchestrator.GetPreset("network-latency")
//	result := orch.RunExperiment(ctx, cfg)
//	fmt.Printf("status=%s faults=%d/%d\n",
//	    result.Status, result.SuccessfulFaults, result.TotalFaults)
package orchestrator
