// Package monitor は実験中のメトリクス収集と監視機能を提供する。
//
// Collector は固定サイズのリングバッファで任意のメトリクスを収集し、
// 平均・パーセンタイル・レートなどの集計を提供する。
// Health はランタイムメトリクスと登録されたヘルスチェックを
// 定期的に収集し、エラー率や成功率のスナップショットを返す。
// FaultMonitor は個々の障害注入のアクティブウィンドウを駆動し、
// Recovery は注入後のベースラインへの復旧を監視する。
//
// # 使用例
//
//	health := monitor.NewHealth(monitor.DefaultHealthConfig(), logger)
//	health.Start(ctx)
//	defer health.Stop()
//
//	health.RegisterCheck("api", func(ctx context.Context) error {
//	    return pingAPI(ctx)
//	})
//
//	metrics := health.Metrics()
//	fmt.Printf("error_rate=%.2f p99=%v\n", metrics.ErrorRate, metrics.LatencyP99)
package monitor
