package fault

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"chaos-mcp/internal/config"
	"chaos-mcp/internal/worker"
)

const chunkSize = 1024 * 1024 // 1 MB

// resourceInjector は CPU・メモリ・ディスク・FD のリソース圧迫を注入する
type resourceInjector struct {
	*state
	pool *worker.Pool

	mu     sync.Mutex
	chunks [][]byte   // メモリ圧迫用の確保済みチャンク
	files  []*os.File // FD枯渇用のオープン済みファイル
	stopCh chan struct{}
}

func newResourceInjector(cfg config.FaultConfig, opts Options) *resourceInjector {
	return &resourceInjector{state: newState(cfg, opts), pool: opts.Pool}
}

// Inject はリソース種別に応じた圧迫を開始する
func (r *resourceInjector) Inject(ctx context.Context) (Report, error) {
	switch r.cfg.Type {
	case config.FaultCPUPressure:
		return r.injectCPUPressure(ctx)
	case config.FaultMemoryPressure:
		return r.injectMemoryPressure(ctx)
	case config.FaultDiskPressure:
		return r.injectDiskPressure(ctx)
	case config.FaultFDExhaustion:
		return r.injectFDExhaustion(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFaultType, r.cfg.Type)
	}
}

// params はリソースパラメータブロックを返す（未指定ならゼロ値）
func (r *resourceInjector) params() config.ResourceParams {
	if r.cfg.Resource != nil {
		return *r.cfg.Resource
	}
	return config.ResourceParams{}
}

// injectCPUPressure はワーカープール上でビジーループを回して CPU を圧迫する
func (r *resourceInjector) injectCPUPressure(_ context.Context) (Report, error) {
	p := r.params()
	workers := p.CPUWorkers
	if workers <= 0 {
		workers = 1
	}
	percentage := p.CPUPercentage
	if percentage <= 0 {
		percentage = 80.0
	}

	if r.pool == nil {
		return nil, fmt.Errorf("cpu pressure requires a worker pool")
	}

	stopCh := make(chan struct{})
	r.mu.Lock()
	r.stopCh = stopCh
	r.mu.Unlock()

	submitted := 0
	for w := 0; w < workers; w++ {
		ok := r.pool.Submit(func() {
			for {
				select {
				case <-stopCh:
					return
				default:
					// CPUサイクルを消費する
					var sum int
					for i := 0; i < 10000; i++ {
						sum += i * i
					}
					_ = sum
					runtime.Gosched()
				}
			}
		})
		if ok {
			submitted++
		}
	}

	r.pushUndo("stop cpu workers", func(context.Context) error {
		close(stopCh)
		return nil
	})

	r.logger.Info("cpu pressure started",
		zap.String("fault", r.cfg.Name),
		zap.Int("workers", submitted))

	return Report{
		"type":       "cpu_pressure",
		"workers":    submitted,
		"percentage": percentage,
	}, nil
}

// injectMemoryPressure はメモリチャンクを確保して保持する
// 確保だけでは物理メモリに載らないためページ単位でタッチする
func (r *resourceInjector) injectMemoryPressure(_ context.Context) (Report, error) {
	memoryMB := r.params().MemoryMB
	if memoryMB <= 0 {
		memoryMB = 100
	}

	chunks := make([][]byte, 0, memoryMB)
	for m := 0; m < memoryMB; m++ {
		chunk := make([]byte, chunkSize)
		for i := 0; i < chunkSize; i += 4096 {
			chunk[i] = 1
		}
		chunks = append(chunks, chunk)
	}

	r.mu.Lock()
	r.chunks = chunks
	r.mu.Unlock()

	r.pushUndo("release memory", func(context.Context) error {
		r.mu.Lock()
		r.chunks = nil
		r.mu.Unlock()
		return nil
	})

	r.logger.Info("memory allocated",
		zap.String("fault", r.cfg.Name),
		zap.Int("memory_mb", memoryMB))

	return Report{
		"type":         "memory_pressure",
		"allocated_mb": memoryMB,
	}, nil
}

// injectDiskPressure はランダムデータのファイルを書き込んでディスクを圧迫する
func (r *resourceInjector) injectDiskPressure(_ context.Context) (Report, error) {
	p := r.params()
	sizeMB := p.DiskSizeMB
	if sizeMB <= 0 {
		sizeMB = 100
	}
	dir := p.DiskPath
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, fmt.Sprintf("chaos_disk_%d.tmp", time.Now().UnixNano()))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pressure file: %w", err)
	}

	r.pushUndo("remove pressure file", func(context.Context) error {
		return os.Remove(path)
	})

	buf := make([]byte, chunkSize)
	for s := 0; s < sizeMB; s++ {
		if _, err := rand.Read(buf); err != nil {
			f.Close()
			return nil, fmt.Errorf("generate pressure data: %w", err)
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return nil, fmt.Errorf("write pressure file: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("sync pressure file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close pressure file: %w", err)
	}

	r.logger.Info("disk pressure file created",
		zap.String("fault", r.cfg.Name),
		zap.String("path", path),
		zap.Int("size_mb", sizeMB))

	return Report{
		"type":      "disk_pressure",
		"file_path": path,
		"size_mb":   sizeMB,
	}, nil
}

// injectFDExhaustion はファイルを開いたまま保持して FD を消費する
func (r *resourceInjector) injectFDExhaustion(_ context.Context) (Report, error) {
	p := r.params()
	count := p.FDCount
	if count <= 0 {
		count = 1000
	}
	fdType := p.FDType
	if fdType == "" {
		fdType = "file"
	}

	files := make([]*os.File, 0, count)
	for c := 0; c < count; c++ {
		f, err := os.CreateTemp("", "chaos_fd_*.tmp")
		if err != nil {
			// 確保済みの分は undo で解放される
			r.storeFiles(files)
			return Report{
				"type":    "fd_exhaustion",
				"count":   len(files),
				"fd_type": fdType,
			}, nil
		}
		files = append(files, f)
	}

	r.storeFiles(files)

	r.logger.Info("file descriptors opened",
		zap.String("fault", r.cfg.Name),
		zap.Int("count", len(files)))

	return Report{
		"type":    "fd_exhaustion",
		"count":   len(files),
		"fd_type": fdType,
	}, nil
}

// storeFiles はオープン済みファイルを保持し、解放を undo に積む
func (r *resourceInjector) storeFiles(files []*os.File) {
	if len(files) == 0 {
		return
	}

	r.mu.Lock()
	r.files = files
	r.mu.Unlock()

	r.pushUndo("close file descriptors", func(context.Context) error {
		r.mu.Lock()
		held := r.files
		r.files = nil
		r.mu.Unlock()

		for _, f := range held {
			name := f.Name()
			f.Close()
			os.Remove(name)
		}
		return nil
	})
}

// Cleanup は確保したリソースを全て解放する
func (r *resourceInjector) Cleanup(ctx context.Context) error {
	r.runUndo(ctx)
	return nil
}
