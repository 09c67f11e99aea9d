package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/internal/agent"
	"github.com/feichai0017/plan-takeoff/internal/agent/chunk"
	"github.com/feichai0017/plan-takeoff/internal/agent/llm"
	"github.com/feichai0017/plan-takeoff/internal/agent/sheet"
	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/internal/service/ingest"
	"github.com/feichai0017/plan-takeoff/internal/service/takeoff"
	"github.com/feichai0017/plan-takeoff/internal/utils/validator"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
	"github.com/feichai0017/plan-takeoff/pkg/storage"
	"github.com/feichai0017/plan-takeoff/pkg/worker"
)

func main() {
	serverCfg := config.GetServerConfig()

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(serverCfg.LogLevel),
		logger.WithEncoding("json"),
		logger.WithInitialFields(map[string]interface{}{"service": "worker"}),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := config.LoadPipelineConfig(serverCfg.PipelineFile)
	if err != nil {
		log.Error("Failed to load pipeline config", logger.Error(err))
		os.Exit(1)
	}

	store, err := repository.Open(ctx, config.GetDatabaseConfig(), log)
	if err != nil {
		log.Error("Failed to open database", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	objects, err := storage.NewStorage(ctx, storage.StorageType(serverCfg.StorageType), log)
	if err != nil {
		log.Error("Failed to create storage", logger.Error(err))
		os.Exit(1)
	}

	extraction, err := agent.NewExtraction(ctx, pipeline, objects, log)
	if err != nil {
		log.Error("Failed to create extraction stack", logger.Error(err))
		os.Exit(1)
	}

	completer, err := llm.NewCompleter(config.GetLLMConfig(), log)
	if err != nil {
		log.Error("Failed to create completer", logger.Error(err))
		os.Exit(1)
	}

	retriever := ingest.NewRetriever(objects, pipeline.Retriever, log)

	// 摄取流程
	coordinator := ingest.NewCoordinator(ingest.Deps{
		Plans:     store,
		Sheets:    store,
		Chunks:    store,
		Status:    ingest.NewStatusReporter(store, log),
		Fetcher:   retriever,
		Validator: validator.NewPlanValidator(log, &validator.ValidatorConfig{MaxFileSize: pipeline.Retriever.MaxBytes, MaxPageCount: 2000}),
		Text:      extraction.Text,
		Images:    extraction.Images,
		Rehoster:  extraction.Rehoster,
		OCR:       extraction.OCR,
		Indexer:   sheet.NewBuilder(),
		Chunker:   chunk.NewEngine(log),
	}, ingest.Options{
		ImagesEnabled: pipeline.Extraction.ImagesEnabled,
		ImageDPI:      pipeline.Extraction.ImageDPI,
		ProjectPages:  pipeline.Extraction.ProjectPages,
		Chunking: chunk.Options{
			TargetTokens: pipeline.Chunking.TargetTokens,
			OverlapPct:   pipeline.Chunking.OverlapPct,
			MaxTokens:    pipeline.Chunking.MaxTokens,
			MinTokens:    pipeline.Chunking.MinTokens,
		},
	}, log)

	// 工程量计算流程
	tk := pipeline.Takeoff
	orchestrator := takeoff.NewOrchestrator(
		takeoff.NewPageLoader(retriever, extraction.Text, extraction.Images, extraction.Rehoster, pipeline.Extraction.ImageDPI, log),
		completer,
		takeoff.NewStorageSink(objects, tk.ResultPrefix, tk.Currency, log),
		takeoff.Config{
			PagesPerBatch:      tk.PagesPerBatch,
			MaxParallelBatches: tk.MaxParallelBatches,
			MaxTokens:          tk.MaxTokens,
			Temperature:        float32(tk.Temperature),
			Currency:           tk.Currency,
			Merge: takeoff.MergeConfig{
				ConfidenceDelta:    tk.ConfidenceDelta,
				DimensionTolerance: tk.DimensionTolerance,
			},
		},
		log,
	)

	q, err := queue.GetQueue(log)
	if err != nil {
		log.Error("Failed to connect queue", logger.Error(err))
		os.Exit(1)
	}
	defer q.Close()

	// 创建 worker
	planWorker := worker.NewPlanWorker(worker.ConfigFromEnv(), coordinator, orchestrator, store, q, log)
	if err := planWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.String("storage", serverCfg.StorageType))

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	planWorker.Stop()
	log.Info("Worker stopped")
}
