package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/ingest"
	"github.com/surveyor-ai/surveyor/internal/knowledge"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var worker = &cobra.Command{
		Use:   "worker",
		Short: "Run the knowledge ingestion worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			provider, err := llm.NewFromConfig(cfg.LLM)
			if err != nil {
				return err
			}
			vectors, err := knowledge.NewMilvusStore(ctx, cfg.Storage.Milvus)
			if err != nil {
				return err
			}

			syncer, err := ingest.NewFolderSyncer(st, cfg.Ingest.FolderSyncCron)
			if err != nil {
				return err
			}
			go syncer.Run(ctx)

			log.Printf("[WORKER] ingestion worker started")
			ingest.NewWorker(st, vectors, provider, cfg.LLM.Routing.Embedding, cfg.Ingest).Run(ctx)
			return nil
		},
	}
	worker.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return worker
}
