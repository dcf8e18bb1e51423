package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"career-agent-go/internal/bootstrap"
	"career-agent-go/internal/config"
	"career-agent-go/internal/index"
)

func newBuildIndexCmd() *cobra.Command {
	var corpusPath, outPath string
	cmd := &cobra.Command{
		Use:   "build-index",
		Short: "Embed a corpus file and write an index snapshot",
		Long:  "Embeds every corpus item, builds an index generation and writes its snapshot as JSON. The snapshot can be loaded by analyze --snapshot.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if corpusPath != "" {
				cfg.Data.CorpusPath = corpusPath
			}
			cfg.Pipeline.GenerateAdvice = false

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()
			application, err := bootstrap.New(ctx, cfg, nil)
			if err != nil {
				return err
			}
			info, err := application.Rebuilder.Rebuild(ctx, "cli")
			if err != nil {
				return fmt.Errorf("构建索引失败: %w", err)
			}
			g, err := application.Index.Current()
			if err != nil {
				return err
			}
			if err := writeSnapshot(outPath, g.Snapshot()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %s: %d items, dim %d, lists %d -> %s\n",
				info.GenerationID, info.Items, info.Dim, info.Lists, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Path to corpus JSON file (defaults to data.corpus_path)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Path to output snapshot JSON file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func writeSnapshot(path string, snap *index.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

func readSnapshot(path string) (*index.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}
	var snap index.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("解析快照失败: %w", err)
	}
	return &snap, nil
}
