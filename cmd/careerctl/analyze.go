package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"career-agent-go/internal/bootstrap"
	"career-agent-go/internal/config"
	"career-agent-go/internal/processor"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		filePath     string
		role         string
		snapshotPath string
		password     string
		k            int
		noAdvice     bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one resume against a target role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("读取简历失败: %w", err)
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if noAdvice {
				cfg.Pipeline.GenerateAdvice = false
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			application, err := bootstrap.New(ctx, cfg, nil)
			if err != nil {
				return err
			}
			if snapshotPath != "" {
				snap, err := readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
				if _, err := application.Rebuilder.RestoreSnapshot(ctx, snap); err != nil {
					return fmt.Errorf("恢复索引失败: %w", err)
				}
			} else if _, err := application.Rebuilder.Rebuild(ctx, "cli"); err != nil {
				return fmt.Errorf("构建索引失败: %w", err)
			}

			res, err := application.Pipeline.Recommend(ctx, processor.Request{
				Document:   doc,
				Password:   password,
				TargetRole: role,
				K:          k,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Path to resume (PDF or text, required)")
	cmd.Flags().StringVarP(&role, "role", "r", "", "Target role name (required)")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Index snapshot written by build-index")
	cmd.Flags().StringVar(&password, "password", "", "Password for encrypted PDFs")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of recommendations")
	cmd.Flags().BoolVar(&noAdvice, "no-advice", false, "Skip advice generation")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
