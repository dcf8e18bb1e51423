// Package main 提供 careerctl 命令行：语料校验、离线建索引与单份简历分析
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "careerctl",
		Short:         "Career agent command line tools",
		Long:          "careerctl validates corpus files, builds index snapshots offline and analyzes a single resume against a target role.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	root.AddCommand(newValidateCorpusCmd(), newBuildIndexCmd(), newAnalyzeCmd())
	return root
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
