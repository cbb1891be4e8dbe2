package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	storeBackend string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weightgov",
	Short: "Aegis factor-weight governor - 팩터 가중치 거버넌스",
	Long: `Aegis Weight Governor CLI

스코어링 팩터 가중치를 안전하게 관리합니다.
시장 레짐 판단, 성과 기반 EMA 조정, 버전 저장과 롤백까지.

Usage:
  go run ./cmd/weightgov [command]

Examples:
  go run ./cmd/weightgov api --with-scheduler
  go run ./cmd/weightgov regime detect --force-refresh
  go run ./cmd/weightgov weights show
  go run ./cmd/weightgov versions verify
  go run ./cmd/weightgov migrate`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "store backend override (postgres|memory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
