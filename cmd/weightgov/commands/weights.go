package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// weightsCmd represents the weights command
var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "팩터 가중치 조회/변경",
	Long: `현재 유효 가중치 조회와 운영자 변경(롤백/리셋)을 수행합니다.

Subcommands:
  show      - 현재 유효 가중치
  history   - 변경 이력 (최신순)
  update    - 성과 기반 가중치 갱신 1회 실행
  rollback  - N단계 이전 벡터로 롤백
  reset     - 안전 기본값(균등)으로 리셋
  import    - 체결 결과(JSON) 적재

Example:
  go run ./cmd/weightgov weights show
  go run ./cmd/weightgov weights history --limit 10
  go run ./cmd/weightgov weights import outcomes.json
  go run ./cmd/weightgov weights update --since 2026-07-01
  go run ./cmd/weightgov weights rollback --steps 2 --reason "bad signal"`,
}

var (
	historyLimit  int
	rollbackSteps int
	changeReason  string
	updateSince   string

	weightsShowCmd = &cobra.Command{
		Use:   "show",
		Short: "현재 유효 가중치",
		RunE:  runWeightsShow,
	}

	weightsHistoryCmd = &cobra.Command{
		Use:   "history",
		Short: "변경 이력",
		RunE:  runWeightsHistory,
	}

	weightsUpdateCmd = &cobra.Command{
		Use:   "update",
		Short: "성과 기반 가중치 갱신",
		RunE:  runWeightsUpdate,
	}

	weightsRollbackCmd = &cobra.Command{
		Use:   "rollback",
		Short: "N단계 롤백",
		RunE:  runWeightsRollback,
	}

	weightsResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "안전 기본값으로 리셋",
		RunE:  runWeightsReset,
	}

	weightsImportCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "체결 결과 적재",
		Args:  cobra.ExactArgs(1),
		RunE:  runWeightsImport,
	}
)

func init() {
	rootCmd.AddCommand(weightsCmd)
	weightsCmd.AddCommand(weightsShowCmd)
	weightsCmd.AddCommand(weightsHistoryCmd)
	weightsCmd.AddCommand(weightsUpdateCmd)
	weightsCmd.AddCommand(weightsRollbackCmd)
	weightsCmd.AddCommand(weightsResetCmd)
	weightsCmd.AddCommand(weightsImportCmd)

	weightsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON 출력")
	weightsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "최대 건수")
	weightsUpdateCmd.Flags().StringVar(&updateSince, "since", "", "이 날짜(YYYY-MM-DD) 이후 체결만 사용 (기본: lookback)")
	weightsRollbackCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "되돌릴 단계 수")
	weightsRollbackCmd.Flags().StringVar(&changeReason, "reason", "", "변경 사유")
	weightsResetCmd.Flags().StringVar(&changeReason, "reason", "", "변경 사유")
}

func runWeightsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	st := a.gov.Status(ctx)
	if jsonOutput {
		return PrintJSON(st)
	}

	PrintHeader("Effective weights")
	PrintKeyValue("Provider", st.Provider, 10)
	PrintKeyValue("Available", fmt.Sprintf("%t", st.Available), 10)
	PrintKeyValue("History", fmt.Sprintf("%d", st.HistoryLen), 10)
	PrintSeparator()
	PrintWeights(st.Weights)

	if !st.Available {
		PrintWarning("Provider has no adopted vector yet, serving the safe default")
	}
	return nil
}

func runWeightsHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	records := a.gov.Engine().History(historyLimit)
	if jsonOutput {
		return PrintJSON(records)
	}

	PrintHeader(fmt.Sprintf("Change history (%d)", len(records)))
	widths := []int{19, 9, 5, 40}
	PrintTableHeader([]string{"AT", "KIND", "VALID", "REASON"}, widths)
	for _, rec := range records {
		PrintTableRow([]string{
			formatTime(rec.At),
			string(rec.Kind),
			fmt.Sprintf("%t", rec.Valid),
			rec.Reason,
		}, widths)
	}
	return nil
}

func runWeightsUpdate(cmd *cobra.Command, args []string) error {
	var since time.Time
	if updateSince != "" {
		t, err := time.ParseInLocation("2006-01-02", updateSince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		since = t
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res, err := a.gov.RunPerformanceUpdate(ctx, since)
	if err != nil {
		return fmt.Errorf("performance update: %w", err)
	}
	if jsonOutput {
		return PrintJSON(res)
	}

	pm := res.Metrics
	PrintHeader("Performance update")
	PrintKeyValue("Samples", fmt.Sprintf("%d", pm.SampleCount), 10)
	PrintKeyValue("Win rate", fmt.Sprintf("%.1f%%", pm.WinRate*100), 10)
	PrintKeyValue("Avg return", fmt.Sprintf("%.2f%%", pm.AvgReturn*100), 10)
	PrintKeyValue("Sharpe", fmt.Sprintf("%.2f", pm.Sharpe), 10)
	PrintKeyValue("Max DD", fmt.Sprintf("%.2f%%", pm.MaxDrawdown*100), 10)
	PrintSeparator()

	switch {
	case res.RolledBack:
		PrintWarning("Performance collapse, last change rolled back")
	case a.gov.Collapsed(pm):
		PrintWarning("Performance still collapsed, weights held")
		return nil
	case res.Change == nil:
		PrintInfo("Not enough samples, weights unchanged")
		return nil
	default:
		PrintSuccess("Weights updated")
	}
	PrintWeights(res.Change.New)
	return nil
}

func runWeightsRollback(cmd *cobra.Command, args []string) error {
	if rollbackSteps < 1 {
		return fmt.Errorf("--steps must be >= 1")
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	rec, err := a.gov.Rollback(ctx, rollbackSteps, changeReason)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return printChange(rec)
}

func runWeightsReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	return printChange(a.gov.Reset(ctx, changeReason))
}

func runWeightsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var outcomes []contracts.TradeOutcome
	if err := json.Unmarshal(data, &outcomes); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if err := a.outcomes.SaveOutcomes(ctx, outcomes); err != nil {
		return fmt.Errorf("save outcomes: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Imported %d outcomes", len(outcomes)))
	return nil
}

// printChange prints one committed change record
func printChange(rec *contracts.WeightChangeRecord) error {
	if jsonOutput {
		return PrintJSON(rec)
	}

	PrintHeader(fmt.Sprintf("Weights changed (%s)", rec.Kind))
	PrintKeyValue("Reason", rec.Reason, 8)
	PrintKeyValue("At", formatTime(rec.At), 8)
	PrintSeparator()
	PrintWeights(rec.New)
	return nil
}
