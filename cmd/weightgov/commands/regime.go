package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/weightgov/internal/governor"
)

// regimeCmd represents the regime command
var regimeCmd = &cobra.Command{
	Use:   "regime",
	Short: "시장 레짐 판단",
	Long: `시장 지표 스냅샷으로 레짐을 판단하고 프리셋 전환을 진행합니다.

Subcommands:
  detect  - 레짐 판단 1회 실행
  status  - 현재 레짐과 전환 상태

Example:
  go run ./cmd/weightgov regime detect --force-refresh
  go run ./cmd/weightgov regime detect --snapshot data/today.json --force-immediate
  go run ./cmd/weightgov regime status`,
}

var (
	snapshotFile   string
	forceRefresh   bool
	forceImmediate bool
	jsonOutput     bool

	regimeDetectCmd = &cobra.Command{
		Use:   "detect",
		Short: "레짐 판단 1회 실행",
		RunE:  runRegimeDetect,
	}

	regimeStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "현재 레짐과 전환 상태",
		RunE:  runRegimeStatus,
	}
)

func init() {
	rootCmd.AddCommand(regimeCmd)
	regimeCmd.AddCommand(regimeDetectCmd)
	regimeCmd.AddCommand(regimeStatusCmd)

	regimeCmd.PersistentFlags().StringVar(&snapshotFile, "snapshot", "", "지표 스냅샷 JSON 파일 (기본: INDICATOR_SNAPSHOT_FILE)")
	regimeCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON 출력")
	regimeDetectCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "스냅샷 캐시 무시")
	regimeDetectCmd.Flags().BoolVar(&forceImmediate, "force-immediate", false, "신뢰도/쿨다운 무시하고 즉시 전환")
}

func runRegimeDetect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res, err := a.gov.RunRegimeCheck(ctx, governor.RegimeCheckOptions{
		ForceRefresh:   forceRefresh,
		ForceImmediate: forceImmediate,
	})
	if err != nil {
		return fmt.Errorf("regime check: %w", err)
	}
	if jsonOutput {
		return PrintJSON(res)
	}

	PrintHeader("Regime detection")
	r := res.Result
	PrintKeyValue("Regime", string(r.Regime), 12)
	PrintKeyValue("Confidence", fmt.Sprintf("%.1f%%", r.Confidence*100), 12)
	PrintKeyValue("Previous", string(r.Previous), 12)
	PrintKeyValue("Duration", fmt.Sprintf("%d", r.Duration), 12)
	PrintKeyValue("Snapshot", formatTime(r.SnapshotAt), 12)
	PrintKeyValue("Decision", string(res.Decision), 12)
	PrintSeparator()

	widths := []int{10, 8}
	PrintTableHeader([]string{"REGIME", "SCORE"}, widths)
	for _, s := range r.Scores {
		PrintTableRow([]string{string(s.Regime), fmt.Sprintf("%.3f", s.Score)}, widths)
	}
	PrintSeparator()
	PrintWeights(res.Weights)

	if res.Decision.Deferred() {
		PrintWarning(fmt.Sprintf("Transition deferred (%s)", res.Decision))
	}
	return nil
}

func runRegimeStatus(cmd *cobra.Command, args []string) error {
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

	PrintHeader("Regime status")
	if st.Regime == nil {
		PrintInfo("No regime detected yet")
	} else {
		PrintKeyValue("Regime", string(st.Regime.Regime), 12)
		PrintKeyValue("Confidence", fmt.Sprintf("%.1f%%", st.Regime.Confidence*100), 12)
		PrintKeyValue("Duration", fmt.Sprintf("%d", st.Regime.Duration), 12)
		PrintKeyValue("Updated", formatTime(st.Regime.UpdatedAt), 12)
	}

	PrintSeparator()
	mp := st.Mapper
	PrintKeyValue("Preset", string(mp.Current), 12)
	if mp.InTransition() {
		PrintKeyValue("Pending", string(mp.Pending), 12)
		PrintKeyValue("Progress", fmt.Sprintf("%.0f%%", mp.Progress*100), 12)
	}
	PrintKeyValue("Last switch", formatTime(mp.LastTransitionAt), 12)
	if len(mp.Weights) > 0 {
		PrintSeparator()
		PrintWeights(mp.Weights)
	}
	return nil
}
