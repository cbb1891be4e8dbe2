package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// versionsCmd represents the versions command
var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "가중치 버전 관리",
	Long: `저장된 가중치 버전을 조회, 검증, 활성화, 정리합니다.

Subcommands:
  list      - 버전 목록 (최신순)
  verify    - 전체 체크섬 검증
  activate  - 저장된 버전 활성화
  cleanup   - 보존 개수를 넘는 비활성 버전 삭제

Example:
  go run ./cmd/weightgov versions list --limit 10
  go run ./cmd/weightgov versions verify
  go run ./cmd/weightgov versions activate 20260401T153000.000000Z-ab12cd34
  go run ./cmd/weightgov versions cleanup`,
}

var (
	versionLimit int

	versionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "버전 목록",
		RunE:  runVersionsList,
	}

	versionsVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "체크섬 검증",
		RunE:  runVersionsVerify,
	}

	versionsActivateCmd = &cobra.Command{
		Use:   "activate [id]",
		Short: "버전 활성화",
		Args:  cobra.ExactArgs(1),
		RunE:  runVersionsActivate,
	}

	versionsCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "오래된 버전 정리",
		RunE:  runVersionsCleanup,
	}
)

func init() {
	rootCmd.AddCommand(versionsCmd)
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsVerifyCmd)
	versionsCmd.AddCommand(versionsActivateCmd)
	versionsCmd.AddCommand(versionsCleanupCmd)

	versionsCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON 출력")
	versionsListCmd.Flags().IntVar(&versionLimit, "limit", 50, "최대 건수")
}

func runVersionsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	versions, err := a.gov.Store().ListVersions(ctx, versionLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return PrintJSON(versions)
	}

	PrintHeader(fmt.Sprintf("Weight versions (%d)", len(versions)))
	widths := []int{28, 19, 6, 8, 30}
	PrintTableHeader([]string{"ID", "CREATED", "ACTIVE", "VERIFIED", "DESCRIPTION"}, widths)
	for _, v := range versions {
		active := ""
		if v.Active {
			active = "*"
		}
		PrintTableRow([]string{
			v.ID,
			formatTime(v.CreatedAt),
			active,
			fmt.Sprintf("%t", v.Verified),
			v.Description,
		}, widths)
	}
	return nil
}

func runVersionsVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	reports, err := a.gov.Store().VerifyAll(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return PrintJSON(reports)
	}

	PrintHeader("Integrity check")
	failed := 0
	for _, r := range reports {
		if r.Verified {
			continue
		}
		failed++
		PrintError(fmt.Sprintf("%s: %s", r.ID, r.Error))
	}

	PrintSeparator()
	if failed > 0 {
		PrintWarning(fmt.Sprintf("%d of %d versions failed verification", failed, len(reports)))
		return fmt.Errorf("%d versions failed verification", failed)
	}
	PrintSuccess(fmt.Sprintf("All %d versions verified", len(reports)))
	return nil
}

func runVersionsActivate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	rec, err := a.gov.ActivateVersion(ctx, args[0])
	if err != nil {
		return fmt.Errorf("activate %s: %w", args[0], err)
	}
	return printChange(rec)
}

func runVersionsCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	deleted, err := a.gov.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Deleted %d versions (keep %d)", deleted, a.cfg.Governor.VersionKeep))
	return nil
}
