package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis/weightgov/internal/scheduler"
	"github.com/wonny/aegis/weightgov/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `가중치 거버넌스 작업 스케줄러를 시작하거나 조회합니다.

Subcommands:
  start   - 스케줄러 시작
  list    - 등록된 작업 목록과 다음 실행 시각
  run     - 특정 작업 즉시 실행 (결과 대기)

Example:
  go run ./cmd/weightgov scheduler start
  go run ./cmd/weightgov scheduler list
  go run ./cmd/weightgov scheduler run regime_check`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 등록된 모든 작업을 스케줄합니다.

등록되는 작업 (기본 스케줄, 환경변수로 변경 가능):
- regime_check: 평일 15:40 (장 마감 후 레짐 판단)
- performance_update: 평일 18:00 (성과 기반 가중치 갱신)
- version_cleanup: 일요일 03:00 (오래된 버전 정리)

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

// newScheduler registers the governor jobs on a fresh scheduler
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log, a.metrics)
	gc := a.cfg.Governor

	for _, job := range []scheduler.Job{
		jobs.NewRegimeCheckJob(a.gov, gc.RegimeCheckSchedule, a.log),
		jobs.NewPerformanceUpdateJob(a.gov, gc.PerformanceSchedule, a.log),
		jobs.NewVersionCleanupJob(a.gov, gc.CleanupSchedule, a.log),
	} {
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Weight Governor Scheduler ===")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	// 다음 실행 시각 계산을 위해 cron을 잠시 시작
	sched.Start()
	defer sched.Stop()

	stats := sched.GetJobStats()

	PrintHeader("Registered jobs")
	widths := []int{20, 18, 20}
	PrintTableHeader([]string{"JOB", "SCHEDULE", "NEXT RUN"}, widths)
	for _, name := range sched.GetAllJobs() {
		st := stats[name]
		PrintTableRow([]string{name, st.Schedule, formatTimePtr(st.NextRun)}, widths)
	}

	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.SetRetry(0, 0)

	fmt.Printf("Running job: %s\n", jobName)
	result, err := sched.RunJob(jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	if !result.Success {
		PrintError(fmt.Sprintf("%s failed in %s: %s", jobName, result.Duration, result.Error))
		return fmt.Errorf("job %s failed", jobName)
	}
	PrintSuccess(fmt.Sprintf("%s completed in %s", jobName, result.Duration))
	return nil
}
