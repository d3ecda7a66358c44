package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/mcpagent/internal/retention"
	"github.com/wwwzy/mcpagent/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理审计数据库",
	Long:  `查看数据库概况、浏览工具调用审计与对话轮次记录，以及按保留策略清理旧数据。`,
}

var storageInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runStorageInfo,
}

var storagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "按保留策略立即清理旧记录",
	Long:  `忽略定时任务间隔，立即执行一次清理。默认读取配置中的 retention 策略，--audit-days/--turns-days 可覆盖。`,
	RunE:  runStoragePrune,
}

var storageAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "列出最近的工具调用审计记录",
	RunE:  runStorageAudit,
}

var storageTurnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "列出最近的对话轮次",
	RunE:  runStorageTurns,
}

var (
	pruneAuditDays int
	pruneTurnsDays int

	listLimit   int
	listTraceID string
	listStatus  string
	listSession string
)

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageInfoCmd, storagePruneCmd, storageAuditCmd, storageTurnsCmd)

	storagePruneCmd.Flags().IntVar(&pruneAuditDays, "audit-days", 0, "审计记录保留天数（默认取 retention.audit_keep）")
	storagePruneCmd.Flags().IntVar(&pruneTurnsDays, "turns-days", 0, "轮次记录保留天数（默认取 retention.turns_keep）")

	storageAuditCmd.Flags().IntVar(&listLimit, "limit", 20, "最多显示的条数")
	storageAuditCmd.Flags().StringVar(&listTraceID, "trace", "", "只显示某一轮对话（trace id）的调用")
	storageAuditCmd.Flags().StringVar(&listStatus, "status", "", "按状态过滤: running/success/failed")

	storageTurnsCmd.Flags().IntVar(&listLimit, "limit", 20, "最多显示的条数")
	storageTurnsCmd.Flags().StringVar(&listSession, "session", "", "只显示某个会话的轮次")
	storageTurnsCmd.Flags().StringVar(&listStatus, "status", "", "按状态过滤: success/failed")
}

func openStorage(ctx context.Context) (*storage.Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	if !cfg.Storage.Enabled {
		return nil, fmt.Errorf("storage is disabled (storage.enabled=false)")
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	return store, nil
}

func runStorageInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// 1. 获取数据库文件信息
	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSizeStr string
	info, err := os.Stat(dbPath)
	switch {
	case cfg.Storage.InMemory:
		dbSizeStr = "in-memory"
	case os.IsNotExist(err):
		dbSizeStr = "Not Found (Will be created on first run)"
	case err != nil:
		dbSizeStr = fmt.Sprintf("Error: %v", err)
	default:
		sizeMB := float64(info.Size()) / 1024 / 1024
		dbSizeStr = fmt.Sprintf("%.2f MB (%s)", sizeMB, dbPath)
	}

	// 2. 连接数据库
	store, err := openStorage(ctx)
	if err != nil {
		fmt.Fprintf(out, "Database File: %s\n", dbSizeStr)
		return err
	}
	defer store.Close()

	// 3. 获取统计信息
	counts, err := store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("统计记录数失败: %w", err)
	}

	// 4. 格式化输出
	fmt.Fprintf(out, "Database File: %s\n\n", dbSizeStr)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	fmt.Fprintf(w, "AuditRecords\t%d\n", counts.AuditRecords)
	fmt.Fprintf(w, "TurnRecords\t%d\n", counts.TurnRecords)
	return w.Flush()
}

func runStoragePrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rcfg := cfg.Retention
	if pruneAuditDays > 0 {
		rcfg.AuditKeep = time.Duration(pruneAuditDays) * 24 * time.Hour
	}
	if pruneTurnsDays > 0 {
		rcfg.TurnsKeep = time.Duration(pruneTurnsDays) * 24 * time.Hour
	}
	// 手动清理不需要批间休眠
	rcfg.IdleSleep = 0

	collector, err := retention.NewCollector(store, rcfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Policy: audit keep=%s, turns keep=%s\n", rcfg.AuditKeep, rcfg.TurnsKeep)
	res, err := collector.RunOnce(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	fmt.Fprintf(out, "Prune completed. Deleted %d audit records, %d turn records.\n", res.AuditRecords, res.TurnRecords)

	if counts, err := store.Counts(ctx); err == nil {
		fmt.Fprintf(out, "Remaining: %d audit records, %d turn records\n", counts.AuditRecords, counts.TurnRecords)
	}
	return nil
}

func runStorageAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.QueryAuditRecords(ctx, storage.AuditQuery{
		TraceID: listTraceID,
		Status:  listStatus,
		Limit:   listLimit,
		Desc:    true,
	})
	if err != nil {
		return err
	}
	return printAuditRecords(cmd.OutOrStdout(), records)
}

func printAuditRecords(out io.Writer, records []storage.AuditRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No audit records.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tTrace\tServer\tTool\tStatus\tDuration\tError")
	for _, r := range records {
		var dur string
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(r.TraceID), r.Server, r.Action, r.Status, dur, firstLine(r.ErrorMessage))
	}
	return w.Flush()
}

func runStorageTurns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.QueryTurnRecords(ctx, storage.TurnQuery{
		SessionID: listSession,
		Status:    listStatus,
		Limit:     listLimit,
		Desc:      true,
	})
	if err != nil {
		return err
	}
	return printTurnRecords(cmd.OutOrStdout(), records)
}

func printTurnRecords(out io.Writer, records []storage.TurnRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No turn records.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tTrace\tModel\tTools\tStatus\tQuestion")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(r.TraceID), r.Model, r.ToolCalls, r.Status, firstLine(r.Question))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
