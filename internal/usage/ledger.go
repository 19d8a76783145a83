// Package usage 按日期和计费档位累计合成用量。
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/iabetor/gcptts/internal/database"
)

const dateLayout = "2006-01-02"

// Entry 某天某个计费档位的用量。
type Entry struct {
	Date     string `json:"date"`
	Bucket   string `json:"bucket"`
	Requests int    `json:"requests"`
	Units    int    `json:"units"`
}

// Ledger 把每次合成的计费单位写入 tts_usage 表。
type Ledger struct {
	db  *database.DB
	now func() time.Time
}

// NewLedger 创建用量账本，db 需已完成迁移。
func NewLedger(db *database.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Record 累加一次合成的计费单位。
func (l *Ledger) Record(ctx context.Context, bucket string, units int) error {
	if bucket == "" {
		bucket = "Unknown"
	}
	date := l.now().Format(dateLayout)
	_, err := l.db.ExecContext(ctx, `INSERT INTO tts_usage (date, bucket, requests, units, updated_at)
		VALUES (?, ?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date, bucket) DO UPDATE SET
			requests = requests + 1,
			units = units + excluded.units,
			updated_at = CURRENT_TIMESTAMP`, date, bucket, units)
	if err != nil {
		return fmt.Errorf("[usage] 记录用量失败: %w", err)
	}
	return nil
}

// Daily 返回 [from, to] 日期区间内的逐日用量，按日期和档位排序。
// 日期格式为 2006-01-02，空串表示不限。
func (l *Ledger) Daily(ctx context.Context, from, to string) ([]Entry, error) {
	if from == "" {
		from = "0000-00-00"
	}
	if to == "" {
		to = "9999-99-99"
	}
	rows, err := l.db.QueryContext(ctx, `SELECT date, bucket, requests, units FROM tts_usage
		WHERE date >= ? AND date <= ? ORDER BY date, bucket`, from, to)
	if err != nil {
		return nil, fmt.Errorf("[usage] 查询用量失败: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Date, &e.Bucket, &e.Requests, &e.Units); err != nil {
			return nil, fmt.Errorf("[usage] 读取用量失败: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MonthTotals 返回指定月份（2006-01）各档位的计费单位合计。
func (l *Ledger) MonthTotals(ctx context.Context, month string) (map[string]int, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, fmt.Errorf("[usage] 月份格式无效 %q: %w", month, err)
	}
	rows, err := l.db.QueryContext(ctx, `SELECT bucket, SUM(units) FROM tts_usage
		WHERE substr(date, 1, 7) = ? GROUP BY bucket`, month)
	if err != nil {
		return nil, fmt.Errorf("[usage] 查询月度用量失败: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var bucket string
		var units int
		if err := rows.Scan(&bucket, &units); err != nil {
			return nil, fmt.Errorf("[usage] 读取月度用量失败: %w", err)
		}
		totals[bucket] = units
	}
	return totals, rows.Err()
}
