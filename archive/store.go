package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/codexmirror/internal/clock"
	"github.com/BaSui01/codexmirror/internal/ctxkeys"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 列表分页上限
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Query 列表查询条件
type Query struct {
	Limit  int
	Offset int
	// Subject 非空时只返回该调用方的报告
	Subject string
}

func (q Query) normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	q.Limit = min(q.Limit, MaxLimit)
	q.Offset = max(q.Offset, 0)
	return q
}

// Page 一页摘要，按完成时间倒序
type Page struct {
	Items  []Summary `json:"items"`
	Total  int64     `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// Option 配置 Store
type Option func(*Store)

// WithClock 替换时钟
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// =============================================================================
// 🗃️ Store
// =============================================================================

// Store 把调度报告写入 council_reports。它实现 orchestrator.Archiver。
type Store struct {
	db     *gorm.DB
	clock  clock.Clock
	logger *zap.Logger
}

var _ orchestrator.Archiver = (*Store)(nil)

// NewStore 创建 Store，表结构需已由迁移创建
func NewStore(db *gorm.DB, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		clock:  clock.Real(),
		logger: logger.With(zap.String("component", "archive")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Archive 保存一份报告，调用方身份取自 ctx
func (s *Store) Archive(ctx context.Context, r *orchestrator.Report) error {
	if r == nil || r.InvocationID == "" {
		return types.NewInvalidRequestError("report has no invocation id")
	}
	subject, _ := ctxkeys.Subject(ctx)
	rec, err := newRecord(r, subject, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("archive report %s: %w", r.InvocationID, err)
	}
	s.logger.Debug("report archived",
		append(ctxkeys.Fields(ctx), zap.String("report_id", rec.ID), zap.Int("degraded", rec.Degraded))...)
	return nil
}

// Get 按调用 ID 读取完整报告
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	var rec record
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("report %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", id, err)
	}
	return rec.entry()
}

// List 返回一页摘要
func (s *Store) List(ctx context.Context, q Query) (*Page, error) {
	q = q.normalize()
	scope := func() *gorm.DB {
		tx := s.db.WithContext(ctx).Model(&record{})
		if q.Subject != "" {
			tx = tx.Where("subject = ?", q.Subject)
		}
		return tx
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}

	var recs []record
	err := scope().Omit("outcomes", "synthesis").
		Order("finished_at DESC").Order("id").
		Limit(q.Limit).Offset(q.Offset).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	items := make([]Summary, len(recs))
	for i := range recs {
		items[i] = recs[i].summary()
	}
	return &Page{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Prune 删除完成时间早于 before 的报告
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("finished_at < ?", before.UTC()).Delete(&record{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune reports: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RunRetention 每 interval 删除一次超过 retention 的报告，直到 ctx 结束。
// retention 为 0 时立即返回。
func (s *Store) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	for {
		n, err := s.Prune(ctx, s.clock.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.Warn("report retention failed", zap.Error(err))
		case n > 0:
			s.logger.Info("pruned archived reports", zap.Int64("count", n), zap.Duration("retention", retention))
		}
		if err := clock.Sleep(ctx, s.clock, interval); err != nil {
			return
		}
	}
}
