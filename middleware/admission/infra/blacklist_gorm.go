package infra

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errDatabaseNotInitialised = errors.New("database not initialised")

// blacklistRecord mapeia a tabela ip_blacklist.
//
// Sem tags `default:` em colunas bool/int: o gorm omitiria o valor zero no insert.
type blacklistRecord struct {
	ID             uint       `gorm:"primaryKey"`
	IPAddress      string     `gorm:"column:ip_address;size:64;uniqueIndex;not null"`
	Reason         string     `gorm:"column:reason;size:255"`
	BlockType      string     `gorm:"column:block_type;size:16;not null"`
	RelatedUserIDs string     `gorm:"column:related_user_ids;type:text"`
	RequestCount   int64      `gorm:"column:request_count"`
	IsActive       bool       `gorm:"column:is_active;index"`
	BlockedTime    time.Time  `gorm:"column:blocked_time;index"`
	ExpireTime     *time.Time `gorm:"column:expire_time;index"`
	UpdatedTime    time.Time  `gorm:"column:updated_time"`
}

func (blacklistRecord) TableName() string { return "ip_blacklist" }

// GormBlacklistRepository é a fonte da verdade da blacklist (postgres em
// produção, sqlite nos testes).
type GormBlacklistRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormBlacklistRepository(db *gorm.DB) *GormBlacklistRepository {
	return &GormBlacklistRepository{db: db, now: time.Now}
}

// BlacklistModels lista os modelos para AutoMigrate.
func BlacklistModels() []any {
	return []any{&blacklistRecord{}}
}

func (r *GormBlacklistRepository) conn(ctx context.Context) (*gorm.DB, error) {
	if r == nil || r.db == nil {
		return nil, errDatabaseNotInitialised
	}
	if ctx != nil {
		return r.db.WithContext(ctx), nil
	}
	return r.db, nil
}

func (r *GormBlacklistRepository) Get(ctx context.Context, ip string) (domain.BlacklistEntry, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}

	var rec blacklistRecord
	err = db.Where("ip_address = ?", ip).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.BlacklistEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	return rec.toEntry(), nil
}

func (r *GormBlacklistRepository) Save(ctx context.Context, e domain.BlacklistEntry) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	rec := fromEntry(e)
	rec.UpdatedTime = r.now().UTC()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"reason", "block_type", "related_user_ids", "request_count",
			"is_active", "blocked_time", "expire_time", "updated_time",
		}),
	}).Create(&rec).Error
}

func (r *GormBlacklistRepository) Deactivate(ctx context.Context, ip string, at time.Time) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&blacklistRecord{}).
		Where("ip_address = ?", ip).
		Updates(map[string]any{"is_active": false, "updated_time": at.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBlacklistRepository) ListBlocked(ctx context.Context, now time.Time) ([]string, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var ips []string
	err = db.Model(&blacklistRecord{}).
		Where("is_active = ? AND (expire_time IS NULL OR expire_time > ?)", true, now.UTC()).
		Pluck("ip_address", &ips).Error
	if err != nil {
		return nil, err
	}
	return ips, nil
}

func (r *GormBlacklistRepository) List(ctx context.Context, f domain.ListFilter) ([]domain.BlacklistEntry, int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, 0, err
	}

	q := db.Model(&blacklistRecord{})
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recs []blacklistRecord
	q = q.Order("blocked_time DESC").Order("id DESC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, 0, err
	}

	out := make([]domain.BlacklistEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toEntry())
	}
	return out, total, nil
}

func fromEntry(e domain.BlacklistEntry) blacklistRecord {
	rec := blacklistRecord{
		IPAddress:      e.IP,
		Reason:         e.Reason,
		BlockType:      string(e.Type),
		RelatedUserIDs: joinIDs(e.RelatedUserIDs),
		RequestCount:   e.RequestCount,
		IsActive:       e.Active,
		BlockedTime:    e.BlockedAt.UTC(),
	}
	if e.ExpiresAt != nil {
		t := e.ExpiresAt.UTC()
		rec.ExpireTime = &t
	}
	return rec
}

func (rec blacklistRecord) toEntry() domain.BlacklistEntry {
	e := domain.BlacklistEntry{
		IP:             rec.IPAddress,
		Reason:         rec.Reason,
		Type:           domain.BlockType(rec.BlockType),
		RelatedUserIDs: splitIDs(rec.RelatedUserIDs),
		RequestCount:   rec.RequestCount,
		Active:         rec.IsActive,
		BlockedAt:      rec.BlockedTime,
	}
	if rec.ExpireTime != nil {
		t := *rec.ExpireTime
		e.ExpiresAt = &t
	}
	return e
}

// related_user_ids é texto "1,2,3", o mesmo formato das linhas já existentes.
func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []int64
	for _, p := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
