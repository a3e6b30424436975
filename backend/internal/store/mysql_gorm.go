package store

import (
	"context"
	"errors"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"annotationServer/backend/internal/annotations"
	"annotationServer/backend/internal/entity"
)

// InitMySQL 打开 gorm 连接并迁移批注区间表
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&entity.AnnotationRange{}); err != nil {
		return nil, err
	}
	return db, nil
}

// AnnotationRangeRepo 保存快照时的批注区间，供按批注 id 查询位置
type AnnotationRangeRepo struct {
	db *gorm.DB
}

func NewAnnotationRangeRepo(db *gorm.DB) *AnnotationRangeRepo {
	return &AnnotationRangeRepo{db: db}
}

// ReplaceRanges 用 rev 版本的区间整体替换文档已有的记录；旧版本不会覆盖新版本
func (r *AnnotationRangeRepo) ReplaceRanges(ctx context.Context, docID string, rev uint64, spans []annotations.Span) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var newer int64
		if err := tx.Model(&entity.AnnotationRange{}).
			Where("doc_id = ? AND revision > ?", docID, rev).
			Count(&newer).Error; err != nil {
			return err
		}
		if newer > 0 {
			return nil
		}
		if err := tx.Where("doc_id = ?", docID).Delete(&entity.AnnotationRange{}).Error; err != nil {
			return err
		}
		if len(spans) == 0 {
			return nil
		}
		rows := make([]entity.AnnotationRange, 0, len(spans))
		for _, sp := range spans {
			rows = append(rows, entity.AnnotationRange{
				DocID:        docID,
				AnnotationID: sp.ID,
				FromPos:      sp.From,
				ToPos:        sp.To,
				Revision:     rev,
			})
		}
		return tx.Create(&rows).Error
	})
}

// ListRanges 文档的全部批注区间，annotationID 非空时只返回该批注
func (r *AnnotationRangeRepo) ListRanges(ctx context.Context, docID, annotationID string) ([]annotations.Span, uint64, error) {
	q := r.db.WithContext(ctx).Where("doc_id = ?", docID)
	if annotationID != "" {
		q = q.Where("annotation_id = ?", annotationID)
	}
	var rows []entity.AnnotationRange
	if err := q.Order("from_pos, id").Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var rev uint64
	out := make([]annotations.Span, 0, len(rows))
	for _, row := range rows {
		out = append(out, annotations.Span{ID: row.AnnotationID, From: row.FromPos, To: row.ToPos})
		rev = row.Revision
	}
	return out, rev, nil
}
