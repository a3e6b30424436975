package entity

import "time"

// AnnotationRange 某个快照版本中一个批注覆盖的区间
type AnnotationRange struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	DocID        string `gorm:"type:varchar(64);index:idx_doc_annotation,priority:1;not null"`
	AnnotationID string `gorm:"type:varchar(128);index:idx_doc_annotation,priority:2;not null"`
	FromPos      int    `gorm:"not null"`
	ToPos        int    `gorm:"not null"`
	Revision     uint64 `gorm:"not null"`
	CreatedAt    time.Time
}

func (AnnotationRange) TableName() string { return "annotation_ranges" }
