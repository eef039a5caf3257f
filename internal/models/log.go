package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Log 审计日志，只追加不修改
type Log struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Towards     string    `gorm:"size:128;not null;index" json:"towards"` // 帖子/用户/评论 ID
	ByID        string    `gorm:"size:36;not null;index" json:"by"`
	By          User      `gorm:"foreignKey:ByID" json:"-"`
	Description string    `gorm:"type:text;not null" json:"description"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}

func (l *Log) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
