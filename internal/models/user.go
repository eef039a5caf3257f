package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	Username           string    `gorm:"size:50;not null" json:"username"`
	NormalizedUsername string    `gorm:"size:50;uniqueIndex;not null" json:"-"`
	Email              string    `gorm:"size:256;not null" json:"email"`
	NormalizedEmail    string    `gorm:"size:256;uniqueIndex;not null" json:"-"`
	CanChangeUsername  bool      `gorm:"not null;default:true" json:"canChangeUsername"`
	CanComment         bool      `gorm:"not null;default:true" json:"canComment"`
	ConcurrencyStamp   string    `gorm:"size:36" json:"-"` // 乐观锁
	SecurityStamp      string    `gorm:"size:36" json:"-"` // 角色变化时轮换，旧 session 据此重新签发
	CreatedAt          time.Time `gorm:"index" json:"createdAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.ConcurrencyStamp == "" {
		u.ConcurrencyStamp = uuid.NewString()
	}
	if u.SecurityStamp == "" {
		u.SecurityStamp = uuid.NewString()
	}
	u.NormalizedUsername = Normalize(u.Username)
	u.NormalizedEmail = Normalize(u.Email)
	return nil
}

// SetUsername 同步更新规范化用户名
func (u *User) SetUsername(name string) {
	u.Username = name
	u.NormalizedUsername = Normalize(name)
}

// Normalize 用户名/邮箱/角色名的比较形式
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// UserLogin maps an external (provider, key) pair to a local user.
type UserLogin struct {
	LoginProvider       string    `gorm:"primaryKey;size:64" json:"loginProvider"`
	ProviderKey         string    `gorm:"primaryKey;size:128" json:"providerKey"`
	ProviderDisplayName string    `gorm:"size:64" json:"providerDisplayName"`
	UserID              string    `gorm:"size:36;not null;index" json:"userId"`
	CreatedAt           time.Time `json:"createdAt"`
}

// BootstrapMarker 一次性引导标记，Name 唯一
type BootstrapMarker struct {
	Name      string `gorm:"primaryKey;size:32"`
	UserID    string `gorm:"size:36;not null"`
	CreatedAt time.Time
}
