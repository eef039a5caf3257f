package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"holodomination/internal/db"
	"holodomination/internal/models"

	"gorm.io/gorm"
)

// Claims 会话中保存的身份信息
// 签发后不随数据库变化，直到 LoadUser 按 SecurityStamp 重新验证
type Claims struct {
	UserID        string
	Username      string
	Email         string
	Roles         []string
	SecurityStamp string
	IssuedAt      time.Time
}

// IssueClaims builds the session claim set for a user and its roles.
func IssueClaims(user models.User, roles []string) Claims {
	r := make([]string, len(roles))
	copy(r, roles)
	sort.Strings(r)
	return Claims{
		UserID:        user.ID,
		Username:      user.Username,
		Email:         user.Email,
		Roles:         r,
		SecurityStamp: user.SecurityStamp,
		IssuedAt:      time.Now(),
	}
}

func (c Claims) HasRole(name string) bool {
	for _, r := range c.Roles {
		if models.Normalize(r) == models.Normalize(name) {
			return true
		}
	}
	return false
}

func (c Claims) HasAnyRole(names ...string) bool {
	for _, name := range names {
		if c.HasRole(name) {
			return true
		}
	}
	return false
}

func (c Claims) IsBanned() bool {
	return c.HasRole(models.RoleBanned)
}

// IsStaff Staff 或 Admin
func (c Claims) IsStaff() bool {
	return c.HasAnyRole(models.RankStaff.String(), models.RankAdmin.String())
}

// RolesOf 返回用户的角色名，按名称排序
func RolesOf(tx *gorm.DB, userID string) ([]string, error) {
	var names []string
	err := tx.Model(&models.Role{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name").
		Pluck("roles.name", &names).Error
	return names, err
}

// ensureRole 角色不存在时创建
func ensureRole(tx *gorm.DB, name string) (models.Role, error) {
	var role models.Role
	err := tx.Where("normalized_name = ?", models.Normalize(name)).First(&role).Error
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return role, err
	}
	role = models.Role{Name: name}
	if err := tx.Create(&role).Error; err != nil {
		return role, err
	}
	return role, nil
}

func addRole(tx *gorm.DB, userID, name string) error {
	role, err := ensureRole(tx, name)
	if err != nil {
		return err
	}
	var n int64
	if err := tx.Model(&models.UserRole{}).
		Where("user_id = ? AND role_id = ?", userID, role.ID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return tx.Create(&models.UserRole{UserID: userID, RoleID: role.ID}).Error
}

func removeRoles(tx *gorm.DB, userID string, names ...string) error {
	normalized := make([]string, len(names))
	for i, n := range names {
		normalized[i] = models.Normalize(n)
	}
	var ids []string
	if err := tx.Model(&models.Role{}).
		Where("normalized_name IN ?", normalized).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Where("user_id = ? AND role_id IN ?", userID, ids).Delete(&models.UserRole{}).Error
}

func clearRoles(tx *gorm.DB, userID string) error {
	return tx.Where("user_id = ?", userID).Delete(&models.UserRole{}).Error
}

func ordinalRoleNames() []string {
	names := make([]string, len(models.OrdinalRoles))
	for i, r := range models.OrdinalRoles {
		names[i] = r.String()
	}
	return names
}

// UsernamesInRole 角色下所有用户名
func UsernamesInRole(ctx context.Context, role string) ([]string, error) {
	var names []string
	err := db.DB.WithContext(ctx).Model(&models.User{}).
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.normalized_name = ?", models.Normalize(role)).
		Order("users.username").
		Pluck("users.username", &names).Error
	return names, err
}
