// Package dbtest provides an in-memory sqlite database for package tests.
package dbtest

import (
	"strings"
	"testing"

	"holodomination/internal/db"
	"holodomination/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 创建内存库、迁移并替换 db.DB，测试结束时还原
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// 每个连接都是独立的内存库
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(conn))

	prev := db.DB
	db.Use(conn)
	t.Cleanup(func() {
		db.Use(prev)
		_ = sqlDB.Close()
	})
	return conn
}

// SeedUser inserts a user holding the given roles.
func SeedUser(t testing.TB, conn *gorm.DB, username string, roles ...string) models.User {
	t.Helper()

	user := models.User{
		Username:          username,
		Email:             strings.ToLower(username) + "@example.com",
		CanChangeUsername: true,
		CanComment:        true,
	}
	require.NoError(t, conn.Create(&user).Error)
	Grant(t, conn, user.ID, roles...)
	return user
}

// Grant 给已有用户添加角色，角色不存在时创建
func Grant(t testing.TB, conn *gorm.DB, userID string, roles ...string) {
	t.Helper()
	for _, name := range roles {
		role := models.Role{Name: name}
		require.NoError(t, conn.Where(models.Role{NormalizedName: models.Normalize(name)}).
			FirstOrCreate(&role).Error)
		require.NoError(t, conn.Create(&models.UserRole{UserID: userID, RoleID: role.ID}).Error)
	}
}

// Count 返回表行数
func Count(t testing.TB, conn *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}
