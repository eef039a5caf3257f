package db

import (
	"errors"
	"fmt"
	"time"

	"holodomination/internal/config"
	"holodomination/internal/logger"
	"holodomination/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init 连接 PostgreSQL 并设置全局 DB
func Init(cfg config.DatabaseConfig) error {
	conn, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(zap.NewStdLog(logger.Log), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = conn
	logger.Log.Info("Database connection established")
	return nil
}

// Use 替换全局连接，测试里用 sqlite 内存库
func Use(conn *gorm.DB) {
	DB = conn
}

// Migrate 自动迁移所有表，PostgreSQL 额外创建用户全文检索列
func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.UserRole{},
		&models.UserLogin{},
		&models.BootstrapMarker{},
		&models.Post{},
		&models.Tag{},
		&models.TagLink{},
		&models.Comment{},
		&models.Log{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if IsPostgres(conn) {
		if err := migrateSearchVector(conn); err != nil {
			return err
		}
	}
	logger.Log.Info("Database migration completed")
	return nil
}

func migrateSearchVector(conn *gorm.DB) error {
	stmts := []string{
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS search_vector tsvector
			GENERATED ALWAYS AS (to_tsvector('english', coalesce(username, '') || ' ' || coalesce(email, ''))) STORED`,
		`CREATE INDEX IF NOT EXISTS idx_users_search_vector ON users USING GIN (search_vector)`,
	}
	for _, stmt := range stmts {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate search vector: %w", err)
		}
	}
	return nil
}

func IsPostgres(conn *gorm.DB) bool {
	return conn.Dialector.Name() == "postgres"
}

// IsUniqueViolation 唯一约束冲突
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
