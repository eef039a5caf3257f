package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"holodomination/internal/db"
	"holodomination/internal/logger"
	"holodomination/internal/models"
	"holodomination/internal/oauth"
	"holodomination/internal/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const bootstrapAdminMarker = "admin"

type AccountService struct{}

func NewAccountService() *AccountService {
	return &AccountService{}
}

// SignInExternal 处理第三方登录回调：
// 已绑定直接登录；邮箱匹配则自动绑定；否则注册新用户
func (s *AccountService) SignInExternal(ctx context.Context, ident oauth.Identity) (*Claims, error) {
	user, err := s.findByLogin(ctx, ident.Provider, ident.ProviderKey)
	if err == nil {
		return s.signIn(ctx, user)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if ident.Email != "" {
		var existing models.User
		err := db.DB.WithContext(ctx).
			Where("normalized_email = ?", models.Normalize(ident.Email)).
			First(&existing).Error
		if err == nil {
			return s.linkAndSignIn(ctx, existing, ident)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	name := strings.TrimSpace(ident.Name)
	if name == "" {
		return nil, newError(ErrBadRequest, "No username provided")
	}
	if ident.Email == "" {
		return nil, newError(ErrBadRequest, "No email provided")
	}

	user, err = s.provision(ctx, name, ident)
	if err != nil {
		return nil, err
	}
	return s.signIn(ctx, user)
}

func (s *AccountService) findByLogin(ctx context.Context, provider, key string) (*models.User, error) {
	var user models.User
	err := db.DB.WithContext(ctx).
		Joins("JOIN user_logins ON user_logins.user_id = users.id").
		Where("user_logins.login_provider = ? AND user_logins.provider_key = ?", provider, key).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AccountService) linkAndSignIn(ctx context.Context, user models.User, ident oauth.Identity) (*Claims, error) {
	login := models.UserLogin{
		LoginProvider:       ident.Provider,
		ProviderKey:         ident.ProviderKey,
		ProviderDisplayName: ident.ProviderDisplayName,
		UserID:              user.ID,
	}
	if err := db.DB.WithContext(ctx).Create(&login).Error; err != nil {
		return nil, err
	}

	linked, err := s.findByLogin(ctx, ident.Provider, ident.ProviderKey)
	if err != nil {
		logger.Log.Error("sign in after linking external login failed",
			zap.String("user_id", user.ID),
			zap.String("provider", ident.Provider),
			zap.Error(err))
		return nil, newError(ErrInternal, "Failed to sign in with the linked %s account", ident.Provider)
	}
	logger.Log.Info("linked external login by email",
		zap.String("user_id", linked.ID),
		zap.String("provider", ident.Provider))
	return s.signIn(ctx, linked)
}

// provision 在一个事务里创建用户和外部登录
// 第一位用户通过唯一的 bootstrap 标记行获得 Admin，并发注册只有一个能写入标记
func (s *AccountService) provision(ctx context.Context, name string, ident oauth.Identity) (*models.User, error) {
	var user models.User
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.User{}).Count(&existing).Error; err != nil {
			return err
		}

		username, err := availableUsername(tx, name)
		if err != nil {
			return err
		}

		user = models.User{
			Username:          username,
			Email:             ident.Email,
			CanChangeUsername: true,
			CanComment:        true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		if err := tx.Create(&models.UserLogin{
			LoginProvider:       ident.Provider,
			ProviderKey:         ident.ProviderKey,
			ProviderDisplayName: ident.ProviderDisplayName,
			UserID:              user.ID,
		}).Error; err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.BootstrapMarker{Name: bootstrapAdminMarker, UserID: user.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 && existing == 0 {
			logger.Log.Info("granting Admin to the first user", zap.String("user_id", user.ID))
			return addRole(tx, user.ID, models.RankAdmin.String())
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, newError(ErrConflict, "An account with this email already exists")
		}
		return nil, err
	}
	return &user, nil
}

// availableUsername 用户名被占用时追加随机后缀
func availableUsername(tx *gorm.DB, name string) (string, error) {
	if r := []rune(name); len(r) > 44 {
		name = string(r[:44])
	}
	candidate := name
	for i := 0; i < 5; i++ {
		var n int64
		if err := tx.Model(&models.User{}).
			Where("normalized_username = ?", models.Normalize(candidate)).
			Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = name + "-" + utils.RandomSuffix(5)
	}
	return "", newError(ErrConflict, "Username %s is already taken", name)
}

func (s *AccountService) signIn(ctx context.Context, user *models.User) (*Claims, error) {
	roles, err := RolesOf(db.DB.WithContext(ctx), user.ID)
	if err != nil {
		return nil, err
	}
	claims := IssueClaims(*user, roles)
	return &claims, nil
}

// Refresh 重新从数据库签发 claims
func (s *AccountService) Refresh(ctx context.Context, userID string) (*Claims, error) {
	var user models.User
	if err := db.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, "User not found")
		}
		return nil, err
	}
	return s.signIn(ctx, &user)
}

// Revalidate 检查 session 里的 SecurityStamp 是否仍有效
// 未变化时只刷新签发时间，变化时按数据库重新签发角色
func (s *AccountService) Revalidate(ctx context.Context, claims Claims) (*Claims, error) {
	var user models.User
	err := db.DB.WithContext(ctx).
		Select("id", "security_stamp").
		First(&user, "id = ?", claims.UserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, "User not found")
		}
		return nil, err
	}
	if user.SecurityStamp == claims.SecurityStamp {
		claims.IssuedAt = time.Now()
		return &claims, nil
	}
	logger.Log.Info("security stamp changed, reissuing claims", zap.String("user_id", claims.UserID))
	return s.Refresh(ctx, claims.UserID)
}
