package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"holodomination/internal/db"
	"holodomination/internal/models"
	"holodomination/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UsersPerPage      = 20
	UsernameMaxLength = 50
)

type UserResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// StaffUserResponse 管理端可见的用户信息
type StaffUserResponse struct {
	UserResponse
	CanChangeUsername bool `json:"canChangeUsername"`
	CanComment        bool `json:"canComment"`
	IsBanned          bool `json:"isBanned"`
}

type UsersResponse struct {
	Users     []StaffUserResponse `json:"users"`
	PageCount int                 `json:"pageCount"`
}

func newUserResponse(u models.User, roles []string) UserResponse {
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, Roles: roles}
}

func newStaffUserResponse(u models.User, roles []string) StaffUserResponse {
	banned := false
	for _, r := range roles {
		if r == models.RoleBanned {
			banned = true
		}
	}
	return StaffUserResponse{
		UserResponse:      newUserResponse(u, roles),
		CanChangeUsername: u.CanChangeUsername,
		CanComment:        u.CanComment,
		IsBanned:          banned,
	}
}

type UserService struct{}

func NewUserService() *UserService {
	return &UserService{}
}

// EditUserRequest 管理员修改用户，nil 表示不修改
type EditUserRequest struct {
	Role                     *models.Rank `json:"role"`
	RemoveUsername           bool         `json:"removeUsername"`
	DisallowChangingUsername *bool        `json:"disallowChangingUsername"`
	DisallowCommenting       *bool        `json:"disallowCommenting"`
	IsBanned                 *bool        `json:"isBanned"`
}

func findUser(tx *gorm.DB, id string) (models.User, error) {
	var user models.User
	err := tx.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return user, newError(ErrNotFound, "User %s not found", id)
	}
	return user, err
}

// ListUsers 分页列出用户；PostgreSQL 使用全文检索列，其他数据库退化为 LIKE
func (s *UserService) ListUsers(ctx context.Context, search string, page int) (*UsersResponse, error) {
	search = strings.TrimSpace(search)
	filter := func() *gorm.DB {
		tx := db.DB.WithContext(ctx).Model(&models.User{})
		if search == "" {
			return tx
		}
		if db.IsPostgres(db.DB) {
			return tx.Where("search_vector @@ plainto_tsquery('english', ?)", search)
		}
		like := "%" + strings.ToUpper(search) + "%"
		return tx.Where("normalized_username LIKE ? OR normalized_email LIKE ?", like, like)
	}

	var total int64
	if err := filter().Count(&total).Error; err != nil {
		return nil, err
	}

	var users []models.User
	if err := filter().
		Order("created_at DESC").
		Offset(page * UsersPerPage).
		Limit(UsersPerPage).
		Find(&users).Error; err != nil {
		return nil, err
	}

	resp := &UsersResponse{
		Users:     make([]StaffUserResponse, 0, len(users)),
		PageCount: utils.PageCount(total, UsersPerPage),
	}
	for _, u := range users {
		roles, err := RolesOf(db.DB.WithContext(ctx), u.ID)
		if err != nil {
			return nil, err
		}
		resp.Users = append(resp.Users, newStaffUserResponse(u, roles))
	}
	return resp, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*StaffUserResponse, error) {
	tx := db.DB.WithContext(ctx)
	user, err := findUser(tx, id)
	if err != nil {
		return nil, err
	}
	roles, err := RolesOf(tx, id)
	if err != nil {
		return nil, err
	}
	resp := newStaffUserResponse(user, roles)
	return &resp, nil
}

func (s *UserService) CurrentUser(ctx context.Context, id string) (*UserResponse, error) {
	tx := db.DB.WithContext(ctx)
	user, err := findUser(tx, id)
	if err != nil {
		return nil, err
	}
	roles, err := RolesOf(tx, id)
	if err != nil {
		return nil, err
	}
	resp := newUserResponse(user, roles)
	return &resp, nil
}

// EditCurrentUser 用户修改自己的用户名
func (s *UserService) EditCurrentUser(ctx context.Context, userID string, username *string) (*UserResponse, error) {
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := findUser(tx, userID)
		if err != nil {
			return err
		}
		if username == nil {
			return nil
		}

		name := strings.TrimSpace(*username)
		if name == "" {
			return newError(ErrBadRequest, "Username cannot be empty")
		}
		if utf8.RuneCountInString(name) > UsernameMaxLength {
			return newError(ErrBadRequest, "Username cannot be longer than %d characters", UsernameMaxLength)
		}
		if !user.CanChangeUsername {
			return newError(ErrForbidden, "You are not allowed to change your username")
		}
		if name == user.Username {
			return nil
		}

		var taken int64
		if err := tx.Model(&models.User{}).
			Where("normalized_username = ? AND id <> ?", models.Normalize(name), user.ID).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return newError(ErrConflict, "Username %s is already taken", name)
		}

		old := user.Username
		user.SetUsername(name)
		if err := saveUser(tx, &user); err != nil {
			return err
		}
		return AppendLog(tx, user.ID, user.ID, fmt.Sprintf("Changed username from %s to %s", old, name))
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, newError(ErrConflict, "Username is already taken")
		}
		return nil, err
	}
	return s.CurrentUser(ctx, userID)
}

// saveUser 按并发戳更新，戳不一致说明被其他请求修改过
func saveUser(tx *gorm.DB, user *models.User) error {
	stamp := uuid.NewString()
	res := tx.Model(&models.User{}).
		Where("id = ? AND concurrency_stamp = ?", user.ID, user.ConcurrencyStamp).
		Updates(map[string]interface{}{
			"username":            user.Username,
			"normalized_username": user.NormalizedUsername,
			"can_change_username": user.CanChangeUsername,
			"can_comment":         user.CanComment,
			"security_stamp":      user.SecurityStamp,
			"concurrency_stamp":   stamp,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newError(ErrConflict, "User %s was modified concurrently, try again", user.ID)
	}
	user.ConcurrencyStamp = stamp
	return nil
}
