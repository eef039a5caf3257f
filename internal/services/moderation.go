package services

import (
	"context"
	"strings"

	"holodomination/internal/db"
	"holodomination/internal/models"
	"holodomination/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// deletedUsername 生成清除用户名后的占位名，测试中可替换
var deletedUsername = utils.DeletedUsername

// EditUser 管理员修改其他用户的角色和权限
// 只能修改等级严格低于自己的用户，授予的角色也必须严格低于自己
func (s *UserService) EditUser(ctx context.Context, requestorID, targetID string, req EditUserRequest) (*StaffUserResponse, error) {
	var resp StaffUserResponse
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		requestorRoles, err := RolesOf(tx, requestorID)
		if err != nil {
			return err
		}
		target, err := findUser(tx, targetID)
		if err != nil {
			return err
		}
		targetRoles, err := RolesOf(tx, targetID)
		if err != nil {
			return err
		}

		requestorRank := models.HighestRank(requestorRoles)
		if models.HighestRank(targetRoles) >= requestorRank {
			return newError(ErrForbidden, "You cannot edit a user with an equal or higher role")
		}
		if req.Role != nil && *req.Role >= requestorRank {
			return newError(ErrForbidden, "You cannot grant %s", req.Role.String())
		}

		var changes []string

		if req.Role != nil {
			if err := clearRoles(tx, targetID); err != nil {
				return err
			}
			if *req.Role != models.RankNone {
				if err := addRole(tx, targetID, req.Role.String()); err != nil {
					return err
				}
			}
			changes = append(changes, "Set role to "+req.Role.String())
		}

		if req.RemoveUsername {
			old := target.Username
			name, err := freeDeletedUsername(tx)
			if err != nil {
				return err
			}
			target.SetUsername(name)
			changes = append(changes, "Removed username "+old)
		}
		if req.DisallowChangingUsername != nil {
			target.CanChangeUsername = !*req.DisallowChangingUsername
			changes = append(changes, boolChange("Disallowed", "Allowed", *req.DisallowChangingUsername)+" changing username")
		}
		if req.DisallowCommenting != nil {
			target.CanComment = !*req.DisallowCommenting
			changes = append(changes, boolChange("Disallowed", "Allowed", *req.DisallowCommenting)+" commenting")
		}

		if req.IsBanned != nil {
			if *req.IsBanned {
				if err := addRole(tx, targetID, models.RoleBanned); err != nil {
					return err
				}
				// 封禁优先：同一请求里设置的角色也会被移除
				if err := removeRoles(tx, targetID, ordinalRoleNames()...); err != nil {
					return err
				}
				changes = append(changes, "Banned user")
			} else {
				if err := removeRoles(tx, targetID, models.RoleBanned); err != nil {
					return err
				}
				changes = append(changes, "Unbanned user")
			}
		}

		// 角色变化后轮换 SecurityStamp，已有 session 在下次验证时重新签发
		if req.Role != nil || req.IsBanned != nil {
			target.SecurityStamp = uuid.NewString()
		}
		if err := saveUser(tx, &target); err != nil {
			return err
		}
		if len(changes) > 0 {
			if err := AppendLog(tx, requestorID, targetID, strings.Join(changes, "\n")); err != nil {
				return err
			}
		}

		roles, err := RolesOf(tx, targetID)
		if err != nil {
			return err
		}
		resp = newStaffUserResponse(target, roles)
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, newError(ErrConflict, "Username is already taken, try again")
		}
		return nil, err
	}
	return &resp, nil
}

// freeDeletedUsername 占位名撞上已有用户名时重新生成
func freeDeletedUsername(tx *gorm.DB) (string, error) {
	for i := 0; i < 5; i++ {
		candidate := deletedUsername()
		var n int64
		if err := tx.Model(&models.User{}).
			Where("normalized_username = ?", models.Normalize(candidate)).
			Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
	}
	return "", newError(ErrConflict, "Could not pick a free placeholder username, try again")
}

func boolChange(yes, no string, v bool) string {
	if v {
		return yes
	}
	return no
}
