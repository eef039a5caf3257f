package services

import (
	"context"
	"strings"
	"testing"

	"holodomination/internal/db/dbtest"
	"holodomination/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditCurrentUser(t *testing.T) {
	conn := dbtest.Open(t)
	u := dbtest.SeedUser(t, conn, "kronii")
	svc := NewUserService()

	resp, err := svc.EditCurrentUser(context.Background(), u.ID, strPtr("  Ouro  "))
	require.NoError(t, err)
	assert.Equal(t, "Ouro", resp.Username)

	var stored models.User
	require.NoError(t, conn.First(&stored, "id = ?", u.ID).Error)
	assert.Equal(t, "OURO", stored.NormalizedUsername)

	var log models.Log
	require.NoError(t, conn.First(&log, "towards = ?", u.ID).Error)
	assert.Equal(t, "Changed username from kronii to Ouro", log.Description)

	// 未提供用户名时不做任何修改
	resp, err = svc.EditCurrentUser(context.Background(), u.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ouro", resp.Username)
	assert.Equal(t, int64(1), dbtest.Count(t, conn, &models.Log{}))
}

func TestEditCurrentUserRejected(t *testing.T) {
	conn := dbtest.Open(t)
	u := dbtest.SeedUser(t, conn, "sana")
	dbtest.SeedUser(t, conn, "Taken")
	svc := NewUserService()
	ctx := context.Background()

	_, err := svc.EditCurrentUser(ctx, u.ID, strPtr(strings.Repeat("x", UsernameMaxLength+1)))
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.EditCurrentUser(ctx, u.ID, strPtr("   "))
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.EditCurrentUser(ctx, u.ID, strPtr("TAKEN"))
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, conn.Model(&models.User{}).Where("id = ?", u.ID).Update("can_change_username", false).Error)
	_, err = svc.EditCurrentUser(ctx, u.ID, strPtr("free"))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.EditCurrentUser(ctx, "missing", strPtr("free"))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, dbtest.Count(t, conn, &models.Log{}))
}

func TestListUsersSearch(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "Amelia", "Staff")
	dbtest.SeedUser(t, conn, "Gura", "Banned")
	dbtest.SeedUser(t, conn, "Kiara")

	resp, err := NewUserService().ListUsers(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, resp.Users, 3)
	assert.Equal(t, 1, resp.PageCount)

	resp, err = NewUserService().ListUsers(context.Background(), "gur", 0)
	require.NoError(t, err)
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "Gura", resp.Users[0].Username)
	assert.True(t, resp.Users[0].IsBanned)
	assert.True(t, resp.Users[0].CanComment)

	// 邮箱也参与匹配
	resp, err = NewUserService().ListUsers(context.Background(), "amelia@example", 0)
	require.NoError(t, err)
	require.Len(t, resp.Users, 1)
	assert.Equal(t, []string{"Staff"}, resp.Users[0].Roles)

	resp, err = NewUserService().ListUsers(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Empty(t, resp.Users)
}

func TestGetUser(t *testing.T) {
	conn := dbtest.Open(t)
	u := dbtest.SeedUser(t, conn, "mumei", "Uploader")

	resp, err := NewUserService().GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "mumei", resp.Username)
	assert.Equal(t, "mumei@example.com", resp.Email)
	assert.False(t, resp.IsBanned)

	_, err = NewUserService().GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
