package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"holodomination/internal/db/dbtest"
	"holodomination/internal/models"
	"holodomination/internal/oauth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func claimsOf(t *testing.T, conn *gorm.DB, u models.User) Claims {
	t.Helper()
	roles, err := RolesOf(conn, u.ID)
	require.NoError(t, err)
	return IssueClaims(u, roles)
}

func discordIdentity(key, name, email string) oauth.Identity {
	return oauth.Identity{
		Provider:            "Discord",
		ProviderKey:         key,
		ProviderDisplayName: "Discord",
		Name:                name,
		Email:               email,
	}
}

func TestFirstSignupBecomesAdmin(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewAccountService()
	ctx := context.Background()

	first, err := svc.SignInExternal(ctx, discordIdentity("1", "calliope", "calli@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin"}, first.Roles)

	second, err := svc.SignInExternal(ctx, discordIdentity("2", "kiara", "kiara@example.com"))
	require.NoError(t, err)
	assert.Empty(t, second.Roles)

	assert.Equal(t, int64(2), dbtest.Count(t, conn, &models.User{}))
	assert.Equal(t, int64(1), dbtest.Count(t, conn, &models.BootstrapMarker{}))
}

func TestBootstrapSkippedWhenUsersExist(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "existing")

	claims, err := NewAccountService().SignInExternal(context.Background(),
		discordIdentity("1", "newcomer", "newcomer@example.com"))
	require.NoError(t, err)
	assert.Empty(t, claims.Roles)

	// 标记已被占用，以后也不会再授予 Admin
	claims, err = NewAccountService().SignInExternal(context.Background(),
		discordIdentity("2", "later", "later@example.com"))
	require.NoError(t, err)
	assert.Empty(t, claims.Roles)
}

func TestKnownLoginSignsInWithoutNewRows(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewAccountService()
	ctx := context.Background()

	created, err := svc.SignInExternal(ctx, discordIdentity("42", "ina", "ina@example.com"))
	require.NoError(t, err)

	users := dbtest.Count(t, conn, &models.User{})
	logs := dbtest.Count(t, conn, &models.Log{})
	logins := dbtest.Count(t, conn, &models.UserLogin{})

	again, err := svc.SignInExternal(ctx, discordIdentity("42", "renamed", "other@example.com"))
	require.NoError(t, err)
	assert.Equal(t, created.UserID, again.UserID)
	assert.Equal(t, "ina", again.Username)

	assert.Equal(t, users, dbtest.Count(t, conn, &models.User{}))
	assert.Equal(t, logs, dbtest.Count(t, conn, &models.Log{}))
	assert.Equal(t, logins, dbtest.Count(t, conn, &models.UserLogin{}))
}

func TestEmailMatchLinksLogin(t *testing.T) {
	conn := dbtest.Open(t)
	existing := dbtest.SeedUser(t, conn, "gura", "Uploader")

	claims, err := NewAccountService().SignInExternal(context.Background(), oauth.Identity{
		Provider:    "Google",
		ProviderKey: "g-1",
		Name:        "Gawr",
		Email:       "GURA@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, claims.UserID)
	assert.Equal(t, []string{"Uploader"}, claims.Roles)

	var login models.UserLogin
	require.NoError(t, conn.First(&login, "login_provider = ? AND provider_key = ?", "Google", "g-1").Error)
	assert.Equal(t, existing.ID, login.UserID)
	assert.Equal(t, int64(1), dbtest.Count(t, conn, &models.User{}))
}

func TestSignupRequiresNameAndEmail(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewAccountService()
	ctx := context.Background()

	_, err := svc.SignInExternal(ctx, discordIdentity("1", "", "a@example.com"))
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.EqualError(t, err, "No username provided")

	_, err = svc.SignInExternal(ctx, oauth.Identity{Provider: "Twitter", ProviderKey: "7", Name: "mumei"})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.EqualError(t, err, "No email provided")

	assert.Zero(t, dbtest.Count(t, conn, &models.User{}))
}

func TestSignupUsernameCollision(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "fauna")

	claims, err := NewAccountService().SignInExternal(context.Background(),
		discordIdentity("9", "Fauna", "ceres@example.com"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(claims.Username, "Fauna-"))
	assert.Len(t, claims.Username, len("Fauna-")+5)
}

func TestRefresh(t *testing.T) {
	conn := dbtest.Open(t)
	u := dbtest.SeedUser(t, conn, "bae", "Staff")

	claims, err := NewAccountService().Refresh(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Staff"}, claims.Roles)

	_, err = NewAccountService().Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueClaims(t *testing.T) {
	u := models.User{ID: "u1", Username: "irys", Email: "irys@example.com", SecurityStamp: "stamp-1"}
	roles := []string{"Staff", "Banned"}

	before := time.Now()
	c := IssueClaims(u, roles)
	assert.Equal(t, "stamp-1", c.SecurityStamp)
	assert.False(t, c.IssuedAt.Before(before))
	assert.Equal(t, []string{"Banned", "Staff"}, c.Roles)
	assert.Equal(t, []string{"Staff", "Banned"}, roles, "input must not be mutated")
	assert.True(t, c.IsBanned())
	assert.True(t, c.IsStaff())
	assert.True(t, c.HasRole("staff"))
	assert.False(t, c.HasRole("Admin"))
}

func TestRevalidateKeepsRolesWhileStampUnchanged(t *testing.T) {
	conn := dbtest.Open(t)
	u := dbtest.SeedUser(t, conn, "kronii", "Staff")
	old := claimsOf(t, conn, u)
	old.IssuedAt = time.Now().Add(-time.Hour)

	// 直接改角色表不轮换 stamp，claims 保持原样，只刷新签发时间
	dbtest.Grant(t, conn, u.ID, "Banned")
	claims, err := NewAccountService().Revalidate(context.Background(), old)
	require.NoError(t, err)
	assert.Equal(t, []string{"Staff"}, claims.Roles)
	assert.True(t, claims.IssuedAt.After(old.IssuedAt))
}

func TestRevalidateReissuesAfterStampRotation(t *testing.T) {
	conn := dbtest.Open(t)
	admin := dbtest.SeedUser(t, conn, "admin", "Admin")
	staff := dbtest.SeedUser(t, conn, "mumei", "Staff")
	old := claimsOf(t, conn, staff)

	_, err := NewUserService().EditUser(context.Background(), admin.ID, staff.ID,
		EditUserRequest{IsBanned: boolPtr(true)})
	require.NoError(t, err)

	claims, err := NewAccountService().Revalidate(context.Background(), old)
	require.NoError(t, err)
	assert.Equal(t, []string{"Banned"}, claims.Roles)
	assert.NotEqual(t, old.SecurityStamp, claims.SecurityStamp)

	_, err = NewAccountService().Revalidate(context.Background(), Claims{UserID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}
