package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleBanned is a tag role, it never takes part in rank comparisons.
const RoleBanned = "Banned"

// Rank 角色等级，None < Uploader < Staff < Admin
type Rank int

const (
	RankNone Rank = iota
	RankUploader
	RankStaff
	RankAdmin
)

var rankNames = [...]string{"None", "Uploader", "Staff", "Admin"}

// OrdinalRoles 可以被授予的等级角色（不含 None）
var OrdinalRoles = []Rank{RankUploader, RankStaff, RankAdmin}

func (r Rank) String() string {
	if r < RankNone || r > RankAdmin {
		return "Rank(" + strconv.Itoa(int(r)) + ")"
	}
	return rankNames[r]
}

func (r Rank) Valid() bool {
	return r >= RankNone && r <= RankAdmin
}

// ParseRank matches a role name case-insensitively.
func ParseRank(s string) (Rank, bool) {
	for i, name := range rankNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Rank(i), true
		}
	}
	return RankNone, false
}

// HighestRank 取角色列表中的最高等级，未知角色忽略
func HighestRank(roles []string) Rank {
	highest := RankNone
	for _, role := range roles {
		if r, ok := ParseRank(role); ok && r > highest {
			highest = r
		}
	}
	return highest
}

func (r Rank) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts either the role name or its ordinal.
func (r *Rank) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, ok := ParseRank(name)
		if !ok {
			return fmt.Errorf("unknown role %q", name)
		}
		*r = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("role must be a name or a number: %w", err)
	}
	if !Rank(n).Valid() {
		return fmt.Errorf("unknown role %d", n)
	}
	*r = Rank(n)
	return nil
}

type Role struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	Name           string `gorm:"size:64;not null" json:"name"`
	NormalizedName string `gorm:"size:64;uniqueIndex;not null" json:"-"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.NormalizedName = Normalize(r.Name)
	return nil
}

type UserRole struct {
	UserID string `gorm:"primaryKey;size:36"`
	RoleID string `gorm:"primaryKey;size:36;index"`
}
