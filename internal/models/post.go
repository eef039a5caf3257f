package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service 帖子来源平台
type Service int

const (
	ServiceTwitter Service = iota
	ServicePixiv
)

var serviceNames = map[Service]string{
	ServiceTwitter: "Twitter",
	ServicePixiv:   "Pixiv",
}

func (s Service) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return "Service(" + strconv.Itoa(int(s)) + ")"
}

// ParseService accepts a service name (any case) or its ordinal.
func ParseService(s string) (Service, bool) {
	s = strings.TrimSpace(s)
	for svc, name := range serviceNames {
		if strings.EqualFold(name, s) {
			return svc, true
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := serviceNames[Service(n)]; ok {
			return Service(n), true
		}
	}
	return 0, false
}

func (s Service) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Service) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		raw = string(data)
	}
	parsed, ok := ParseService(raw)
	if !ok {
		return fmt.Errorf("unknown service %q", raw)
	}
	*s = parsed
	return nil
}

// Post 的 ID 即来源平台上的作品 ID，同时作为对象存储 key
type Post struct {
	ID        string    `gorm:"primaryKey;size:128" json:"id"`
	Author    string    `gorm:"size:128;not null" json:"author"`
	Service   Service   `gorm:"not null" json:"service"`
	IsLewd    bool      `gorm:"not null;index" json:"isLewd"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// URL 原作地址
func (p *Post) URL() string {
	switch p.Service {
	case ServicePixiv:
		return "https://pixiv.net/en/artworks/" + p.ID
	default:
		return fmt.Sprintf("https://twitter.com/%s/status/%s", p.Author, p.ID)
	}
}

type Tag struct {
	ID string `gorm:"primaryKey;size:128" json:"id"`
}

type TagLink struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	PostID string `gorm:"size:128;not null;uniqueIndex:idx_tag_links_post_tag" json:"postId"`
	TagID  string `gorm:"size:128;not null;uniqueIndex:idx_tag_links_post_tag;index" json:"tagId"`
}

func (l *TagLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
