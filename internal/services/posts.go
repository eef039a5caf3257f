package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"holodomination/internal/db"
	"holodomination/internal/logger"
	"holodomination/internal/models"
	"holodomination/internal/storage"
	"holodomination/internal/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	PostsPerPage = 10
	// 总页数允许 15 分钟的延迟，写入时不失效
	PageCountTTL = 15 * time.Minute
)

type PostResponse struct {
	ID        string         `json:"id"`
	Author    string         `json:"author"`
	Service   models.Service `json:"service"`
	IsLewd    bool           `json:"isLewd"`
	Tags      []string       `json:"tags"`
	URL       string         `json:"url"`
	CreatedAt int64          `json:"createdAt"`
}

type PostsResponse struct {
	Posts     []PostResponse `json:"posts"`
	PageCount int            `json:"pageCount"`
}

type PostQuery struct {
	Tags     string
	Page     int
	KeepLewd bool
}

type CreatePostInput struct {
	ID          string
	Author      string
	Service     string
	IsLewd      bool
	Tags        string
	File        io.Reader
	Size        int64
	ContentType string
}

// EditPostRequest nil 字段不修改，tags 整体替换
type EditPostRequest struct {
	Tags   *string `json:"tags"`
	Author *string `json:"author"`
	IsLewd *bool   `json:"isLewd"`
}

type PostService struct {
	store storage.ObjectStore
	cache *utils.GlobalCache
}

func NewPostService(store storage.ObjectStore, cache *utils.GlobalCache) *PostService {
	return &PostService{store: store, cache: cache}
}

// ParseTags 按空白分割，转小写并去重，保持原有顺序
func ParseTags(raw string) []string {
	fields := strings.Fields(strings.ToLower(raw))
	seen := make(map[string]bool, len(fields))
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			tags = append(tags, f)
		}
	}
	return tags
}

func pageCountKey(tags []string, keepLewd bool) string {
	key := "posts:pages"
	if len(tags) > 0 {
		key += ":" + strings.Join(tags, " ")
	}
	if keepLewd {
		key += ":isLewd"
	}
	return key
}

func newPostResponse(p models.Post, tags []string) PostResponse {
	if tags == nil {
		tags = []string{}
	}
	return PostResponse{
		ID:        p.ID,
		Author:    p.Author,
		Service:   p.Service,
		IsLewd:    p.IsLewd,
		Tags:      tags,
		URL:       p.URL(),
		CreatedAt: p.CreatedAt.UnixMilli(),
	}
}

// tagsOf 批量查询帖子的标签
func tagsOf(tx *gorm.DB, postIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(postIDs))
	if len(postIDs) == 0 {
		return result, nil
	}
	var links []models.TagLink
	if err := tx.Where("post_id IN ?", postIDs).Order("tag_id").Find(&links).Error; err != nil {
		return nil, err
	}
	for _, l := range links {
		result[l.PostID] = append(result[l.PostID], l.TagID)
	}
	return result, nil
}

// ListPosts 标签过滤要求帖子包含全部标签：命中的 tag link 数等于标签数
func (s *PostService) ListPosts(ctx context.Context, q PostQuery) (*PostsResponse, error) {
	tags := ParseTags(q.Tags)

	var posts []models.Post
	if err := postFilter(db.DB.WithContext(ctx), tags, q.KeepLewd).
		Order("created_at DESC").
		Offset(q.Page * PostsPerPage).
		Limit(PostsPerPage).
		Find(&posts).Error; err != nil {
		return nil, err
	}

	total, err := s.countPosts(ctx, tags, q.KeepLewd)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	tagMap, err := tagsOf(db.DB.WithContext(ctx), ids)
	if err != nil {
		return nil, err
	}

	resp := &PostsResponse{
		Posts:     make([]PostResponse, 0, len(posts)),
		PageCount: utils.PageCount(total, PostsPerPage),
	}
	for _, p := range posts {
		resp.Posts = append(resp.Posts, newPostResponse(p, tagMap[p.ID]))
	}
	return resp, nil
}

func postFilter(tx *gorm.DB, tags []string, keepLewd bool) *gorm.DB {
	tx = tx.Model(&models.Post{})
	if len(tags) > 0 {
		matching := db.DB.Model(&models.TagLink{}).
			Select("post_id").
			Where("tag_id IN ?", tags).
			Group("post_id").
			Having("COUNT(DISTINCT tag_id) = ?", len(tags))
		tx = tx.Where("id IN (?)", matching)
	}
	if !keepLewd {
		tx = tx.Where("is_lewd = ?", false)
	}
	return tx
}

// countPosts 缓存的帖子总数
// 同一 key 的请求共享一次 count，查询不跟随发起者的取消
func (s *PostService) countPosts(ctx context.Context, tags []string, keepLewd bool) (int64, error) {
	detached := context.WithoutCancel(ctx)
	total, err := s.cache.GetOrCreate(pageCountKey(tags, keepLewd), PageCountTTL, func() (interface{}, error) {
		var n int64
		err := postFilter(db.DB.WithContext(detached), tags, keepLewd).Count(&n).Error
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return total.(int64), nil
}

func findPost(tx *gorm.DB, id string) (models.Post, error) {
	var post models.Post
	err := tx.First(&post, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return post, newError(ErrNotFound, "Post %s not found", id)
	}
	return post, err
}

func (s *PostService) GetPost(ctx context.Context, id string) (*PostResponse, error) {
	tx := db.DB.WithContext(ctx)
	post, err := findPost(tx, id)
	if err != nil {
		return nil, err
	}
	tagMap, err := tagsOf(tx, []string{id})
	if err != nil {
		return nil, err
	}
	resp := newPostResponse(post, tagMap[id])
	return &resp, nil
}

// linkTags 复用已有标签，不存在则创建
func linkTags(tx *gorm.DB, postID string, tags []string) error {
	for _, t := range tags {
		tag := models.Tag{ID: t}
		if err := tx.Where(models.Tag{ID: t}).FirstOrCreate(&tag).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.TagLink{PostID: postID, TagID: t}).Error; err != nil {
			return err
		}
	}
	return nil
}

// CreatePost 先在事务里写帖子、标签和日志，再写对象存储；
// 存储失败则整个事务回滚。对象写入后提交失败时尽力删除对象
func (s *PostService) CreatePost(ctx context.Context, actor Claims, in CreatePostInput) (*PostResponse, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, newError(ErrBadRequest, "Post id is required")
	}
	service, ok := models.ParseService(in.Service)
	if !ok {
		return nil, newError(ErrBadRequest, "Unknown service %s", in.Service)
	}
	if in.File == nil {
		return nil, newError(ErrBadRequest, "File is required")
	}

	var exists int64
	if err := db.DB.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, newError(ErrConflict, "Post %s already exists", id)
	}

	tags := ParseTags(in.Tags)
	post := models.Post{
		ID:      id,
		Author:  strings.TrimSpace(in.Author),
		Service: service,
		IsLewd:  in.IsLewd,
	}

	stored := false
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		if err := linkTags(tx, post.ID, tags); err != nil {
			return err
		}
		if err := AppendLog(tx, actor.UserID, post.ID, "Created post"); err != nil {
			return err
		}
		if err := s.store.Put(ctx, post.ID, in.File, in.Size, in.ContentType); err != nil {
			return fmt.Errorf("store image: %w", err)
		}
		stored = true
		return nil
	})
	if err != nil {
		if stored {
			s.compensate(post.ID, err)
		}
		if db.IsUniqueViolation(err) {
			return nil, newError(ErrConflict, "Post %s already exists", id)
		}
		return nil, err
	}

	logger.Log.Info("post created", zap.String("post_id", post.ID), zap.String("by", actor.UserID))
	resp := newPostResponse(post, tags)
	return &resp, nil
}

// compensate 对象已写入但事务提交失败
func (s *PostService) compensate(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Remove(ctx, id); err != nil {
		logger.Log.Error("failed to remove orphaned object",
			zap.String("post_id", id), zap.Error(err), zap.NamedError("cause", cause))
	}
}

// EditPost 任意 Uploader/Staff/Admin 都可以编辑，不检查归属
func (s *PostService) EditPost(ctx context.Context, actor Claims, id string, req EditPostRequest) (*PostResponse, error) {
	// 单条查询不跟随请求取消
	post, err := findPost(db.DB, id)
	if err != nil {
		return nil, err
	}

	var tags []string
	err = db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var changes []string
		updates := map[string]interface{}{}

		if req.Tags != nil {
			tags = ParseTags(*req.Tags)
			if err := tx.Where("post_id = ?", post.ID).Delete(&models.TagLink{}).Error; err != nil {
				return err
			}
			if err := linkTags(tx, post.ID, tags); err != nil {
				return err
			}
			changes = append(changes, "Set tags to "+strings.Join(tags, " "))
		}
		if req.Author != nil {
			post.Author = strings.TrimSpace(*req.Author)
			updates["author"] = post.Author
			changes = append(changes, "Set author to "+post.Author)
		}
		if req.IsLewd != nil {
			post.IsLewd = *req.IsLewd
			updates["is_lewd"] = post.IsLewd
			changes = append(changes, "Set IsLewd to "+strconv.FormatBool(post.IsLewd))
		}

		if len(updates) > 0 {
			if err := tx.Model(&models.Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		if len(changes) == 0 {
			return nil
		}
		return AppendLog(tx, actor.UserID, post.ID, strings.Join(changes, "\n"))
	})
	if err != nil {
		return nil, err
	}

	if req.Tags == nil {
		tagMap, err := tagsOf(db.DB.WithContext(ctx), []string{post.ID})
		if err != nil {
			return nil, err
		}
		tags = tagMap[post.ID]
	}
	resp := newPostResponse(post, tags)
	return &resp, nil
}

// DeletePost 先确认对象存在；对象缺失时不删除数据库记录，提示联系管理员手动处理
func (s *PostService) DeletePost(ctx context.Context, actor Claims, id string) error {
	post, err := findPost(db.DB, id)
	if err != nil {
		return err
	}

	if _, err := s.store.Stat(ctx, post.ID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		admins, aerr := UsernamesInRole(ctx, models.RankAdmin.String())
		if aerr != nil {
			return aerr
		}
		logger.Log.Error("post image missing from storage", zap.String("post_id", post.ID))
		return newError(ErrInternal, "Ask %s to manually delete post %s", strings.Join(admins, ", "), post.ID)
	}

	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.TagLink{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Post{}, "id = ?", post.ID).Error; err != nil {
			return err
		}
		if err := AppendLog(tx, actor.UserID, post.ID, "Removed post"); err != nil {
			return err
		}
		return s.store.Remove(ctx, post.ID)
	})
}

// Image 返回帖子图片流，调用方负责关闭
func (s *PostService) Image(ctx context.Context, id string) (io.ReadCloser, storage.ObjectInfo, error) {
	rc, info, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, info, newError(ErrNotFound, "Image for post %s not found", id)
		}
		return nil, info, err
	}
	return rc, info, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// SearchTags 子串匹配标签
func (s *PostService) SearchTags(ctx context.Context, query string) ([]string, error) {
	tags := []string{}
	q := likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query)))
	err := db.DB.WithContext(ctx).Model(&models.Tag{}).
		Where(`id LIKE ? ESCAPE '\'`, "%"+q+"%").
		Order("id").
		Limit(50).
		Pluck("id", &tags).Error
	return tags, err
}
