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

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const CommentsPerPage = 50

type CommentAuthorResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CommentResponse struct {
	ID          string                `json:"id"`
	Content     string                `json:"content"`
	ContentHTML string                `json:"contentHtml"`
	Author      CommentAuthorResponse `json:"author"`
	CreatedAt   int64                 `json:"createdAt"`
}

type CommentsResponse struct {
	Comments  []CommentResponse `json:"comments"`
	PageCount int               `json:"pageCount"`
}

func newCommentResponse(c models.Comment) CommentResponse {
	return CommentResponse{
		ID:          c.ID,
		Content:     c.Content,
		ContentHTML: utils.RenderMarkdown(c.Content),
		Author:      CommentAuthorResponse{ID: c.Author.ID, Name: c.Author.Username},
		CreatedAt:   c.CreatedAt.UnixMilli(),
	}
}

// cleanContent 去掉 HTML 标签后校验长度
func cleanContent(raw string) (string, error) {
	content := strings.TrimSpace(utils.StripMarkup(raw))
	if content == "" {
		return "", newError(ErrBadRequest, "Comment cannot be empty")
	}
	if utf8.RuneCountInString(content) > models.CommentMaxLength {
		return "", newError(ErrBadRequest, "Comment cannot be longer than %d characters", models.CommentMaxLength)
	}
	return content, nil
}

type CommentService struct{}

func NewCommentService() *CommentService {
	return &CommentService{}
}

// ListComments 帖子评论，最新在前
func (s *CommentService) ListComments(ctx context.Context, postID string, page int) (*CommentsResponse, error) {
	tx := db.DB.WithContext(ctx)
	if _, err := findPost(tx, postID); err != nil {
		return nil, err
	}

	var total int64
	if err := tx.Model(&models.Comment{}).Where("post_id = ?", postID).Count(&total).Error; err != nil {
		return nil, err
	}

	var comments []models.Comment
	if err := tx.Preload("Author").
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Offset(page * CommentsPerPage).
		Limit(CommentsPerPage).
		Find(&comments).Error; err != nil {
		return nil, err
	}

	resp := &CommentsResponse{
		Comments:  make([]CommentResponse, 0, len(comments)),
		PageCount: utils.PageCount(total, CommentsPerPage),
	}
	for _, c := range comments {
		resp.Comments = append(resp.Comments, newCommentResponse(c))
	}
	return resp, nil
}

func (s *CommentService) CreateComment(ctx context.Context, actor Claims, postID, raw string) (*CommentResponse, error) {
	content, err := cleanContent(raw)
	if err != nil {
		return nil, err
	}

	var comment models.Comment
	err = db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findPost(tx, postID); err != nil {
			return err
		}
		author, err := findUser(tx, actor.UserID)
		if err != nil {
			return err
		}
		comment = models.Comment{
			Content:  content,
			PostID:   postID,
			AuthorID: author.ID,
		}
		if err := tx.Omit(clause.Associations).Create(&comment).Error; err != nil {
			return err
		}
		comment.Author = author
		return AppendLog(tx, actor.UserID, postID, "Created comment "+comment.ID)
	})
	if err != nil {
		return nil, err
	}
	resp := newCommentResponse(comment)
	return &resp, nil
}

func findComment(tx *gorm.DB, id string) (models.Comment, error) {
	var comment models.Comment
	err := tx.Preload("Author").First(&comment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return comment, newError(ErrNotFound, "Comment %s not found", id)
	}
	return comment, err
}

// EditComment 只有作者可以编辑
func (s *CommentService) EditComment(ctx context.Context, actor Claims, id, raw string) (*CommentResponse, error) {
	content, err := cleanContent(raw)
	if err != nil {
		return nil, err
	}

	// 单条查询不跟随请求取消
	comment, err := findComment(db.DB, id)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != actor.UserID {
		return nil, newError(ErrForbidden, "You can only edit your own comments")
	}

	err = db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Comment{}).Where("id = ?", comment.ID).
			Update("content", content).Error; err != nil {
			return err
		}
		return AppendLog(tx, actor.UserID, comment.ID,
			fmt.Sprintf("Edited comment from %q to %q", comment.Content, content))
	})
	if err != nil {
		return nil, err
	}
	comment.Content = content
	resp := newCommentResponse(comment)
	return &resp, nil
}

// DeleteComment 作者本人或 Staff/Admin 可以删除
func (s *CommentService) DeleteComment(ctx context.Context, actor Claims, id string) error {
	comment, err := findComment(db.DB, id)
	if err != nil {
		return err
	}
	if comment.AuthorID != actor.UserID && !actor.IsStaff() {
		return newError(ErrForbidden, "You can only delete your own comments")
	}

	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Comment{}, "id = ?", comment.ID).Error; err != nil {
			return err
		}
		return AppendLog(tx, actor.UserID, comment.ID,
			fmt.Sprintf("Removed comment %s by %s on post %s", comment.ID, comment.Author.Username, comment.PostID))
	})
}
