package services

import (
	"context"

	"holodomination/internal/db"
	"holodomination/internal/models"
	"holodomination/internal/utils"

	"gorm.io/gorm"
)

const LogsPerPage = 20

// AppendLog 写入一条审计日志，调用方传入事务以便与业务修改一起提交
func AppendLog(tx *gorm.DB, byID, towards, description string) error {
	return tx.Omit("By").Create(&models.Log{
		ByID:        byID,
		Towards:     towards,
		Description: description,
	}).Error
}

type LogQuery struct {
	By      string
	Towards string
	Page    int
}

type LogResponse struct {
	ID          string `json:"id"`
	By          string `json:"by"`
	ByUsername  string `json:"byUsername"`
	Towards     string `json:"towards"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"createdAt"`
}

type LogsResponse struct {
	Logs      []LogResponse `json:"logs"`
	PageCount int           `json:"pageCount"`
}

// ListLogs 按操作者/对象过滤，最新在前；总页数使用同样的过滤条件
func ListLogs(ctx context.Context, q LogQuery) (*LogsResponse, error) {
	filter := func() *gorm.DB {
		tx := db.DB.WithContext(ctx).Model(&models.Log{})
		if q.By != "" {
			tx = tx.Where("by_id = ?", q.By)
		}
		if q.Towards != "" {
			tx = tx.Where("towards = ?", q.Towards)
		}
		return tx
	}

	var total int64
	if err := filter().Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []models.Log
	if err := filter().
		Preload("By").
		Order("created_at DESC").
		Offset(q.Page * LogsPerPage).
		Limit(LogsPerPage).
		Find(&logs).Error; err != nil {
		return nil, err
	}

	resp := &LogsResponse{
		Logs:      make([]LogResponse, 0, len(logs)),
		PageCount: utils.PageCount(total, LogsPerPage),
	}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, LogResponse{
			ID:          l.ID,
			By:          l.ByID,
			ByUsername:  l.By.Username,
			Towards:     l.Towards,
			Description: l.Description,
			CreatedAt:   l.CreatedAt.UnixMilli(),
		})
	}
	return resp, nil
}
