package models

import "time"

// 任务状态常量
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// ImageInfo 批量任务中的一张输入图片，每张图片对应一次生成调用
type ImageInfo struct {
	FileID    string  `json:"file_id"`
	Filename  string  `json:"filename"`
	Status    string  `json:"status"` // pending/completed/failed/cancelled
	ResultURL *string `json:"result_url"`
	Error     *string `json:"error"`
}

// TaskItem 每个条目实际使用的提示词，多提示词批量时各条目不同
type TaskItem struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
	Status string `json:"status"`
}

// GeneratedImage 一条生成结果，成功时 generated_url 有值，失败时 error 有值
type GeneratedImage struct {
	Filename          string  `json:"filename"`
	GeneratedURL      *string `json:"generated_url"`
	GeneratedFilename *string `json:"generated_filename"`
	Prompt            string  `json:"prompt"`
	Error             *string `json:"error,omitempty"`
}

// TaskResults 聚合结果
type TaskResults struct {
	SuccessCount    int              `json:"success_count"`
	FailedCount     int              `json:"failed_count"`
	GeneratedImages []GeneratedImage `json:"generated_images"`
}

// BatchTask 是 redis 中持久化的任务快照，每次更新整体重写
type BatchTask struct {
	TaskID          string      `json:"task_id"`
	SessionID       string      `json:"session_id"`
	Status          string      `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	TotalImages     int         `json:"total_images"`
	ProcessedImages int         `json:"processed_images"`
	Progress        float64     `json:"progress"`
	Prompt          string      `json:"prompt"`
	APIType         string      `json:"api_type"`
	ModelName       string      `json:"model_name,omitempty"`
	CurrentImage    int         `json:"current_image,omitempty"`
	Items           []TaskItem  `json:"items"`
	Images          []ImageInfo `json:"images"`
	Results         TaskResults `json:"results"`
}
