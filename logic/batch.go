package logic

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleylin/BatchGenPro/dao/store"
	"github.com/wesleylin/BatchGenPro/generator"
	"github.com/wesleylin/BatchGenPro/models"
	"github.com/wesleylin/BatchGenPro/pkg/sse"
)

// BatchItem 批量任务中的一个处理单元：(参考图或nil, 提示词)
type BatchItem struct {
	Filename  string `json:"filename"`
	Prompt    string `json:"prompt"`
	ImageData []byte `json:"image_data,omitempty"`
}

// BatchResult 整批的处理结果。Success 只反映编排层本身是否正常跑完，
// 单个条目失败不影响它，哪怕全部条目都失败这一批也算"跑完了"。
type BatchResult struct {
	Success         bool                        `json:"success"`
	Error           string                      `json:"error,omitempty"`
	TaskID          string                      `json:"task_id"`
	Results         []*generator.GenerateResult `json:"results"`
	TotalImages     int                         `json:"total_images"`
	CompletedImages int                         `json:"completed_images"`
}

// BatchProcessor 顺序驱动一批生成调用并维护任务状态。
// 刻意不做并行：并行会触发厂商限流，进度记账也会复杂化，
// 吞吐靠多个请求处理进程横向扩展。
type BatchProcessor struct {
	tasks *store.BatchTaskManager
	hub   *sse.Hub // 可为 nil
	delay time.Duration
}

func NewBatchProcessor(tasks *store.BatchTaskManager, hub *sse.Hub) *BatchProcessor {
	return &BatchProcessor{
		tasks: tasks,
		hub:   hub,
		// 条目之间固定间隔，避免触发厂商限流
		delay: time.Second,
	}
}

// ProcessBatchTask 按提交顺序逐条处理：更新进度 -> 调厂商 -> 记录结果。
// 条目失败只记录在该条目上，循环继续。每个条目前检查取消标记，
// 观察到 cancelled 就停止，未处理的槽位标记为 cancelled，已有结果保留。
func (p *BatchProcessor) ProcessBatchTask(sessionID, taskID string, items []BatchItem, gen generator.ImageGenerator) (res *BatchResult) {
	defer func() {
		// 编排层自身的意外错误：任务置为 failed，整批结果标记失败
		if r := recover(); r != nil {
			zap.L().Error("batch processing panic",
				zap.String("task_id", taskID),
				zap.Any("panic", r))
			_, _ = p.tasks.UpdateTaskStatus(sessionID, taskID, models.StatusFailed, nil)
			res = &BatchResult{
				Success: false,
				TaskID:  taskID,
				Error:   fmt.Sprintf("批量处理异常: %v", r),
			}
		}
	}()

	total := len(items)
	results := make([]*generator.GenerateResult, 0, total)

	if _, err := p.tasks.UpdateTaskStatus(sessionID, taskID, models.StatusProcessing, nil); err != nil {
		return &BatchResult{Success: false, TaskID: taskID, Error: err.Error()}
	}

	for i, item := range items {
		t, err := p.tasks.GetTask(sessionID, taskID)
		if err == nil && t != nil && t.Status == models.StatusCancelled {
			zap.L().Info("batch task cancelled, stopping",
				zap.String("task_id", taskID),
				zap.Int("processed", i))
			if _, err := p.tasks.CancelPendingItems(sessionID, taskID); err != nil {
				zap.L().Error("failed to mark pending items cancelled",
					zap.String("task_id", taskID), zap.Error(err))
			}
			break
		}

		progress := float64(i) / float64(total) * 100
		if _, err := p.tasks.UpdateTaskProgress(sessionID, taskID, progress, i+1); err != nil {
			zap.L().Error("failed to update task progress",
				zap.String("task_id", taskID), zap.Error(err))
		}

		result := gen.Generate(item.ImageData, item.Prompt)
		// 记录该条目实际使用的提示词，多提示词批量时各条目不同
		result.Prompt = item.Prompt
		results = append(results, result)

		if _, err := p.tasks.AddTaskResult(sessionID, taskID, item.Filename, result); err != nil {
			zap.L().Error("failed to add task result",
				zap.String("task_id", taskID),
				zap.String("filename", item.Filename),
				zap.Error(err))
		}

		if i < total-1 && p.delay > 0 {
			time.Sleep(p.delay)
		}
	}

	p.notifyDone(sessionID, taskID)

	return &BatchResult{
		Success:         true,
		TaskID:          taskID,
		Results:         results,
		TotalImages:     total,
		CompletedImages: len(results),
	}
}

// FinishBatchTask 把整批结果映射为任务的终态。
// 正常完成时 AddTaskResult 已经把状态推到 completed，这里只兜底
// 仍停留在 processing 的情况；cancelled 不会被覆盖。
func (p *BatchProcessor) FinishBatchTask(sessionID, taskID string, res *BatchResult) {
	t, err := p.tasks.GetTask(sessionID, taskID)
	if err != nil || t == nil {
		return
	}
	if t.Status != models.StatusProcessing && t.Status != models.StatusPending {
		return
	}

	status := models.StatusCompleted
	if !res.Success {
		status = models.StatusFailed
	}
	if _, err := p.tasks.UpdateTaskStatus(sessionID, taskID, status, nil); err != nil {
		zap.L().Error("failed to set terminal task status",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

// notifyDone 任务结束后向所属 session 的订阅者推送一条 SSE 消息
func (p *BatchProcessor) notifyDone(sessionID, taskID string) {
	if p.hub == nil {
		return
	}
	t, err := p.tasks.GetTask(sessionID, taskID)
	if err != nil || t == nil {
		return
	}

	payload := struct {
		TaskID       string  `json:"task_id"`
		Status       string  `json:"status"`
		Progress     float64 `json:"progress"`
		SuccessCount int     `json:"success_count"`
		FailedCount  int     `json:"failed_count"`
	}{
		TaskID:       t.TaskID,
		Status:       t.Status,
		Progress:     t.Progress,
		SuccessCount: t.Results.SuccessCount,
		FailedCount:  t.Results.FailedCount,
	}
	if b, err := json.Marshal(payload); err == nil {
		p.hub.PublishTopic(sessionID, b)
	}
}
