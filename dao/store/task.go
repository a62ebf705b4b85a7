package store

import (
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"

	"github.com/wesleylin/BatchGenPro/generator"
	"github.com/wesleylin/BatchGenPro/models"
)

const (
	taskKeyPrefix = "batch_task:"
	// 任务快照保留 1 小时，到期自动清理，终态也不例外
	taskTTL = time.Hour
)

// ImageSeed 创建任务时每张图片的初始数据
type ImageSeed struct {
	Filename string
	Prompt   string
}

// BatchTaskManager 多用户隔离的批量任务管理器，通过 session_id 区分每个用户的任务。
// 每次写入都整体重写 JSON 快照并刷新 TTL，读方永远看到一致的快照。
type BatchTaskManager struct {
	client *redis.Client
}

func NewBatchTaskManager(client *redis.Client) *BatchTaskManager {
	return &BatchTaskManager{client: client}
}

func (m *BatchTaskManager) makeTaskKey(sessionID, taskID string) string {
	return taskKeyPrefix + sessionID + ":" + taskID
}

func (m *BatchTaskManager) makeAllTasksKey(sessionID string) string {
	return taskKeyPrefix + sessionID + ":*"
}

func (m *BatchTaskManager) save(t *models.BatchTask) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return m.client.Set(m.makeTaskKey(t.SessionID, t.TaskID), data, taskTTL).Err()
}

// CreateTask 分配任务ID，以 pending 状态初始化 images 和 items 并落盘
func (m *BatchTaskManager) CreateTask(sessionID string, seeds []ImageSeed, prompt, apiType, modelName string) (string, *models.BatchTask, error) {
	taskID := uuid.New().String()
	now := time.Now()

	t := &models.BatchTask{
		TaskID:      taskID,
		SessionID:   sessionID,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		TotalImages: len(seeds),
		Progress:    0,
		Prompt:      prompt,
		APIType:     apiType,
		ModelName:   modelName,
		Items:       make([]models.TaskItem, 0, len(seeds)),
		Images:      make([]models.ImageInfo, 0, len(seeds)),
		Results: models.TaskResults{
			GeneratedImages: []models.GeneratedImage{},
		},
	}

	for i, seed := range seeds {
		t.Images = append(t.Images, models.ImageInfo{
			FileID:   uuid.New().String(),
			Filename: seed.Filename,
			Status:   models.StatusPending,
		})
		t.Items = append(t.Items, models.TaskItem{
			Index:  i,
			Prompt: seed.Prompt,
			Status: models.StatusPending,
		})
	}

	if err := m.save(t); err != nil {
		return "", nil, err
	}
	return taskID, t, nil
}

// GetTask 返回任务快照，不存在返回 (nil, nil)
func (m *BatchTaskManager) GetTask(sessionID, taskID string) (*models.BatchTask, error) {
	data, err := m.client.Get(m.makeTaskKey(sessionID, taskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t models.BatchTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTaskStatus 更新状态并合并任意字段覆盖（用于暂存 items 等派生数据），刷新 updated_at 和 TTL
func (m *BatchTaskManager) UpdateTaskStatus(sessionID, taskID, status string, fields map[string]interface{}) (*models.BatchTask, error) {
	t, err := m.GetTask(sessionID, taskID)
	if err != nil || t == nil {
		return nil, err
	}

	t.Status = status
	t.UpdatedAt = time.Now()

	if len(fields) > 0 {
		// 走一轮 JSON 把覆盖字段合并进快照，store 不关心具体 schema
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		var merged map[string]interface{}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, err
		}
		for k, v := range fields {
			merged[k] = v
		}
		raw, err = json.Marshal(merged)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, t); err != nil {
			return nil, err
		}
	}

	if err := m.save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTaskProgress 设置进度并推导 processed_images
func (m *BatchTaskManager) UpdateTaskProgress(sessionID, taskID string, progress float64, currentImage int) (*models.BatchTask, error) {
	t, err := m.GetTask(sessionID, taskID)
	if err != nil || t == nil {
		return nil, err
	}

	t.Progress = progress
	t.ProcessedImages = int(progress / 100 * float64(t.TotalImages))
	if currentImage > 0 {
		t.CurrentImage = currentImage
	}
	t.UpdatedAt = time.Now()

	if err := m.save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddTaskResult 记录一次生成调用的结果：按文件名定位图片槽位（取第一个匹配，调用方保证
// 任务内文件名唯一），更新槽位状态，把成功或失败记录追加进 generated_images，重算进度,
// 全部条目落盘后自动置为 completed。
func (m *BatchTaskManager) AddTaskResult(sessionID, taskID, filename string, result *generator.GenerateResult) (*models.BatchTask, error) {
	t, err := m.GetTask(sessionID, taskID)
	if err != nil || t == nil {
		return nil, err
	}

	for i := range t.Images {
		if t.Images[i].Filename != filename {
			continue
		}
		if result.Success {
			t.Images[i].Status = models.StatusCompleted
			url := result.GeneratedImageURL
			t.Images[i].ResultURL = &url
			t.Results.SuccessCount++

			genFilename := result.GeneratedFilename
			t.Results.GeneratedImages = append(t.Results.GeneratedImages, models.GeneratedImage{
				Filename:          filename,
				GeneratedURL:      &url,
				GeneratedFilename: &genFilename,
				Prompt:            result.Prompt,
			})
		} else {
			t.Images[i].Status = models.StatusFailed
			errMsg := result.Error
			t.Images[i].Error = &errMsg
			t.Results.FailedCount++

			// 失败结果也加入 generated_images，便于前端统一合并渲染
			t.Results.GeneratedImages = append(t.Results.GeneratedImages, models.GeneratedImage{
				Filename: filename,
				Prompt:   result.Prompt,
				Error:    &errMsg,
			})
		}
		if i < len(t.Items) {
			t.Items[i].Status = t.Images[i].Status
		}
		break
	}

	completed := t.Results.SuccessCount + t.Results.FailedCount
	if completed >= t.TotalImages {
		t.Status = models.StatusCompleted
		t.Progress = 100.0
	} else {
		t.Progress = float64(completed) / float64(t.TotalImages) * 100
	}
	t.ProcessedImages = completed
	t.UpdatedAt = time.Now()

	if err := m.save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// CancelTask 置为 cancelled。取消是协作式的，不会打断进行中的生成调用，
// 由处理循环在下一个条目前观察到并停止。
func (m *BatchTaskManager) CancelTask(sessionID, taskID string) (*models.BatchTask, error) {
	return m.UpdateTaskStatus(sessionID, taskID, models.StatusCancelled, nil)
}

// CancelPendingItems 将尚未处理的槽位标记为 cancelled，已有结果保持不变
func (m *BatchTaskManager) CancelPendingItems(sessionID, taskID string) (*models.BatchTask, error) {
	t, err := m.GetTask(sessionID, taskID)
	if err != nil || t == nil {
		return nil, err
	}

	for i := range t.Images {
		if t.Images[i].Status == models.StatusPending {
			t.Images[i].Status = models.StatusCancelled
		}
	}
	for i := range t.Items {
		if t.Items[i].Status == models.StatusPending {
			t.Items[i].Status = models.StatusCancelled
		}
	}
	t.UpdatedAt = time.Now()

	if err := m.save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetAllTasks 返回某个 session 的全部任务，按创建时间倒序。
// 单条损坏的记录跳过，不影响整个列表。
func (m *BatchTaskManager) GetAllTasks(sessionID string) ([]*models.BatchTask, error) {
	keys, err := m.client.Keys(m.makeAllTasksKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.BatchTask, 0, len(keys))
	for _, key := range keys {
		data, err := m.client.Get(key).Bytes()
		if err != nil {
			continue
		}
		var t models.BatchTask
		if err := json.Unmarshal(data, &t); err != nil {
			log.Printf("skip corrupt task entry %s: %v", key, err)
			continue
		}
		tasks = append(tasks, &t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// DeleteTask 删除任务快照，返回是否存在
func (m *BatchTaskManager) DeleteTask(sessionID, taskID string) (bool, error) {
	n, err := m.client.Del(m.makeTaskKey(sessionID, taskID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
