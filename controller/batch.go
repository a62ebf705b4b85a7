package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleylin/BatchGenPro/dao/mysql"
	"github.com/wesleylin/BatchGenPro/dao/store"
	"github.com/wesleylin/BatchGenPro/generator"
	"github.com/wesleylin/BatchGenPro/logic"
	"github.com/wesleylin/BatchGenPro/middleware"
	"github.com/wesleylin/BatchGenPro/models"
	"github.com/wesleylin/BatchGenPro/pkg/queue"
	"github.com/wesleylin/BatchGenPro/util"
)

const (
	// 单批最多10张
	maxImagesPerBatch = 10
	// 多提示词模式最多10条
	maxPromptsPerBatch = 10

	sessionHeader = "X-Session-Id"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

func allowedFile(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// BatchHandler 批量任务相关接口。依赖在进程启动时构造并注入，
// queue 为 nil 时任务在请求内同步处理。
type BatchHandler struct {
	tasks     *store.BatchTaskManager
	limiter   *store.DailyLimitManager
	processor *logic.BatchProcessor
	queue     queue.BatchQueue
}

func NewBatchHandler(tasks *store.BatchTaskManager, limiter *store.DailyLimitManager, processor *logic.BatchProcessor, q queue.BatchQueue) *BatchHandler {
	return &BatchHandler{
		tasks:     tasks,
		limiter:   limiter,
		processor: processor,
		queue:     q,
	}
}

func sessionID(c *gin.Context) string {
	return c.GetHeader(sessionHeader)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// collectBatchItems 把三种提交方式归一成同一组 (图片或nil, 提示词) 条目：
//  1. files[] 多图 + 共享提示词
//  2. 单张参考图（可无）+ prompt + image_count，提示词重复N次
//  3. 单张参考图（可无）+ prompts JSON数组，每条提示词一个条目
func collectBatchItems(c *gin.Context) (items []logic.BatchItem, sharedPrompt string, errMsg string) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, "", "无法解析表单数据"
	}

	prompt := strings.TrimSpace(c.PostForm("prompt"))
	promptsRaw := strings.TrimSpace(c.PostForm("prompts"))

	// 方式1：多文件
	if files := form.File["files"]; len(files) > 0 {
		if prompt == "" {
			return nil, "", "缺少提示词"
		}
		if len(files) > maxImagesPerBatch {
			return nil, "", fmt.Sprintf("单批最多 %d 张图片", maxImagesPerBatch)
		}
		for _, fh := range files {
			if fh.Filename == "" || !allowedFile(fh.Filename) {
				continue
			}
			data, err := readFormFile(fh)
			if err != nil {
				return nil, "", "读取上传文件失败"
			}
			saveUploadAsync(fh.Filename, data)
			items = append(items, logic.BatchItem{
				Filename:  fh.Filename,
				Prompt:    prompt,
				ImageData: data,
			})
		}
		if len(items) == 0 {
			return nil, "", "没有有效的图片文件"
		}
		return items, prompt, ""
	}

	// 方式2/3：单张参考图（可选）
	var refData []byte
	refName := "generation"
	if fhs := form.File["file"]; len(fhs) > 0 {
		fh := fhs[0]
		if !allowedFile(fh.Filename) {
			return nil, "", "不支持的文件类型"
		}
		data, err := readFormFile(fh)
		if err != nil {
			return nil, "", "读取上传文件失败"
		}
		refData = data
		refName = strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))
		saveUploadAsync(fh.Filename, data)
	}

	// 方式3：多提示词
	if promptsRaw != "" {
		var prompts []string
		if err := json.Unmarshal([]byte(promptsRaw), &prompts); err != nil {
			return nil, "", "prompts 必须是JSON字符串数组"
		}
		if len(prompts) == 0 || len(prompts) > maxPromptsPerBatch {
			return nil, "", fmt.Sprintf("prompts 数量必须在 1-%d 之间", maxPromptsPerBatch)
		}
		for i, p := range prompts {
			p = strings.TrimSpace(p)
			if p == "" {
				return nil, "", fmt.Sprintf("第 %d 条提示词为空", i+1)
			}
			// 任务内文件名要求唯一，AddTaskResult 按文件名定位槽位
			items = append(items, logic.BatchItem{
				Filename:  fmt.Sprintf("%s_%d.png", refName, i+1),
				Prompt:    p,
				ImageData: refData,
			})
		}
		if prompt == "" {
			prompt = prompts[0]
		}
		return items, prompt, ""
	}

	// 方式2：重复生成
	if prompt == "" {
		return nil, "", "缺少提示词"
	}
	count, err := strconv.Atoi(c.DefaultPostForm("image_count", "1"))
	if err != nil || count < 1 || count > maxImagesPerBatch {
		return nil, "", fmt.Sprintf("image_count 必须在 1-%d 之间", maxImagesPerBatch)
	}
	for i := 0; i < count; i++ {
		items = append(items, logic.BatchItem{
			Filename:  fmt.Sprintf("%s_%d.png", refName, i+1),
			Prompt:    prompt,
			ImageData: refData,
		})
	}
	return items, prompt, ""
}

// saveUploadAsync 上传原图落盘只为静态访问，失败不影响任务。
// 返回落盘后的唯一文件名。
func saveUploadAsync(filename string, data []byte) string {
	name := uuid.New().String() + "_" + filepath.Base(filename)
	if err := util.SaveUploadImage(name, data); err != nil {
		zap.L().Warn("failed to save upload", zap.String("filename", filename), zap.Error(err))
	}
	return name
}

// CreateBatchTask 创建批量生成任务
func (h *BatchHandler) CreateBatchTask(c *gin.Context) {
	sid := sessionID(c)
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "缺少会话标识"})
		return
	}

	apiType := c.DefaultPostForm("api_type", generator.APITypeGemini)
	if !generator.IsSupportedAPIType(apiType) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("不支持的API类型: %s", apiType)})
		return
	}
	modelName := c.PostForm("model_name")
	apiKey := c.PostForm("api_key")
	apiBase := c.PostForm("api_base")

	items, sharedPrompt, errMsg := collectBatchItems(c)
	if errMsg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": errMsg})
		return
	}

	// 每日限额：整批检查，不足则整批拒绝
	admitted, used, remaining, err := h.limiter.CheckAndIncrement(sid, len(items))
	if err != nil {
		zap.L().Error("rate limiter unavailable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "服务暂时不可用"})
		return
	}
	if !admitted {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":    false,
			"error":      fmt.Sprintf("今日生成额度不足：已使用 %d 张，剩余 %d 张", used, remaining),
			"used_count": used,
			"remaining":  remaining,
		})
		return
	}

	seeds := make([]store.ImageSeed, 0, len(items))
	for _, item := range items {
		seeds = append(seeds, store.ImageSeed{Filename: item.Filename, Prompt: item.Prompt})
	}
	taskID, taskData, err := h.tasks.CreateTask(sid, seeds, sharedPrompt, apiType, modelName)
	if err != nil {
		zap.L().Error("failed to create batch task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "创建任务失败"})
		return
	}

	// 登录用户按模型单价扣积分，匿名用户只受每日限额约束
	if userID, ok := middleware.CurrentUserID(c); ok {
		required := logic.CalculateCreditsRequired(modelName, len(items))
		desc := fmt.Sprintf("批量生成 %d 张图片", len(items))
		if _, err := mysql.DeductCredits(userID, required, taskID, len(items), desc); err != nil {
			if errors.Is(err, mysql.ErrInsufficientCredits) {
				_, _ = h.tasks.DeleteTask(sid, taskID)
				c.JSON(http.StatusPaymentRequired, gin.H{"success": false, "error": "积分不足，请充值后再试"})
				return
			}
			zap.L().Error("failed to deduct credits", zap.Uint64("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "扣除积分失败"})
			return
		}
	}

	// 配置了队列就发布异步处理，否则在本请求内同步跑完
	if h.queue != nil {
		msg := &queue.BatchMessage{
			SessionID: sid,
			TaskID:    taskID,
			Items:     items,
			APIType:   apiType,
			ModelName: modelName,
			APIKey:    apiKey,
			APIBase:   apiBase,
		}
		if err := h.queue.PublishBatchTask(msg); err != nil {
			zap.L().Error("failed to publish batch task", zap.String("task_id", taskID), zap.Error(err))
			_, _ = h.tasks.UpdateTaskStatus(sid, taskID, models.StatusFailed, nil)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "任务投递失败"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"task_id":   taskID,
			"message":   fmt.Sprintf("批量任务已创建，共%d张图片", len(items)),
			"task_data": taskData,
		})
		return
	}

	gen, err := generator.New(apiType, generator.Options{APIKey: apiKey, BaseURL: apiBase, Model: modelName})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	res := h.processor.ProcessBatchTask(sid, taskID, items, gen)
	h.processor.FinishBatchTask(sid, taskID, res)

	final, err := h.tasks.GetTask(sid, taskID)
	if err != nil || final == nil {
		final = taskData
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"task_id":   taskID,
		"message":   fmt.Sprintf("批量任务已创建，共%d张图片", len(items)),
		"task_data": final,
	})
}

// GetBatchTasks 获取当前 session 的任务列表
func (h *BatchHandler) GetBatchTasks(c *gin.Context) {
	sid := sessionID(c)
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "缺少会话标识"})
		return
	}

	tasks, err := h.tasks.GetAllTasks(sid)
	if err != nil {
		zap.L().Error("failed to list batch tasks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "获取任务列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks})
}

func (h *BatchHandler) lookupTask(c *gin.Context) *models.BatchTask {
	sid := sessionID(c)
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "缺少会话标识"})
		return nil
	}

	t, err := h.tasks.GetTask(sid, c.Param("task_id"))
	if err != nil {
		zap.L().Error("failed to get batch task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "获取任务失败"})
		return nil
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "任务不存在"})
		return nil
	}
	return t
}

// GetBatchTask 获取任务详情
func (h *BatchHandler) GetBatchTask(c *gin.Context) {
	t := h.lookupTask(c)
	if t == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": t})
}

// GetBatchTaskStatus 获取任务状态和进度
func (h *BatchHandler) GetBatchTaskStatus(c *gin.Context) {
	t := h.lookupTask(c)
	if t == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"status":           t.Status,
		"progress":         t.Progress,
		"processed_images": t.ProcessedImages,
		"total_images":     t.TotalImages,
	})
}

// GetBatchTaskResults 获取任务结果
func (h *BatchHandler) GetBatchTaskResults(c *gin.Context) {
	t := h.lookupTask(c)
	if t == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": t.Results,
		"images":  t.Images,
	})
}

// CancelBatchTask 取消任务。取消是协作式的，进行中的那一次生成调用不会被打断，
// 处理循环在下一个条目前观察到取消并停止。
func (h *BatchHandler) CancelBatchTask(c *gin.Context) {
	sid := sessionID(c)
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "缺少会话标识"})
		return
	}

	t, err := h.tasks.CancelTask(sid, c.Param("task_id"))
	if err != nil {
		zap.L().Error("failed to cancel batch task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "取消任务失败"})
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "任务不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "任务已取消", "task": t})
}

// GetLimitStatus 查询当前用户今天的额度使用情况
func (h *BatchHandler) GetLimitStatus(c *gin.Context) {
	userKey := sessionID(c)
	if userKey == "" {
		userKey = c.ClientIP()
	}

	used, remaining, err := h.limiter.Status(userKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "查询额度失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"used_count": used,
		"remaining":  remaining,
	})
}

// HealthCheck 健康检查
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "message": "BatchGen Pro is running"})
}
