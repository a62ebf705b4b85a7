package controller

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wesleylin/BatchGenPro/generator"
)

// GenerateImage 单图生成接口：一张图 + 一条提示词，同步返回结果
func (h *BatchHandler) GenerateImage(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "未提供图片文件"})
		return
	}
	if fh.Filename == "" || !allowedFile(fh.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "不支持的文件类型"})
		return
	}

	prompt := c.PostForm("prompt")
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "缺少提示词"})
		return
	}

	apiType := c.DefaultPostForm("api_type", generator.APITypeGemini)
	if !generator.IsSupportedAPIType(apiType) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("不支持的API类型: %s", apiType)})
		return
	}

	// 单图也占每日额度，匿名请求回退到按IP计数
	userKey := sessionID(c)
	if userKey == "" {
		userKey = c.ClientIP()
	}
	admitted, used, remaining, err := h.limiter.CheckAndIncrement(userKey, 1)
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

	data, err := readFormFile(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "读取上传文件失败"})
		return
	}
	savedName := saveUploadAsync(fh.Filename, data)

	gen, err := generator.New(apiType, generator.Options{
		APIKey:  c.PostForm("api_key"),
		BaseURL: c.PostForm("api_base"),
		Model:   c.PostForm("model_name"),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result := gen.Generate(data, prompt)
	if !result.Success {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"original_url":        "/static/uploads/" + savedName,
		"description":         result.Description,
		"generated_image_url": result.GeneratedImageURL,
		"note":                result.Note,
	})
}
