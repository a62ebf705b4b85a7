// Package generator 统一封装各家图片生成API。
// 调用方只依赖 ImageGenerator 接口，具体厂商在构造时选定一次，之后不再分支。
package generator

import (
	"fmt"
	"os"
)

// 支持的API类型
const (
	APITypeGemini = "gemini"
	APITypeDoubao = "doubao"
)

// GenerateResult 一次生成调用的结果。适配层把所有失败（网络、厂商错误、
// 响应解析、图片落盘）都收敛成 Success=false + Error，绝不向上抛异常，
// 保证编排循环对成功和失败走同一条路径。
type GenerateResult struct {
	Success           bool   `json:"success"`
	Description       string `json:"description,omitempty"`
	GeneratedImageURL string `json:"generated_image_url,omitempty"`
	GeneratedFilename string `json:"generated_filename,omitempty"`
	Prompt            string `json:"prompt,omitempty"`
	APIType           string `json:"api_type"`
	Note              string `json:"note,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ImageGenerator 图片生成的统一接口。
// imageData 为 nil 表示纯文生图，非 nil 表示图片编辑式生成。
// 成功时生成的图片已存入结果目录，返回可访问的URL，不回传原始字节。
type ImageGenerator interface {
	Generate(imageData []byte, prompt string) *GenerateResult
}

// Options 构造生成器时的可选覆盖项，空值使用默认配置
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// IsSupportedAPIType 校验厂商标识
func IsSupportedAPIType(apiType string) bool {
	return apiType == APITypeGemini || apiType == APITypeDoubao
}

// New 按 api_type 构造对应厂商的生成器
func New(apiType string, opts Options) (ImageGenerator, error) {
	switch apiType {
	case APITypeGemini:
		return newGeminiGenerator(opts), nil
	case APITypeDoubao:
		return newDoubaoGenerator(opts), nil
	default:
		return nil, fmt.Errorf("不支持的API类型: %s", apiType)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
