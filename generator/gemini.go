package generator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/wesleylin/BatchGenPro/util"
)

const defaultGeminiModel = "gemini-2.5-flash-image"

type geminiGenerator struct {
	apiKey string
	model  string
}

func newGeminiGenerator(opts Options) *geminiGenerator {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &geminiGenerator{apiKey: apiKey, model: model}
}

func (g *geminiGenerator) fail(format string, args ...interface{}) *GenerateResult {
	return &GenerateResult{
		Success: false,
		APIType: APITypeGemini,
		Error:   fmt.Sprintf(format, args...),
	}
}

func (g *geminiGenerator) Generate(imageData []byte, prompt string) *GenerateResult {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return g.fail("Gemini客户端初始化失败: %v", err)
	}

	fullPrompt := geminiPrompt(imageData, prompt)
	parts := []*genai.Part{genai.NewPartFromText(fullPrompt)}
	if imageData != nil {
		parts = append(parts, genai.NewPartFromBytes(imageData, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return g.fail("Gemini API调用失败: %v", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return g.fail("Gemini API响应格式异常")
	}

	var description string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			description = part.Text
		}
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}

		filename := fmt.Sprintf("gemini_generated_%s.png", uuid.New().String())
		if err := util.SaveResultImage(filename, part.InlineData.Data); err != nil {
			return g.fail("保存Gemini生成图片失败: %v", err)
		}
		return &GenerateResult{
			Success:           true,
			Description:       fmt.Sprintf("成功使用Gemini API生成图片: %s", prompt),
			GeneratedImageURL: "/static/results/" + filename,
			GeneratedFilename: filename,
			Prompt:            prompt,
			APIType:           APITypeGemini,
			Note:              "图片已使用Gemini API生成",
		}
	}

	// 模型没有返回图片时当作失败记录，调用方依赖 generated_url/error 二选一
	if description == "" {
		description = "Gemini API返回内容为空"
	}
	return g.fail("Gemini未生成图片: %s", description)
}

func geminiPrompt(imageData []byte, prompt string) string {
	if imageData == nil {
		return prompt
	}
	return fmt.Sprintf("Create a picture of my image with the following changes: %s", prompt)
}
