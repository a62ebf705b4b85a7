package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"

	"github.com/wesleylin/BatchGenPro/util"
)

const (
	defaultDoubaoModel   = "doubao-seedream-4-0-250828"
	defaultDoubaoBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
)

type doubaoGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	watermark  bool
	httpClient *http.Client
}

func newDoubaoGenerator(opts Options) *doubaoGenerator {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ARK_API_KEY")
	}
	model := opts.Model
	if model == "" {
		model = envOr("DOUBAO_MODEL", defaultDoubaoModel)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = envOr("DOUBAO_BASE_URL", defaultDoubaoBaseURL)
	}
	return &doubaoGenerator{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		watermark:  os.Getenv("DOUBAO_WATERMARK") != "false",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *doubaoGenerator) fail(format string, args ...interface{}) *GenerateResult {
	return &GenerateResult{
		Success: false,
		APIType: APITypeDoubao,
		Error:   fmt.Sprintf(format, args...),
	}
}

func (d *doubaoGenerator) Generate(imageData []byte, prompt string) *GenerateResult {
	if imageData == nil {
		return d.generateText2Image(prompt)
	}
	return d.generateImageEdit(imageData, prompt)
}

// generateText2Image 纯文生图走 Ark SDK
func (d *doubaoGenerator) generateText2Image(prompt string) *GenerateResult {
	client := arkruntime.NewClientWithApiKey(d.apiKey)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := model.GenerateImagesRequest{
		Model:          d.model,
		Prompt:         prompt,
		Size:           volcengine.String("2K"),
		ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL),
		Watermark:      volcengine.Bool(d.watermark),
	}

	resp, err := client.GenerateImages(ctx, req)
	if err != nil {
		return d.fail("豆包API调用失败: %v", err)
	}
	if resp.Error != nil {
		return d.fail("豆包API返回错误: %s - %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Data) == 0 || resp.Data[0].Url == nil {
		return d.fail("豆包API响应中未找到图片URL")
	}

	return d.saveFromURL(*resp.Data[0].Url, prompt)
}

// 图片编辑模式走 images/generations REST 接口，SDK 的文生图请求不带参考图字段
type doubaoImagesResponse struct {
	Data []struct {
		Url string `json:"url"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (d *doubaoGenerator) generateImageEdit(imageData []byte, prompt string) *GenerateResult {
	imageBase64 := base64.StdEncoding.EncodeToString(imageData)
	reqBody := map[string]interface{}{
		"model":                       d.model,
		"prompt":                      fmt.Sprintf("基于我的图片进行以下修改: %s", prompt),
		"size":                        "2K",
		"sequential_image_generation": "disabled",
		"stream":                      false,
		"response_format":             "url",
		"watermark":                   d.watermark,
		"image":                       "data:image/png;base64," + imageBase64,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return d.fail("构造豆包请求失败: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return d.fail("构造豆包请求失败: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return d.fail("豆包API调用失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return d.fail("读取豆包API响应失败: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return d.fail("豆包API请求失败: %d - %s", resp.StatusCode, string(body))
	}

	var parsed doubaoImagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return d.fail("豆包API响应格式异常: %v", err)
	}
	if parsed.Error != nil {
		return d.fail("豆包API返回错误: %s - %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].Url == "" {
		return d.fail("豆包API响应中未找到图片URL")
	}

	return d.saveFromURL(parsed.Data[0].Url, prompt)
}

func (d *doubaoGenerator) saveFromURL(imageURL, prompt string) *GenerateResult {
	filename := fmt.Sprintf("doubao_generated_%s.png", uuid.New().String())
	if err := util.DownloadResultImage(imageURL, filename); err != nil {
		return d.fail("保存豆包生成的图片失败: %v", err)
	}
	return &GenerateResult{
		Success:           true,
		Description:       fmt.Sprintf("成功使用豆包API生成图片: %s", prompt),
		GeneratedImageURL: "/static/results/" + filename,
		GeneratedFilename: filename,
		Prompt:            prompt,
		APIType:           APITypeDoubao,
		Note:              "图片已使用豆包API生成",
	}
}
