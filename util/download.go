package util

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// UploadDir 上传原图目录
	UploadDir = "./public/uploads"
	// ResultDir 生成结果目录
	ResultDir = "./public/results"
)

var downloadClient = &http.Client{Timeout: 30 * time.Second}

// EnsureDirs 确保上传和结果目录存在
func EnsureDirs() error {
	for _, dir := range []string{UploadDir, ResultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// SaveResultImage 把生成的图片字节写入结果目录
func SaveResultImage(filename string, data []byte) error {
	return os.WriteFile(filepath.Join(ResultDir, filename), data, 0o644)
}

// SaveUploadImage 把上传的原图字节写入上传目录
func SaveUploadImage(filename string, data []byte) error {
	return os.WriteFile(filepath.Join(UploadDir, filename), data, 0o644)
}

// DownloadResultImage 下载厂商返回的图片URL并保存到结果目录
func DownloadResultImage(imageURL, filename string) error {
	out, err := os.Create(filepath.Join(ResultDir, filename))
	if err != nil {
		return fmt.Errorf("创建文件失败: %v", err)
	}
	defer out.Close()

	resp, err := downloadClient.Get(imageURL)
	if err != nil {
		return fmt.Errorf("下载请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("下载失败，状态码: %d", resp.StatusCode)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("写入文件失败: %v", err)
	}
	return nil
}
