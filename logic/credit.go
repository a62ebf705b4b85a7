package logic

// 各模型每张图片的积分单价
var creditRules = map[string]int64{
	"gemini-2.5-flash-image":     38,
	"gemini-3-pro-image-preview": 125,
	"doubao-seedream-4-0-250828": 38,
}

const defaultCreditsPerImage = 38

// GetCreditsPerImage 返回指定模型单张图片的积分单价
func GetCreditsPerImage(modelName string) int64 {
	if modelName == "" {
		return defaultCreditsPerImage
	}
	if credits, ok := creditRules[modelName]; ok {
		return credits
	}
	return defaultCreditsPerImage
}

// CalculateCreditsRequired 按模型和图片数量计算本次所需积分
func CalculateCreditsRequired(modelName string, imageCount int) int64 {
	return GetCreditsPerImage(modelName) * int64(imageCount)
}
