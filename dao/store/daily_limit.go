package store

import (
	"strconv"
	"time"

	"github.com/go-redis/redis"
)

// DefaultDailyLimit 每日限额：100张图片/天，防止被攻击和薅羊毛
const DefaultDailyLimit = 100

const limitKeyPrefix = "daily_image_limit:"

// DailyLimitManager 每日限额管理器，按 (user_key, 日期) 维护一个计数器，
// 计数器在本地午夜过期。user_key 可以是 session_id 也可以是 IP。
type DailyLimitManager struct {
	client     *redis.Client
	dailyLimit int
}

func NewDailyLimitManager(client *redis.Client, dailyLimit int) *DailyLimitManager {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	return &DailyLimitManager{client: client, dailyLimit: dailyLimit}
}

func (m *DailyLimitManager) makeCounterKey(userKey string) string {
	today := time.Now().Format("2006-01-02")
	return limitKeyPrefix + userKey + ":" + today
}

// GetUserDailyCount 返回用户今天已生成的图片数量
func (m *DailyLimitManager) GetUserDailyCount(userKey string) (int, error) {
	val, err := m.client.Get(m.makeCounterKey(userKey)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Status 返回用户今天的已用量和剩余额度
func (m *DailyLimitManager) Status(userKey string) (used, remaining int, err error) {
	used, err = m.GetUserDailyCount(userKey)
	if err != nil {
		return 0, 0, err
	}
	remaining = m.dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return used, remaining, nil
}

// CheckAndIncrement 检查本次请求是否超额，不超额则原子增加计数。
// 超额时整批拒绝，计数不变，返回 (false, 当前已用, 剩余)。
// 先读后增之间存在竞态窗口，并发下可能轻微超admit，按设计接受。
func (m *DailyLimitManager) CheckAndIncrement(userKey string, imageCount int) (bool, int, int, error) {
	counterKey := m.makeCounterKey(userKey)

	current, err := m.GetUserDailyCount(userKey)
	if err != nil {
		return false, 0, 0, err
	}

	if current+imageCount > m.dailyLimit {
		remaining := m.dailyLimit - current
		if remaining < 0 {
			remaining = 0
		}
		return false, current, remaining, nil
	}

	// 过期时间设到今天结束，多加1秒确保过期
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	expire := midnight.Sub(now) + time.Second

	newCount, err := m.client.IncrBy(counterKey, int64(imageCount)).Result()
	if err != nil {
		return false, 0, 0, err
	}
	if err := m.client.Expire(counterKey, expire).Err(); err != nil {
		return false, 0, 0, err
	}

	return true, int(newCount), m.dailyLimit - int(newCount), nil
}
