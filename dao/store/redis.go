package store

import (
	"github.com/go-redis/redis"
)

// NewClient 建立 redis 连接，调用方负责把返回的 client 注入各个管理器
func NewClient(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if _, err := client.Ping().Result(); err != nil {
		return nil, err
	}
	return client, nil
}
