package sse

// Hub 管理按 topic 订阅的 SSE 客户端。这里的 topic 就是 session_id，
// 批量任务结束后会向所属 session 的订阅者广播一条消息。
//
// 订阅、退订、发布都经由内部通道在 Run 的单个 goroutine 中串行处理，
// topics 结构不需要额外加锁。channel 由订阅方（handler）创建并关闭，
// Hub 只负责向其发送。
type Hub struct {
	topics map[string]map[chan []byte]bool

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

var defaultHub *Hub

// NewHub 创建 Hub。publish 通道带缓冲（100），短时突发的发布不会阻塞发布方。
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]bool),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 100),
	}
}

// SetDefaultHub 设置包级默认 hub
func SetDefaultHub(h *Hub) {
	defaultHub = h
}

// GetHub 返回默认 hub，未设置时为 nil
func GetHub() *Hub {
	return defaultHub
}

// Run 启动事件循环，应在单独的 goroutine 中运行：
//
//	hub := sse.NewHub()
//	go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]bool)
				h.topics[s.topic] = subs
			}
			subs[s.ch] = true
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case tm := <-h.publish:
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					// 客户端没在读就丢弃
				}
			}
		}
	}
}

// PublishTopic 向 topic 的所有订阅者发布消息
func (h *Hub) PublishTopic(topic string, msg []byte) {
	h.publish <- topicMessage{topic: topic, msg: msg}
}

// Subscribe 注册订阅。调用方应提供带缓冲的 channel，退订后自行关闭。
func (h *Hub) Subscribe(ch chan []byte, topic string) {
	h.subscribe <- subscription{ch: ch, topic: topic}
}

// Unsubscribe 取消订阅
func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	h.unsubscribe <- subscription{ch: ch, topic: topic}
}
