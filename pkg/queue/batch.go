package queue

import (
	"encoding/json"
	"log"
	"strconv"

	"github.com/streadway/amqp"

	"github.com/wesleylin/BatchGenPro/dao/store"
	"github.com/wesleylin/BatchGenPro/generator"
	"github.com/wesleylin/BatchGenPro/logic"
	"github.com/wesleylin/BatchGenPro/models"
)

// BatchMessage 队列中的一条批量任务，任务快照已在发布前落盘
type BatchMessage struct {
	SessionID string            `json:"session_id"`
	TaskID    string            `json:"task_id"`
	Items     []logic.BatchItem `json:"items"`
	APIType   string            `json:"api_type"`
	ModelName string            `json:"model_name,omitempty"`
	APIKey    string            `json:"api_key,omitempty"`
	APIBase   string            `json:"api_base,omitempty"`
}

// BatchQueue 批量任务的异步处理通道。默认部署走同步路径，
// 配置了队列 DSN 时创建任务只发布消息，由消费端跑同一套顺序循环。
type BatchQueue interface {
	PublishBatchTask(msg *BatchMessage) error
	Consume() error
	Close() error
}

const (
	batchQueueName = "batch_tasks"
	batchDLXName   = "batch_dlq_exchange"
	batchDLQName   = "batch_dlq"
	maxRetries     = 3
)

type amqpBatchQueue struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
	processor *logic.BatchProcessor
	tasks     *store.BatchTaskManager
}

// NewBatchQueue 连接 RabbitMQ 并声明主队列和死信队列
func NewBatchQueue(dsn string, processor *logic.BatchProcessor, tasks *store.BatchTaskManager) (BatchQueue, error) {
	conn, err := amqp.Dial(dsn)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(batchDLXName, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(batchDLQName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.QueueBind(batchDLQName, batchDLQName, batchDLXName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    batchDLXName,
		"x-dead-letter-routing-key": batchDLQName,
	}
	q, err := ch.QueueDeclare(batchQueueName, true, false, false, false, args)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// 一个消费者同一时刻只处理一批，条目本身就是顺序执行的
	_ = ch.Qos(1, 0, false)

	return &amqpBatchQueue{
		conn:      conn,
		ch:        ch,
		queueName: q.Name,
		processor: processor,
		tasks:     tasks,
	}, nil
}

func (q *amqpBatchQueue) PublishBatchTask(msg *BatchMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.ch.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         b,
		DeliveryMode: amqp.Persistent,
	})
}

func (q *amqpBatchQueue) publishWithHeaders(b []byte, headers amqp.Table) error {
	return q.ch.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         b,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
	})
}

// Consume 逐条消费批量任务。消息损坏或生成器构造失败属于永久错误直接进DLQ，
// 存储类错误在 x-attempts 限内重投。
func (q *amqpBatchQueue) Consume() error {
	deliveries, err := q.ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for d := range deliveries {
		q.handleDelivery(d)
	}
	return nil
}

func (q *amqpBatchQueue) handleDelivery(d amqp.Delivery) {
	var msg BatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Printf("invalid batch task payload: %v", err)
		_ = d.Nack(false, false)
		return
	}

	gen, err := generator.New(msg.APIType, generator.Options{
		APIKey:  msg.APIKey,
		BaseURL: msg.APIBase,
		Model:   msg.ModelName,
	})
	if err != nil {
		log.Printf("batch task %s has unusable api type: %v", msg.TaskID, err)
		if _, serr := q.tasks.UpdateTaskStatus(msg.SessionID, msg.TaskID, models.StatusFailed, nil); serr != nil {
			log.Printf("failed to mark task %s failed: %v", msg.TaskID, serr)
		}
		_ = d.Nack(false, false)
		return
	}

	res := q.processor.ProcessBatchTask(msg.SessionID, msg.TaskID, msg.Items, gen)
	if !res.Success {
		attempts := deliveryAttempts(d.Headers)
		if attempts >= maxRetries {
			log.Printf("batch task %s exceeded retries, sending to DLQ: %s", msg.TaskID, res.Error)
			if _, serr := q.tasks.UpdateTaskStatus(msg.SessionID, msg.TaskID, models.StatusFailed, nil); serr != nil {
				log.Printf("failed to mark task %s failed: %v", msg.TaskID, serr)
			}
			_ = d.Nack(false, false)
			return
		}

		newHeaders := amqp.Table{"x-attempts": attempts + 1}
		for k, v := range d.Headers {
			if k != "x-attempts" {
				newHeaders[k] = v
			}
		}
		if err := q.publishWithHeaders(d.Body, newHeaders); err != nil {
			log.Printf("failed to republish batch task %s: %v", msg.TaskID, err)
			_ = d.Nack(false, false)
			return
		}
		log.Printf("requeued batch task %s for retry #%d", msg.TaskID, attempts+1)
		_ = d.Ack(false)
		return
	}

	q.processor.FinishBatchTask(msg.SessionID, msg.TaskID, res)
	_ = d.Ack(false)
	log.Printf("batch task %s processed, %d/%d items", msg.TaskID, res.CompletedImages, res.TotalImages)
}

func deliveryAttempts(headers amqp.Table) int {
	h, ok := headers["x-attempts"]
	if !ok {
		return 0
	}
	switch v := h.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func (q *amqpBatchQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
