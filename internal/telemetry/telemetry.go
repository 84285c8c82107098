package telemetry

import (
	"encoding/json"

	"go.uber.org/zap"
)

// 遥测主题
const (
	TopicTelemetry = "telemetry" // 底盘快照
	TopicProgress  = "progress"  // 路径回放进度
	TopicEvents    = "events"    // 路径事件与状态转换
)

// Topics 所有主题
var Topics = []string{TopicTelemetry, TopicProgress, TopicEvents}

// Sink 遥测输出端，Publish 不能阻塞控制循环
type Sink interface {
	Publish(topic string, payload []byte)
}

// Fanout 将同一条消息编码一次后分发给所有输出端
type Fanout struct {
	logger *zap.Logger
	sinks  []Sink
}

// NewFanout 创建分发器，nil 输出端会被忽略
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add 添加输出端
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Publish 编码并分发
func (f *Fanout) Publish(topic string, v interface{}) {
	if len(f.sinks) == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		f.logger.Error("Failed to marshal telemetry", zap.String("topic", topic), zap.Error(err))
		return
	}
	for _, s := range f.sinks {
		s.Publish(topic, data)
	}
}
