package telemetry

import (
	"net/http"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

// SSEServer 以 Server-Sent Events 推送遥测，客户端通过 ?stream=<topic> 订阅
type SSEServer struct {
	logger *zap.Logger
	s      *sse.Server
}

// NewSSEServer 创建 SSE 服务并为每个主题建立流
func NewSSEServer(logger *zap.Logger) *SSEServer {
	s := sse.New()
	s.AutoReplay = false
	for _, topic := range Topics {
		s.CreateStream(topic)
	}
	return &SSEServer{logger: logger, s: s}
}

// Publish 推送到对应的流，流的缓冲满时丢弃
func (s *SSEServer) Publish(topic string, payload []byte) {
	if !s.s.TryPublish(topic, &sse.Event{Data: payload}) {
		s.logger.Debug("SSE stream busy, dropped message", zap.String("topic", topic))
	}
}

func (s *SSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.s.ServeHTTP(w, r)
}

// Close 关闭所有流
func (s *SSEServer) Close() {
	s.s.Close()
}
