package natsx

import "context"

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	SubscriptionID string
	Destination    string
	Subject        string
	Data           []byte
	Header         map[string]string
}

// NatsxHandler 处理一条入站消息
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、去重等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件，第一个在最外层
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
