package natsx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// MsgIDHeader 标准去重头
const MsgIDHeader = "Nats-Msg-Id"

// Publish 发送到 destination 对应的 subject，附带 Nats-Msg-Id 供对端去重
func (l *natsLink) Publish(ctx context.Context, destination string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(Subject(destination, l.userID))
	msg.Data = body
	msg.Header.Set(MsgIDHeader, genMsgID())
	msg.Header.Set("userId", formatInt(l.userID))

	if err := l.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// genMsgID 生成随机 msgID
func genMsgID() string {
	return uuid.NewString()
}
