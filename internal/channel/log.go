package channel

import (
	"context"

	"github.com/google/uuid"

	"digestfanout/pkg/logx"
)

// LogSender writes every message to the log instead of delivering it.
// It is the email driver when no provider is configured.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) SendEmail(ctx context.Context, msg EmailMessage) (Receipt, error) {
	id := "log-" + uuid.NewString()
	s.Log.Info("email (log driver)",
		logx.Strs("to", msg.To),
		logx.Strs("cc", msg.CC),
		logx.String("subject", msg.Subject),
		logx.Int("body_bytes", len(msg.Body)),
		logx.String("id", id),
	)
	return Receipt{ID: id}, nil
}
