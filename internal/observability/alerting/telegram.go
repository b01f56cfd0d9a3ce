package alerting

import (
	"context"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	xerrors "Web3-Sentinel/internal/errors"
)

const telegramMessageLimit = 4096

// TelegramBot 使用 telego 实现 TelegramSender。
type TelegramBot struct {
	bot *telego.Bot
}

// NewTelegramBot 根据机器人 token 创建发送器。
func NewTelegramBot(token string) (*TelegramBot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 Telegram 机器人 token")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 Telegram 机器人失败")
	}
	return &TelegramBot{bot: bot}, nil
}

// SendText 按 Telegram 的消息长度限制分段发送。
func (b *TelegramBot) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkText(text, telegramMessageLimit) {
		if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "发送 Telegram 消息失败")
		}
	}
	return nil
}

func chunkText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}

var _ TelegramSender = (*TelegramBot)(nil)
