package verification

import (
	"context"

	"github.com/nanophoto/nanophoto-backend/pkg/logger"
)

// CodeSender delivers a one-time code to a phone number.
type CodeSender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log. Only dev builds reveal the code itself.
type LogSender struct {
	logg       *logger.Logger
	revealCode bool
}

func NewLogSender(logg *logger.Logger, revealCode bool) *LogSender {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogSender{logg: logg, revealCode: revealCode}
}

func (s *LogSender) Send(ctx context.Context, phone, code string) error {
	fields := map[string]any{"phone": maskPhone(phone)}
	if s.revealCode {
		fields["code"] = code
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "verification code issued")
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:3] + "****" + phone[len(phone)-2:]
}
