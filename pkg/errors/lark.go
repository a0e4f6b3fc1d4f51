package errors

import (
	"fmt"
	"time"

	"github.com/go-lark/lark"
	"moff.io/use-wallet/pkg/log"
)

// ConnectorScoped is implemented by errors attributed to one wallet connector.
type ConnectorScoped interface {
	ConnectorID() string
}

// ConnectorOf returns the id of the connector err is attributed to, if any.
func ConnectorOf(err error) (string, bool) {
	var scoped ConnectorScoped
	if !As(err, &scoped) {
		return "", false
	}
	return scoped.ConnectorID(), true
}

type larkReporter struct {
	app   string
	bot   *lark.Bot
	delay *rateLimiter
}

// NewLarkReporter posts wallet alarms of app to webhook. Errors from the same call site
// are posted once per silent window.
func NewLarkReporter(app, webhook string, silent time.Duration) {
	if webhook == "" {
		log.Warn("empty lark webhook found, skipping lark reporter initialization.")
		return
	}
	AddReporter(&larkReporter{
		app:   app,
		bot:   lark.NewNotificationBot(webhook),
		delay: newRateLimiter(silent),
	})
	log.Info("Lark error reporter initialized.")
}

func (r *larkReporter) Report(err error) {
	if err == nil {
		return
	}
	stacks := callers().fullStack()
	limited, stats := r.delay.StackBasedRateLimited(stacks[2])
	if limited {
		return
	}
	if _, err := r.bot.PostNotificationV2(lark.OutcomingMessage{
		MsgType: "post",
		Content: lark.MessageContent{
			Post: walletAlarm(r.app, err, stats, stacks).Render(),
		},
	}); err != nil {
		log.Error(WithStack(err))
	}
}

func walletAlarm(app string, err error, stats errorStats, stacks []string) *lark.MsgPostBuilder {
	pb := lark.NewPostBuilder()
	pb.Title(fmt.Sprintf("[%s] wallet session alarm", app))
	connector, ok := ConnectorOf(err)
	if !ok {
		connector = "none"
	}
	pb.TextTag(fmt.Sprintf("Connector: %s", connector), 1, true)
	pb.TextTag(fmt.Sprintf("\nSilenced Since Last Alarm: %d", stats.occurCountSinceLastReport), 1, true)
	pb.TextTag(fmt.Sprintf("\nLast Alarm: %s", formatReportTime(stats.lastReportTime)), 1, true)
	pb.TextTag("\nError: "+err.Error(), 1, true)
	pb.TextTag("\nRaised At:", 1, true)
	for _, s := range stacks {
		pb.TextTag(fmt.Sprintf("\n    %s", s), 1, true)
	}
	return pb
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006.01.02 15:04")
}
