package main

import (
	"context"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/connect"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pager/internal/alert"
	vc "github.com/linnemanlabs/pager/internal/cfg"
	"github.com/linnemanlabs/pager/internal/channel"
	"github.com/linnemanlabs/pager/internal/channel/smtpmail"
	"github.com/linnemanlabs/pager/internal/channel/snstopic"
	"github.com/linnemanlabs/pager/internal/channel/voice"
	"github.com/linnemanlabs/pager/internal/routing"
)

// buildDispatchers wires one adapter per deployed channel. Voice is only
// deployed when Amazon Connect is configured; email goes to SNS topics and,
// when SMTP is configured, directly to mailboxes.
func buildDispatchers(ctx context.Context, L log.Logger, appCfg *vc.Config, voiceCfg voice.Config, smtpCfg *smtpmail.Config, sess *session.Session) routing.Dispatchers {
	snsAPI := snstopic.NewClient(sess)

	ds := routing.Dispatchers{
		alert.ChannelSMS: snstopic.NewText(snsAPI, snstopic.Options{SenderID: appCfg.SMSSenderID}),
	}

	if appCfg.VoiceEnabled() {
		ds[alert.ChannelCall] = voice.New(connect.New(sess), voiceCfg)
		L.Info(ctx, "channel enabled", "channel", alert.ChannelCall, "provider", "connect")
	} else {
		L.Warn(ctx, "voice channel disabled, calls will be rejected as misconfigured")
	}

	var direct routing.Dispatcher
	L.Info(ctx, "channel enabled", "channel", alert.ChannelEmail, "provider", "sns")
	if smtpCfg.Enabled() {
		direct = smtpmail.New(smtpCfg.From, smtpCfg.Dialer())
		L.Info(ctx, "channel enabled", "channel", alert.ChannelEmail, "provider", "smtp", "smtp_host", smtpCfg.Host)
	}
	ds[alert.ChannelEmail] = channel.ByAddress(snstopic.NewEmail(snsAPI), direct)

	L.Info(ctx, "channel enabled", "channel", alert.ChannelSMS, "provider", "sns")
	return ds
}
