// Package snstopic delivers text and email notifications through Amazon SNS.
// A destination is either a topic ARN (subscribers receive the message) or,
// for text only, an E.164 phone number published to directly.
package snstopic

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/awsx"
	"github.com/linnemanlabs/pager/internal/routing"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Options tune direct SMS publishing.
type Options struct {
	// SenderID is shown as the sender where carriers support it.
	SenderID string
}

// Publisher implements routing.Dispatcher for one channel.
type Publisher struct {
	api     snsiface.SNSAPI
	channel alert.Channel
	opts    Options
}

// NewClient returns an SNS client that never retries. Publish carries no
// idempotency token, so an SDK retry after a lost response would deliver twice.
func NewClient(p client.ConfigProvider) *sns.SNS {
	return sns.New(p, aws.NewConfig().WithMaxRetries(0))
}

// NewText returns a Publisher for the sms channel.
func NewText(api snsiface.SNSAPI, opts Options) *Publisher {
	return newPublisher(api, alert.ChannelSMS, opts)
}

// NewEmail returns a Publisher for the email channel.
func NewEmail(api snsiface.SNSAPI) *Publisher {
	return newPublisher(api, alert.ChannelEmail, Options{})
}

func newPublisher(api snsiface.SNSAPI, ch alert.Channel, opts Options) *Publisher {
	if api == nil {
		panic(xerrors.New("sns client is required"))
	}
	return &Publisher{api: api, channel: ch, opts: opts}
}

// Send implements routing.Dispatcher.
func (p *Publisher) Send(ctx context.Context, dest routing.Destination, msg routing.Message) error {
	if dest.Channel != p.channel {
		return fmt.Errorf("sns %s: unsupported channel %q", p.channel, dest.Channel)
	}

	in := &sns.PublishInput{Message: aws.String(msg.Body)}

	addr := strings.TrimSpace(dest.Address)
	switch {
	case strings.HasPrefix(addr, "arn:"):
		in.TopicArn = aws.String(addr)
	case p.channel == alert.ChannelSMS && e164.MatchString(addr):
		in.PhoneNumber = aws.String(addr)
		in.MessageAttributes = p.smsAttributes()
	default:
		return fmt.Errorf("sns %s: destination %s is neither a topic arn nor a phone number", p.channel, routing.MaskAddress(addr))
	}

	// subjects only reach email subscribers
	if p.channel == alert.ChannelEmail && msg.Subject != "" {
		in.Subject = aws.String(msg.Subject)
	}

	if _, err := p.api.PublishWithContext(ctx, in); err != nil {
		if code := awsx.ErrorCode(err); code != "" {
			return fmt.Errorf("sns publish (%s): %w", code, err)
		}
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

func (p *Publisher) smsAttributes() map[string]*sns.MessageAttributeValue {
	attrs := map[string]*sns.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if p.opts.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = &sns.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.opts.SenderID),
		}
	}
	return attrs
}
