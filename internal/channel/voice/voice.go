// Package voice places outbound calls through Amazon Connect. The contact
// flow reads the Message attribute aloud and spells Message2 digit by digit.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/connect"
	"github.com/aws/aws-sdk-go/service/connect/connectiface"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/awsx"
	"github.com/linnemanlabs/pager/internal/routing"
)

// Contact flow attribute names.
const (
	AttrMessage = "Message"
	AttrDigits  = "Message2"
)

// Config is fixed per deployment.
type Config struct {
	InstanceID string
	// ContactFlow is a contact flow id or a full contact flow ARN.
	ContactFlow       string
	SourcePhoneNumber string
}

// Validate checks that every field is set and the flow id can be derived.
func (c Config) Validate() error {
	var errs []error
	if c.InstanceID == "" {
		errs = append(errs, errors.New("CONNECT_INSTANCE_ID is required"))
	}
	if c.SourcePhoneNumber == "" {
		errs = append(errs, errors.New("CONNECT_SOURCE_PHONE_NUMBER is required"))
	}
	if _, err := ContactFlowID(c.ContactFlow); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ContactFlowID returns the flow id from either a bare id or an ARN of the
// form arn:aws:connect:region:acct:instance/<instance>/contact-flow/<id>.
func ContactFlowID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("CONNECT_CONTACT_FLOW is required")
	}
	if !strings.HasPrefix(s, "arn:") {
		return s, nil
	}
	const marker = "/contact-flow/"
	i := strings.Index(s, marker)
	if i < 0 {
		return "", fmt.Errorf("contact flow arn %q has no contact-flow segment", s)
	}
	id := s[i+len(marker):]
	if j := strings.IndexByte(id, '/'); j >= 0 {
		id = id[:j]
	}
	if id == "" {
		return "", fmt.Errorf("contact flow arn %q has an empty flow id", s)
	}
	return id, nil
}

// Dispatcher starts one outbound voice contact per Send.
type Dispatcher struct {
	api        connectiface.ConnectAPI
	instanceID string
	flowID     string
	source     string
}

// New returns a Dispatcher. It panics on an invalid config.
func New(api connectiface.ConnectAPI, cfg Config) *Dispatcher {
	if api == nil {
		panic(xerrors.New("connect client is required"))
	}
	if err := cfg.Validate(); err != nil {
		panic(xerrors.New("invalid voice config: " + err.Error()))
	}
	flowID, _ := ContactFlowID(cfg.ContactFlow)
	return &Dispatcher{
		api:        api,
		instanceID: cfg.InstanceID,
		flowID:     flowID,
		source:     cfg.SourcePhoneNumber,
	}
}

// Send implements routing.Dispatcher.
func (d *Dispatcher) Send(ctx context.Context, dest routing.Destination, msg routing.Message) error {
	if dest.Channel != alert.ChannelCall {
		return fmt.Errorf("voice: unsupported channel %q", dest.Channel)
	}

	in := &connect.StartOutboundVoiceContactInput{
		InstanceId:             aws.String(d.instanceID),
		ContactFlowId:          aws.String(d.flowID),
		SourcePhoneNumber:      aws.String(d.source),
		DestinationPhoneNumber: aws.String(dest.Address),
		Attributes: map[string]*string{
			AttrMessage: aws.String(msg.Body),
			AttrDigits:  aws.String(msg.Digits),
		},
	}
	if msg.MessageID != "" {
		in.ClientToken = aws.String(clientToken(msg.MessageID))
	}

	if _, err := d.api.StartOutboundVoiceContactWithContext(ctx, in); err != nil {
		if code := awsx.ErrorCode(err); code != "" {
			return fmt.Errorf("start outbound voice contact (%s): %w", code, err)
		}
		return fmt.Errorf("start outbound voice contact: %w", err)
	}
	return nil
}

// Connect caps client tokens at 500 characters.
func clientToken(id string) string {
	if len(id) > 500 {
		return id[:500]
	}
	return id
}
