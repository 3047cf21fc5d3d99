package voice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/connect"
	"github.com/aws/aws-sdk-go/service/connect/connectiface"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/routing"
)

const flowARN = "arn:aws:connect:us-east-1:123456789012:instance/11111111-2222-3333-4444-555555555555/contact-flow/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

var _ routing.Dispatcher = (*Dispatcher)(nil)

type fakeConnect struct {
	connectiface.ConnectAPI
	inputs []*connect.StartOutboundVoiceContactInput
	err    error
}

func (f *fakeConnect) StartOutboundVoiceContactWithContext(_ aws.Context, in *connect.StartOutboundVoiceContactInput, _ ...request.Option) (*connect.StartOutboundVoiceContactOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &connect.StartOutboundVoiceContactOutput{ContactId: aws.String("contact-1")}, nil
}

func testConfig() Config {
	return Config{
		InstanceID:        "11111111-2222-3333-4444-555555555555",
		ContactFlow:       flowARN,
		SourcePhoneNumber: "+15550000000",
	}
}

func TestContactFlowID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"arn", flowARN, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", false},
		{"bare id", "flow-123", "flow-123", false},
		{"trailing segment", "arn:aws:connect:r:a:instance/i/contact-flow/f1/extra", "f1", false},
		{"empty", "", "", true},
		{"arn without flow", "arn:aws:connect:r:a:instance/i", "", true},
		{"arn with empty flow", "arn:aws:connect:r:a:instance/i/contact-flow/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ContactFlowID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ContactFlowID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ContactFlowID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_InvalidConfigPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New(&fakeConnect{}, Config{})
}

func TestSend(t *testing.T) {
	t.Parallel()

	api := &fakeConnect{}
	d := New(api, testConfig())

	err := d.Send(context.Background(),
		routing.Destination{Channel: alert.ChannelCall, Address: "+15551234567"},
		routing.Message{
			MessageID: "m1",
			Body:      "This is a message from Staff Alert. Blood results ready.",
			Digits:    "4815162342",
		})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("calls = %d, want 1", len(api.inputs))
	}

	in := api.inputs[0]
	checks := map[string][2]string{
		"InstanceId":             {aws.StringValue(in.InstanceId), "11111111-2222-3333-4444-555555555555"},
		"ContactFlowId":          {aws.StringValue(in.ContactFlowId), "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"},
		"SourcePhoneNumber":      {aws.StringValue(in.SourcePhoneNumber), "+15550000000"},
		"DestinationPhoneNumber": {aws.StringValue(in.DestinationPhoneNumber), "+15551234567"},
		"ClientToken":            {aws.StringValue(in.ClientToken), "m1"},
		"Message":                {aws.StringValue(in.Attributes[AttrMessage]), "This is a message from Staff Alert. Blood results ready."},
		"Message2":               {aws.StringValue(in.Attributes[AttrDigits]), "4815162342"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
}

func TestSend_WrongChannel(t *testing.T) {
	t.Parallel()

	api := &fakeConnect{}
	d := New(api, testConfig())
	if err := d.Send(context.Background(), routing.Destination{Channel: alert.ChannelSMS, Address: "x"}, routing.Message{}); err == nil {
		t.Fatal("expected error")
	}
	if len(api.inputs) != 0 {
		t.Error("provider called for wrong channel")
	}
}

func TestSend_ProviderError(t *testing.T) {
	t.Parallel()

	api := &fakeConnect{err: awserr.New(connect.ErrCodeLimitExceededException, "too many calls", nil)}
	d := New(api, testConfig())

	err := d.Send(context.Background(), routing.Destination{Channel: alert.ChannelCall, Address: "+15551234567"}, routing.Message{Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), connect.ErrCodeLimitExceededException) {
		t.Errorf("err = %q, want provider code", err)
	}
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		t.Error("provider error not wrapped")
	}
}

func TestClientToken_Truncated(t *testing.T) {
	t.Parallel()

	if got := clientToken(strings.Repeat("x", 600)); len(got) != 500 {
		t.Errorf("len = %d, want 500", len(got))
	}
}
