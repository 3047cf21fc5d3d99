// Package awsx builds the shared AWS session used by the DynamoDB store and
// the Connect and SNS channel adapters.
package awsx

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Config holds AWS client settings. Empty credentials fall back to the
// default provider chain (env, shared config, instance role).
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Endpoint overrides the service endpoint, e.g. for localstack.
	Endpoint   string
	MaxRetries int
}

// RegisterFlags binds Config fields to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Region, "aws-region", "us-east-1", "AWS region")
	fs.StringVar(&c.AccessKeyID, "aws-access-key-id", "", "static AWS access key id (empty = default credential chain)")
	fs.StringVar(&c.SecretAccessKey, "aws-secret-access-key", "", "static AWS secret access key")
	fs.StringVar(&c.SessionToken, "aws-session-token", "", "static AWS session token")
	fs.StringVar(&c.Endpoint, "aws-endpoint", "", "override AWS endpoint URL")
	fs.IntVar(&c.MaxRetries, "aws-max-retries", 2, "SDK retries per AWS call (0..10)")
}

// Validate checks the settings.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Region) == "" {
		errs = append(errs, errors.New("AWS_REGION is required"))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"))
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid AWS_MAX_RETRIES %d (must be 0..10)", c.MaxRetries))
	}
	return errors.Join(errs...)
}

// AWSConfig converts c to an aws.Config.
func (c *Config) AWSConfig() *aws.Config {
	ac := aws.NewConfig().
		WithRegion(c.Region).
		WithMaxRetries(c.MaxRetries)
	if c.AccessKeyID != "" {
		ac = ac.WithCredentials(credentials.NewStaticCredentials(c.AccessKeyID, c.SecretAccessKey, c.SessionToken))
	}
	if c.Endpoint != "" {
		ac = ac.WithEndpoint(c.Endpoint)
	}
	return ac
}

// NewSession creates a session from c.
func NewSession(c Config) (*session.Session, error) {
	sess, err := session.NewSession(c.AWSConfig())
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return sess, nil
}

// ErrorCode returns the AWS error code carried by err, or "".
func ErrorCode(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return ""
}
