package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"gopkg.in/gomail.v2"
)

// Email is a single outgoing message.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Transport hands a message to a mail provider. One call is one attempt.
type Transport interface {
	Deliver(ctx context.Context, e Email) error
}

// SMTPTransport delivers through an SMTP server.
type SMTPTransport struct {
	dialer *gomail.Dialer
}

// NewSMTPTransport returns a transport for the given server. Host and port are required.
func NewSMTPTransport(host string, port int, username, password string) (*SMTPTransport, error) {
	if host == "" || port == 0 {
		return nil, fmt.Errorf("email: SMTP_HOST and SMTP_PORT are required")
	}
	return &SMTPTransport{dialer: gomail.NewDialer(host, port, username, password)}, nil
}

// Deliver sends e with the HTML body and a plain-text alternative.
func (t *SMTPTransport) Deliver(ctx context.Context, e Email) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", e.From)
	msg.SetHeader("To", e.To)
	msg.SetHeader("Subject", e.Subject)
	if e.HTML != "" {
		msg.SetBody("text/html", e.HTML)
		if e.Text != "" {
			msg.AddAlternative("text/plain", e.Text)
		}
	} else {
		msg.SetBody("text/plain", e.Text)
	}
	return t.dialer.DialAndSend(msg)
}

// sesAPI is the subset of the SES client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTransport delivers through Amazon SES.
type SESTransport struct {
	client sesAPI
}

// NewSESTransport loads the default AWS configuration for region and returns an SES transport.
func NewSESTransport(ctx context.Context, region string) (*SESTransport, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("email: load aws config: %w", err)
	}
	return &SESTransport{client: ses.NewFromConfig(cfg)}, nil
}

// Deliver sends e with both HTML and text parts.
func (t *SESTransport) Deliver(ctx context.Context, e Email) error {
	body := &types.Body{}
	if e.HTML != "" {
		body.Html = &types.Content{Data: aws.String(e.HTML), Charset: aws.String("UTF-8")}
	}
	if e.Text != "" {
		body.Text = &types.Content{Data: aws.String(e.Text), Charset: aws.String("UTF-8")}
	}
	_, err := t.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(e.From),
		Destination: &types.Destination{ToAddresses: []string{e.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(e.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
	})
	return err
}
