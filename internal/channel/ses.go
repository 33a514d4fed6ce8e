package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"digestfanout/internal/retry"
)

type SESConfig struct {
	From             string
	Region           string
	Endpoint         string
	ConfigurationSet string
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email through Amazon SES v2.
type SESSender struct {
	client sesAPI
	cfg    SESConfig
	creds  aws.CredentialsProvider
}

func NewSES(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("ses: from address is empty")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SESSender{client: client, cfg: cfg, creds: awsCfg.Credentials}, nil
}

// CheckCredentials resolves the AWS identity used for sending. It is the
// tick preflight when SES is the email driver.
func (s *SESSender) CheckCredentials(ctx context.Context) error {
	if s.creds == nil {
		return errors.New("ses: no credentials provider")
	}
	if _, err := s.creds.Retrieve(ctx); err != nil {
		return fmt.Errorf("ses: retrieve credentials: %w", err)
	}
	return nil
}

func (s *SESSender) SendEmail(ctx context.Context, msg EmailMessage) (Receipt, error) {
	if len(msg.To) == 0 {
		return Receipt{}, retry.NoRetry(errors.New("email has no recipients"))
	}
	htmlBody, err := RenderHTML(msg.Subject, msg.Body)
	if err != nil {
		htmlBody = ""
	}
	body := &types.Body{Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}}
	if htmlBody != "" {
		body.Html = &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")}
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.cfg.From),
		Destination: &types.Destination{
			ToAddresses: msg.To,
			CcAddresses: msg.CC,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if s.cfg.ConfigurationSet != "" {
		in.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}
	out, err := s.client.SendEmail(ctx, in)
	if err != nil {
		return Receipt{}, classifyAWS(err)
	}
	return Receipt{ID: aws.ToString(out.MessageId)}, nil
}

// classifyAWS turns SDK errors with an HTTP response into http-kind errors;
// everything else goes through retry.Classify.
func classifyAWS(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return retry.HTTPError(re.HTTPStatusCode(), re.Error())
	}
	return retry.Classify(err)
}

var (
	md   = goldmark.New(goldmark.WithExtensions(extension.GFM), goldmark.WithRendererOptions(html.WithHardWraps()))
	mdMu sync.Mutex
)

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family:-apple-system,Segoe UI,Helvetica,Arial,sans-serif;line-height:1.5">
{{.Body}}
</body></html>
`))

// RenderHTML converts a markdown digest to an HTML email document.
func RenderHTML(subject, markdown string) (string, error) {
	var content bytes.Buffer
	mdMu.Lock()
	err := md.Convert([]byte(markdown), &content)
	mdMu.Unlock()
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := emailTemplate.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{Title: subject, Body: template.HTML(content.String())}); err != nil {
		return "", err
	}
	return out.String(), nil
}
