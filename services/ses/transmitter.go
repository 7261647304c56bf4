package ses

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awsses "github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/dto"
	"github.com/customeros/supportstack/interfaces"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/internal/utils"
)

type sesTransmitter struct {
	api sesiface.SESAPI
	now func() time.Time
}

func NewSESTransmitter(cfg *config.SESConfig) interfaces.EmailTransmitter {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, "")
	}
	s := session.Must(session.NewSession(awsConfig))
	return newTransmitter(awsses.New(s))
}

func newTransmitter(api sesiface.SESAPI) *sesTransmitter {
	return &sesTransmitter{api: api, now: utils.Now}
}

// Send builds the MIME message with threading headers and submits it through SendRawEmail.
func (t *sesTransmitter) Send(ctx context.Context, email *dto.OutboundEmail) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sesTransmitter.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("message_id", email.MessageID)

	raw, err := BuildRawMessage(email, t.now())
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	output, err := t.api.SendRawEmailWithContext(ctx, &awsses.SendRawEmailInput{
		Source:       aws.String(email.From),
		Destinations: aws.StringSlice([]string{email.To}),
		RawMessage:   &awsses.RawMessage{Data: raw},
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "ses send raw email")
	}

	providerID := aws.StringValue(output.MessageId)
	span.SetTag("provider_message_id", providerID)
	return providerID, nil
}

// BuildRawMessage renders email as RFC 5322 bytes.
func BuildRawMessage(email *dto.OutboundEmail, now time.Time) ([]byte, error) {
	if email.To == "" || email.From == "" {
		return nil, errors.New("email requires from and to addresses")
	}

	builder := enmime.Builder().
		From(email.FromName, email.From).
		To("", email.To).
		Subject(email.Subject).
		Date(now).
		Text([]byte(email.BodyText))
	if email.BodyHTML != "" {
		builder = builder.HTML([]byte(email.BodyHTML))
	}
	if email.ReplyTo != "" {
		builder = builder.ReplyTo("", email.ReplyTo)
	}

	root, err := builder.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build mime message")
	}

	// set after Build so these replace anything the builder generated
	if email.MessageID != "" {
		root.Header.Set("Message-ID", utils.EnsureAngleBrackets(email.MessageID))
	}
	if email.InReplyTo != "" {
		root.Header.Set("In-Reply-To", utils.EnsureAngleBrackets(email.InReplyTo))
	}
	if len(email.References) > 0 {
		references := make([]string, 0, len(email.References))
		for _, reference := range email.References {
			references = append(references, utils.EnsureAngleBrackets(reference))
		}
		root.Header.Set("References", strings.Join(references, " "))
	}

	var buffer bytes.Buffer
	if err := root.Encode(&buffer); err != nil {
		return nil, errors.Wrap(err, "encode mime message")
	}
	return buffer.Bytes(), nil
}
