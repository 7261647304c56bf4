package ses

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awsses "github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/supportstack/dto"
)

type fakeSES struct {
	sesiface.SESAPI
	input *awsses.SendRawEmailInput
	err   error
}

func (f *fakeSES) SendRawEmailWithContext(ctx aws.Context, input *awsses.SendRawEmailInput, opts ...request.Option) (*awsses.SendRawEmailOutput, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &awsses.SendRawEmailOutput{MessageId: aws.String("0100018f-provider")}, nil
}

func outboundEmail() *dto.OutboundEmail {
	return &dto.OutboundEmail{
		To:         "alice@example.com",
		Subject:    "Re: Printer on fire",
		BodyText:   "We are on it.",
		BodyHTML:   "<p>We are on it.</p>",
		From:       "support@acme.io",
		FromName:   "Bob from Support",
		ReplyTo:    "support@acme.io",
		MessageID:  "<reply-1@acme.io>",
		InReplyTo:  "<first@example.com>",
		References: []string{"<first@example.com>"},
	}
}

func TestBuildRawMessage_ThreadingHeaders(t *testing.T) {
	// Act
	raw, err := BuildRawMessage(outboundEmail(), time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	// Assert
	require.NoError(t, err)
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "<reply-1@acme.io>", envelope.GetHeader("Message-ID"))
	assert.Equal(t, "<first@example.com>", envelope.GetHeader("In-Reply-To"))
	assert.Equal(t, "<first@example.com>", envelope.GetHeader("References"))
	assert.Equal(t, "Re: Printer on fire", envelope.GetHeader("Subject"))
	assert.Contains(t, envelope.GetHeader("From"), "support@acme.io")
	assert.Contains(t, envelope.GetHeader("To"), "alice@example.com")
	assert.Contains(t, envelope.Text, "We are on it.")
	assert.Contains(t, envelope.HTML, "<p>We are on it.</p>")
}

func TestBuildRawMessage_BareIdsGetBrackets(t *testing.T) {
	email := outboundEmail()
	email.MessageID = "reply-1@acme.io"
	email.References = []string{"root@example.com", "<first@example.com>"}

	raw, err := BuildRawMessage(email, time.Now())

	require.NoError(t, err)
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "<reply-1@acme.io>", envelope.GetHeader("Message-ID"))
	assert.Equal(t, "<root@example.com> <first@example.com>", envelope.GetHeader("References"))
}

func TestBuildRawMessage_RequiresAddresses(t *testing.T) {
	email := outboundEmail()
	email.To = ""

	_, err := BuildRawMessage(email, time.Now())

	assert.Error(t, err)
}

func TestSend_ReturnsProviderMessageId(t *testing.T) {
	// Arrange
	api := &fakeSES{}
	transmitter := newTransmitter(api)

	// Act
	providerID, err := transmitter.Send(context.Background(), outboundEmail())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "0100018f-provider", providerID)
	require.NotNil(t, api.input)
	assert.Equal(t, "support@acme.io", aws.StringValue(api.input.Source))
	assert.Equal(t, []string{"alice@example.com"}, aws.StringValueSlice(api.input.Destinations))
	assert.NotEmpty(t, api.input.RawMessage.Data)
}

func TestSend_ProviderErrorPropagates(t *testing.T) {
	api := &fakeSES{err: errors.New("throttled")}
	transmitter := newTransmitter(api)

	_, err := transmitter.Send(context.Background(), outboundEmail())

	assert.ErrorContains(t, err, "throttled")
}
