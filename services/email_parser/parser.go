package email_parser

import (
	"bytes"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/customeros/supportstack/internal/utils"
)

const (
	NoSubject           = "(no subject)"
	DefaultAttachmentFn = "file"
)

var ErrDecode = errors.New("email decode failed")

// DecodeError marks input whose MIME structure cannot be read at all.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode email: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

type Address struct {
	Name    string
	Address string
}

type ParsedAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	Content     []byte
}

type ParsedEmail struct {
	From        Address
	To          []Address
	Subject     string
	MessageID   string
	InReplyTo   string
	References  []string
	Text        string
	HTML        string
	Date        time.Time
	Attachments []ParsedAttachment
}

var (
	messageIDRegex  = regexp.MustCompile(`<[^<>\s]+>`)
	namedAddrRegex  = regexp.MustCompile(`^\s*"?([^"<]*?)"?\s*<([^<>\s]+@[^<>\s]+)>`)
	bareAddrRegex   = regexp.MustCompile(`[^\s<>"',;]+@[^\s<>"',;]+`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
	spaceRunsRegex  = regexp.MustCompile(`[ \t]+`)
)

// Decode reads a raw RFC 5322 message. Missing optional headers get defaults instead of errors.
func Decode(raw []byte) (*ParsedEmail, error) {
	return decodeAt(raw, utils.Now())
}

func decodeAt(raw []byte, now time.Time) (*ParsedEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &DecodeError{Err: errors.New("empty message")}
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	parsed := &ParsedEmail{
		Subject:    strings.TrimSpace(env.GetHeader("Subject")),
		MessageID:  strings.TrimSpace(env.GetHeader("Message-ID")),
		InReplyTo:  firstMessageID(env.GetHeader("In-Reply-To")),
		References: messageIDList(env.GetHeader("References")),
		Text:       env.Text,
		HTML:       env.HTML,
	}
	if parsed.Subject == "" {
		parsed.Subject = NoSubject
	}

	from := addressList(env, "From")
	if len(from) > 0 {
		parsed.From = from[0]
	}
	parsed.To = addressList(env, "To")

	if date, err := env.Date(); err == nil && !date.IsZero() {
		parsed.Date = date.UTC()
	} else {
		parsed.Date = now
	}

	if strings.TrimSpace(parsed.Text) == "" && parsed.HTML != "" {
		parsed.Text = htmlToText(parsed.HTML)
	}

	parsed.Attachments = collectAttachments(env)

	return parsed, nil
}

func collectAttachments(env *enmime.Envelope) []ParsedAttachment {
	attachments := make([]ParsedAttachment, 0, len(env.Attachments)+len(env.Inlines))
	for _, part := range env.Attachments {
		attachments = append(attachments, toParsedAttachment(part, DefaultAttachmentFn))
	}
	// inline parts only count when they carry a filename (embedded images, not body text)
	for _, part := range env.Inlines {
		if part.FileName == "" {
			continue
		}
		attachments = append(attachments, toParsedAttachment(part, DefaultAttachmentFn))
	}
	return attachments
}

func toParsedAttachment(part *enmime.Part, defaultName string) ParsedAttachment {
	filename := strings.TrimSpace(part.FileName)
	if filename == "" {
		filename = defaultName
	}
	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return ParsedAttachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(part.Content)),
		Content:     part.Content,
	}
}

// addressList parses an address header, falling back to lenient extraction when it is malformed.
func addressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err == nil {
		addresses := make([]Address, 0, len(list))
		for _, a := range list {
			addresses = append(addresses, Address{Name: strings.TrimSpace(a.Name), Address: strings.ToLower(a.Address)})
		}
		return addresses
	}
	if errors.Is(err, mail.ErrHeaderNotPresent) {
		return nil
	}
	return lenientAddressList(env.GetHeader(header))
}

func lenientAddressList(value string) []Address {
	var addresses []Address
	for _, chunk := range strings.Split(value, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if m := namedAddrRegex.FindStringSubmatch(chunk); m != nil {
			addresses = append(addresses, Address{Name: strings.TrimSpace(m[1]), Address: strings.ToLower(m[2])})
			continue
		}
		if addr := bareAddrRegex.FindString(chunk); addr != "" {
			addresses = append(addresses, Address{Address: strings.ToLower(addr)})
		}
	}
	return addresses
}

func firstMessageID(value string) string {
	ids := messageIDList(value)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// messageIDList splits a threading header into ids, keeping order and dropping repeats.
func messageIDList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	ids := messageIDRegex.FindAllString(value, -1)
	if len(ids) == 0 {
		for _, field := range strings.Fields(value) {
			ids = append(ids, strings.Trim(field, ","))
		}
	}
	return utils.UniqueStrings(ids)
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunsRegex.ReplaceAllString(line, " "))
	}
	text := strings.Join(lines, "\n")
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
