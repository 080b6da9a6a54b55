package mailbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/quotedprintable"
	stdmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

const maxBodyBytes = 256 * 1024

// Parser turns IMAP fetch results into message records. HTML bodies are
// run through a sanitation policy because the dashboard renders them.
type Parser struct {
	logger    *log.Logger
	decoder   *mime.WordDecoder
	sanitizer *bluemonday.Policy
}

// NewParser returns a parser with the default sanitation policy.
func NewParser() *Parser {
	return &Parser{
		logger:    log.Default(),
		decoder:   &mime.WordDecoder{},
		sanitizer: bluemonday.UGCPolicy(),
	}
}

type partRef struct {
	path     []int
	encoding string
	charset  string
}

type structureLayout struct {
	textPlain   *partRef
	textHTML    *partRef
	attachments []models.Attachment
}

// walkStructure classifies the leaves of a BODYSTRUCTURE response: the
// first text/plain and text/html leaves become body candidates, everything
// with a filename or an attachment disposition becomes metadata.
func walkStructure(bs imap.BodyStructure) structureLayout {
	var layout structureLayout
	if bs == nil {
		return layout
	}
	bs.Walk(func(path []int, part imap.BodyStructure) bool {
		single, ok := part.(*imap.BodyStructureSinglePart)
		if !ok {
			return true
		}
		if len(path) == 0 {
			// Non-multipart message: the body is section 1.
			path = []int{1}
		}
		ref := &partRef{
			path:     append([]int(nil), path...),
			encoding: strings.ToLower(single.Encoding),
			charset:  strings.ToLower(single.Params["charset"]),
		}
		disposition := ""
		if single.Extended != nil && single.Extended.Disposition != nil {
			disposition = strings.ToLower(single.Extended.Disposition.Value)
		}
		filename := single.Filename()
		mediaType := strings.ToLower(single.MediaType())

		if disposition == "attachment" || (filename != "" && disposition != "inline") {
			layout.attachments = append(layout.attachments, models.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Size:        int64(single.Size),
				ContentID:   strings.Trim(single.ID, "<>"),
			})
			return true
		}
		switch {
		case mediaType == "text/plain" && layout.textPlain == nil:
			layout.textPlain = ref
		case mediaType == "text/html" && layout.textHTML == nil:
			layout.textHTML = ref
		case filename != "":
			// Inline part with a filename, e.g. an embedded image.
			layout.attachments = append(layout.attachments, models.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Size:        int64(single.Size),
				ContentID:   strings.Trim(single.ID, "<>"),
			})
		}
		return true
	})
	return layout
}

// FromMetadata builds a message record from the bulk-poll fetch: envelope,
// header section, body structure, and the pre-fetched text parts. Returns
// nil when the mail has no usable Message-ID.
func (p *Parser) FromMetadata(buf *imapclient.FetchMessageBuffer, texts map[string][]byte) *models.Message {
	if buf == nil {
		return nil
	}
	header := p.headerOf(buf)

	messageID := normalizeMessageID(headerValue(header, "Message-Id"))
	if messageID == "" && buf.Envelope != nil {
		messageID = normalizeMessageID(buf.Envelope.MessageID)
	}
	if messageID == "" {
		p.logger.Printf("mailbox: dropping uid %d: no Message-ID", buf.UID)
		return nil
	}

	msg := &models.Message{
		MessageID: messageID,
		UID:       uint32(buf.UID),
		Starred:   true,
		InReplyTo: normalizeMessageID(headerValue(header, "In-Reply-To")),
	}
	msg.References = referenceList(headerValue(header, "References"))

	if buf.Envelope != nil {
		msg.Subject = p.decodeHeader(buf.Envelope.Subject)
		msg.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			msg.FromName = p.decodeHeader(from.Name)
			msg.FromAddress = strings.ToLower(from.Addr())
		}
		for _, to := range buf.Envelope.To {
			msg.Recipients = append(msg.Recipients, strings.ToLower(to.Addr()))
		}
	}
	if msg.Subject == "" {
		msg.Subject = p.decodeHeader(headerValue(header, "Subject"))
	}
	if msg.FromAddress == "" && header != nil {
		if addr, err := stdmail.ParseAddress(headerValue(header, "From")); err == nil {
			msg.FromName = p.decodeHeader(addr.Name)
			msg.FromAddress = strings.ToLower(addr.Address)
		}
	}
	if msg.Date.IsZero() {
		msg.Date = buf.InternalDate
	}
	msg.ThreadID = deriveThreadID(msg)

	layout := walkStructure(buf.BodyStructure)
	msg.Attachments = layout.attachments
	if data, ok := texts["text/plain"]; ok && layout.textPlain != nil {
		msg.BodyText = p.decodeBody(data, layout.textPlain.encoding, layout.textPlain.charset)
	}
	if data, ok := texts["text/html"]; ok && layout.textHTML != nil {
		html := p.decodeBody(data, layout.textHTML.encoding, layout.textHTML.charset)
		msg.BodyHTML = p.sanitizer.Sanitize(html)
	}
	return msg
}

// FromRaw parses a complete RFC822 payload, attachment bytes included.
// Used by the on-demand full fetch, not the bulk poll.
func (p *Parser) FromRaw(raw []byte) (*models.Message, error) {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mailbox: parse message: %w", err)
	}

	msg := &models.Message{Starred: true}
	msg.MessageID = normalizeMessageID(reader.Header.Get("Message-Id"))
	msg.InReplyTo = normalizeMessageID(reader.Header.Get("In-Reply-To"))
	msg.References = referenceList(reader.Header.Get("References"))
	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := reader.Header.Date(); err == nil {
		msg.Date = date
	}
	if list, err := reader.Header.AddressList("From"); err == nil && len(list) > 0 {
		msg.FromName = list[0].Name
		msg.FromAddress = strings.ToLower(list[0].Address)
	}
	if list, err := reader.Header.AddressList("To"); err == nil {
		for _, a := range list {
			msg.Recipients = append(msg.Recipients, strings.ToLower(a.Address))
		}
	}
	msg.ThreadID = deriveThreadID(msg)

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logger.Printf("mailbox: read part: %v", err)
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, readErr := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if readErr != nil {
				p.logger.Printf("mailbox: read body: %v", readErr)
				continue
			}
			switch strings.ToLower(mediaType) {
			case "text/html":
				if msg.BodyHTML == "" {
					msg.BodyHTML = p.sanitizer.Sanitize(string(body))
				}
			default:
				if msg.BodyText == "" {
					msg.BodyText = string(body)
				}
			}
		case *gomail.AttachmentHeader:
			filename, _ := header.Filename()
			mediaType, _, _ := header.ContentType()
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				p.logger.Printf("mailbox: read attachment: %v", readErr)
				continue
			}
			msg.Attachments = append(msg.Attachments, models.Attachment{
				Filename:    filename,
				ContentType: strings.ToLower(mediaType),
				Size:        int64(len(data)),
				ContentID:   strings.Trim(header.Get("Content-Id"), "<>"),
				Data:        data,
			})
		}
	}

	if msg.MessageID == "" {
		return nil, errors.New("mailbox: message has no Message-ID")
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now().UTC()
	}
	return msg, nil
}

func (p *Parser) headerOf(buf *imapclient.FetchMessageBuffer) stdmail.Header {
	for _, section := range buf.BodySection {
		if section.Section != nil && section.Section.Specifier == imap.PartSpecifierHeader {
			raw := append(append([]byte(nil), section.Bytes...), '\r', '\n')
			parsed, err := stdmail.ReadMessage(bytes.NewReader(raw))
			if err != nil {
				p.logger.Printf("mailbox: parse header: %v", err)
				return nil
			}
			return parsed.Header
		}
	}
	return nil
}

// decodeBody reverses the content-transfer-encoding and converts the
// charset to UTF-8.
func (p *Parser) decodeBody(data []byte, encoding, charset string) string {
	var decoded io.Reader = bytes.NewReader(data)
	switch encoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, newBase64CleanReader(data))
	case "quoted-printable":
		decoded = quotedprintable.NewReader(bytes.NewReader(data))
	}
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		converted, err := htmlcharset.NewReaderLabel(charset, decoded)
		if err == nil {
			decoded = converted
		}
	}
	body, err := io.ReadAll(io.LimitReader(decoded, maxBodyBytes))
	if err != nil {
		p.logger.Printf("mailbox: decode body: %v", err)
		return ""
	}
	return string(body)
}

func (p *Parser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// newBase64CleanReader strips the CRLF line wrapping servers insert into
// base64 sections.
func newBase64CleanReader(data []byte) io.Reader {
	cleaned := bytes.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, data)
	return bytes.NewReader(cleaned)
}

func headerValue(header stdmail.Header, key string) string {
	if header == nil {
		return ""
	}
	return strings.TrimSpace(header.Get(key))
}

// normalizeMessageID strips the surrounding angle brackets so the stored
// identifier matches what the registry of tickets keys on.
func normalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "<")
	value = strings.TrimSuffix(value, ">")
	return strings.TrimSpace(value)
}

func referenceList(value string) models.StringList {
	if value == "" {
		return nil
	}
	var out models.StringList
	for _, ref := range strings.Fields(value) {
		if id := normalizeMessageID(ref); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// deriveThreadID correlates reply chains: the root of References, else
// In-Reply-To, else the message's own id.
func deriveThreadID(msg *models.Message) string {
	if len(msg.References) > 0 {
		return msg.References[0]
	}
	if msg.InReplyTo != "" {
		return msg.InReplyTo
	}
	return msg.MessageID
}
