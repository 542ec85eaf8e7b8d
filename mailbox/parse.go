package mailbox

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"

	_ "github.com/emersion/go-message/charset"

	"github.com/sisstools/fsefetch/models"
)

var (
	// subjectPattern extracts the patient name from the notification
	// subject, e.g. "Nuovo Documento per MARIO ROSSI nato il 01/01/1980".
	subjectPattern = regexp.MustCompile(`(?i)nuovo documento per\s+(.+?)\s+nat[oa]\b`)

	// linkPattern matches the portal deep link carried in the body. The
	// codice fiscale is the only capture group.
	linkPattern = regexp.MustCompile(`https://operatorisiss\.servizirl\.it/opefseie/#/\?codiceFiscale=([A-Z0-9]{16})`)
)

// ParseNotification turns one fetched message into an EmailRecord. The
// deep link with the codice fiscale is mandatory; the patient name
// degrades to "SCONOSCIUTO" when the subject does not match.
func ParseNotification(msg *imap.Message, section *imap.BodySectionName) (models.EmailRecord, error) {
	rec := models.EmailRecord{UID: msg.Uid}
	if msg.Envelope != nil {
		rec.RawSubject = msg.Envelope.Subject
	}

	rec.PatientName = "SCONOSCIUTO"
	if m := subjectPattern.FindStringSubmatch(rec.RawSubject); m != nil {
		rec.PatientName = strings.ToUpper(strings.TrimSpace(m[1]))
	}

	body := msg.GetBody(section)
	if body == nil {
		return rec, fmt.Errorf("server returned no body for uid %d", msg.Uid)
	}
	text, err := bodyText(body)
	if err != nil {
		return rec, fmt.Errorf("reading body of uid %d: %w", msg.Uid, err)
	}

	m := linkPattern.FindStringSubmatch(text)
	if m == nil {
		return rec, fmt.Errorf("no portal link in uid %d", msg.Uid)
	}
	rec.FSELink = m[0]
	rec.CodiceFiscale = m[1]
	return rec, nil
}

// bodyText walks the MIME parts and concatenates their textual content.
// HTML parts contribute both their visible text and their href targets,
// since the portal link is usually behind an anchor.
func bodyText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachments carry no link
		}
		ctype, _, err := header.ContentType()
		if err != nil {
			ctype = "text/plain"
		}
		raw, err := io.ReadAll(part.Body)
		if err != nil {
			return "", err
		}
		switch {
		case strings.HasPrefix(ctype, "text/html"):
			sb.WriteString(htmlText(string(raw)))
		case strings.HasPrefix(ctype, "text/"):
			sb.Write(raw)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// htmlText extracts visible text plus every anchor target from an HTML
// part. Unparseable HTML degrades to the raw markup, which still contains
// the link as a substring.
func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	var sb strings.Builder
	sb.WriteString(doc.Text())
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			sb.WriteByte('\n')
			sb.WriteString(href)
		}
	})
	return sb.String()
}
