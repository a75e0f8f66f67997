package scraper

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/jgoulah/bwusage/pkg/models"
)

// Parser turns a raw portal payload into usage entries
type Parser interface {
	Parse(payload []byte) ([]models.Entry, error)
}

// JSONParser reads the API portal format:
//
//	{"2019-05-21":{"down":"21.7 GB","up":"730 MB"}, ...}
//
// Entries are returned in document order.
type JSONParser struct {
	Location *time.Location
}

type jsonUsage struct {
	Down *string `json:"down"`
	Up   *string `json:"up"`
}

// Parse implements Parser
func (p JSONParser) Parse(payload []byte) ([]models.Entry, error) {
	dec := jsontext.NewDecoder(bytes.NewReader(payload))

	tok, err := dec.ReadToken()
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if tok.Kind() != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok.Kind())
	}

	var results []models.Entry
	for dec.PeekKind() != '}' {
		keyTok, err := dec.ReadToken()
		if err != nil {
			return nil, fmt.Errorf("reading date key: %w", err)
		}
		dateStr := keyTok.String()

		val, err := dec.ReadValue()
		if err != nil {
			return nil, fmt.Errorf("reading value for %s: %w", dateStr, err)
		}

		var usage jsonUsage
		if err := json.Unmarshal(val, &usage); err != nil {
			return nil, fmt.Errorf("decoding value for %s: %w", dateStr, err)
		}
		if usage.Down == nil || usage.Up == nil {
			return nil, fmt.Errorf("entry %s: missing up or down", dateStr)
		}

		date, err := time.ParseInLocation(models.DateLayout, dateStr, loc(p.Location))
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", dateStr, err)
		}

		results = append(results, models.Entry{
			Date:     date,
			Upload:   *usage.Up,
			Download: *usage.Down,
		})
	}

	if _, err := dec.ReadToken(); err != nil {
		return nil, fmt.Errorf("reading end of object: %w", err)
	}
	switch tok, err := dec.ReadToken(); {
	case err == io.EOF:
	case err != nil:
		return nil, fmt.Errorf("reading past end of object: %w", err)
	default:
		return nil, fmt.Errorf("unexpected %v after object", tok.Kind())
	}

	return results, nil
}

// legacyTableSelector matches the usage table of the old portal page, which
// has nothing better to select by than its inline style.
const legacyTableSelector = `[style*="border:1px dotted #000000"]`

// HTMLParser reads the legacy portal page: table cells in groups of three
// (date dd-MM-yyyy, upload, download).
type HTMLParser struct {
	Location *time.Location
}

// Parse implements Parser
func (p HTMLParser) Parse(payload []byte) ([]models.Entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	cells := doc.Find(legacyTableSelector).Find("td")
	groups := cells.Length() / 3

	results := make([]models.Entry, 0, groups)
	for i := 0; i < groups; i++ {
		dateStr := strings.TrimSpace(cells.Eq(i * 3).Text())
		upload := strings.TrimSpace(cells.Eq(i*3 + 1).Text())
		download := strings.TrimSpace(cells.Eq(i*3 + 2).Text())

		date, err := time.ParseInLocation("02-01-2006", dateStr, loc(p.Location))
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", dateStr, err)
		}

		results = append(results, models.Entry{
			Date:     date,
			Upload:   upload,
			Download: download,
		})
	}

	return results, nil
}

// AutoParser picks JSONParser for payloads that start with '{' and
// HTMLParser for everything else.
type AutoParser struct {
	Location *time.Location
}

// Parse implements Parser
func (p AutoParser) Parse(payload []byte) ([]models.Entry, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] == '{' {
		return JSONParser{Location: p.Location}.Parse(payload)
	}
	return HTMLParser{Location: p.Location}.Parse(payload)
}

func loc(l *time.Location) *time.Location {
	if l == nil {
		return time.Local
	}
	return l
}
