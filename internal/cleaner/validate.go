package cleaner

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/youssefhk-sw/scrape-news/internal/storage"
	"github.com/youssefhk-sw/scrape-news/internal/validation"
)

// Missing replaces an empty field value.
const Missing = "Nothings"

type Verdict string

const (
	Clean    Verdict = "clean"
	NotClean Verdict = "not_clean"
)

// Field names as they appear in verdicts and quarantine files.
const (
	FieldTitle       = "title"
	FieldLink        = "link"
	FieldPublishDate = "publish_date"
	FieldDescription = "description"
	FieldMedia       = "media"
)

var (
	freeText  = regexp.MustCompile(`^.+$`)
	canonDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)
)

type matcher func(string) bool

var fieldPatterns = map[string]matcher{
	FieldTitle:       freeText.MatchString,
	FieldLink:        validation.IsAbsoluteHTTPURL,
	FieldPublishDate: canonDate.MatchString,
	FieldDescription: freeText.MatchString,
	FieldMedia:       validation.IsAbsoluteHTTPURL,
}

// Outcome is the per-field verdict for one record together with the record
// after normalization.
type Outcome struct {
	Record   storage.RawRecord
	Verdicts map[string]Verdict
}

// Accepted reports whether every field is clean.
func (o Outcome) Accepted() bool {
	for _, v := range o.Verdicts {
		if v != Clean {
			return false
		}
	}
	return true
}

// NotCleanFields lists the fields that failed, in record order.
func (o Outcome) NotCleanFields() []string {
	var out []string
	for _, f := range []string{FieldTitle, FieldLink, FieldPublishDate, FieldDescription, FieldMedia} {
		if o.Verdicts[f] == NotClean {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks each field of rec against its pattern. Matching values are
// normalized. A value that fails is normalized and tried once more before it
// is marked not_clean with its original value kept. Media is optional: an
// absent image is clean and stored as Missing.
func Validate(rec storage.RawRecord) Outcome {
	out := Outcome{Verdicts: make(map[string]Verdict, 5)}

	out.Record.Title, out.Verdicts[FieldTitle] = checkField(FieldTitle, rec.Title)
	out.Record.Link, out.Verdicts[FieldLink] = checkField(FieldLink, rec.Link)
	out.Record.PublishDate, out.Verdicts[FieldPublishDate] = checkField(FieldPublishDate, rec.PublishDate)
	out.Record.Description, out.Verdicts[FieldDescription] = checkField(FieldDescription, rec.Description)

	if rec.Media == "" || rec.Media == Missing {
		out.Record.Media, out.Verdicts[FieldMedia] = Missing, Clean
	} else {
		out.Record.Media, out.Verdicts[FieldMedia] = checkField(FieldMedia, rec.Media)
	}

	return out
}

func checkField(field, value string) (string, Verdict) {
	if value == "" {
		return Missing, NotClean
	}

	match := fieldPatterns[field]
	normalized := Normalize(value)
	if match(value) {
		if normalized == "" {
			return value, Clean
		}
		return normalized, Clean
	}
	if normalized != "" && match(normalized) {
		return normalized, Clean
	}
	return value, NotClean
}

// Normalize unescapes HTML entities and reduces markup to the text of its
// first paragraph. Text without a <p> keeps all of its text. Whitespace runs
// collapse to one space.
func Normalize(s string) string {
	unescaped := html.UnescapeString(s)
	if !strings.ContainsAny(unescaped, "<>") {
		return collapse(unescaped)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(unescaped))
	if err != nil {
		return collapse(unescaped)
	}
	if p := doc.Find("p").First(); p.Length() > 0 {
		return collapse(p.Text())
	}
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
