// Package document validates declared upload types and extracts plain text
// from supported documents.
package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
)

const (
	MediaTypeText = "text/plain"
	MediaTypePDF  = "application/pdf"
	MediaTypeDOC  = "application/msword"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// AcceptedMediaTypes lists the declared types an upload may carry.
var AcceptedMediaTypes = []string{MediaTypeText, MediaTypePDF, MediaTypeDOC, MediaTypeDOCX}

// ErrUnsupportedMediaType is returned for any declared type outside
// AcceptedMediaTypes.
var ErrUnsupportedMediaType = errors.New("unsupported file type")

var (
	extraneousWhitespace = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLines           = regexp.MustCompile(`\n{3,}`)
)

// ValidateMediaType checks a declared media type, ignoring parameters such as
// charset. It returns the bare type.
func ValidateMediaType(mediaType string) (string, error) {
	base := normalize(mediaType)
	for _, accepted := range AcceptedMediaTypes {
		if base == accepted {
			return base, nil
		}
	}
	return "", errors.Wrapf(ErrUnsupportedMediaType, "%q", mediaType)
}

// MediaTypeForPath maps a file extension to the type a browser would declare
// for it. Unknown extensions yield "".
func MediaTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return MediaTypeText
	case ".pdf":
		return MediaTypePDF
	case ".doc":
		return MediaTypeDOC
	case ".docx":
		return MediaTypeDOCX
	default:
		return ""
	}
}

// Extract returns the text content of data. The declared media type only
// selects the extractor; anything unrecognized is read as plain text.
func Extract(mediaType string, data []byte) (string, error) {
	switch normalize(mediaType) {
	case MediaTypePDF:
		return extractPDF(data)
	case MediaTypeDOCX:
		return extractDOCX(data)
	case MediaTypeDOC:
		return extractDOC(data), nil
	default:
		return strings.ToValidUTF8(string(data), "\uFFFD"), nil
	}
}

func normalize(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// extractPDF recovers from parser panics, which ledongthuc/pdf raises on some
// malformed cross-reference tables.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("failed to parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, "failed to open pdf")
	}
	content, err := reader.GetPlainText()
	if err != nil {
		return "", errors.Wrap(err, "failed to extract pdf text")
	}
	var builder strings.Builder
	if _, err := io.Copy(&builder, content); err != nil {
		return "", errors.Wrap(err, "failed to read pdf text")
	}
	return dropPageFurniture(tidy(builder.String())), nil
}

// extractDOCX walks word/document.xml, keeping text runs and turning
// paragraphs and breaks into newlines.
func extractDOCX(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, "failed to open docx")
	}
	var body *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("docx has no word/document.xml")
	}
	rc, err := body.Open()
	if err != nil {
		return "", errors.Wrap(err, "failed to open docx body")
	}
	defer rc.Close()

	var (
		out    strings.Builder
		inText bool
	)
	decoder := xml.NewDecoder(rc)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, "failed to parse docx body")
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				out.WriteByte('\t')
			case "br", "cr":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				out.Write(el)
			}
		}
	}
	return tidy(out.String()), nil
}

// minDOCRun is the shortest printable run kept from a legacy .doc binary.
const minDOCRun = 4

// extractDOC recovers readable text from the legacy binary format by keeping
// runs of printable characters. Word stores text either as 8-bit runs or as
// UTF-16LE, so both readings are tried and the longer one wins. Formatting
// tables produce short runs, which are dropped.
func extractDOC(data []byte) string {
	best := docRunsUTF8(data)
	for offset := 0; offset < 2 && offset < len(data); offset++ {
		if text := docRunsUTF16LE(data[offset:]); utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
			best = text
		}
	}
	return best
}

// maxDOCUnit caps UTF-16 code units accepted as text. Pairs of ASCII bytes
// read as one unit land above it.
const maxDOCUnit = 0x0800

type docRuns struct {
	out strings.Builder
	run []rune
}

func (d *docRuns) add(r rune) {
	if !(unicode.IsPrint(r) || r == '\t') {
		d.flush()
		return
	}
	d.run = append(d.run, r)
}

func (d *docRuns) flush() {
	if len(d.run) >= minDOCRun {
		if d.out.Len() > 0 {
			d.out.WriteByte(' ')
		}
		d.out.WriteString(string(d.run))
	}
	d.run = d.run[:0]
}

func (d *docRuns) text() string {
	d.flush()
	return tidy(d.out.String())
}

func docRunsUTF8(data []byte) string {
	var runs docRuns
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r == utf8.RuneError {
			runs.flush()
			continue
		}
		runs.add(r)
	}
	return runs.text()
}

func docRunsUTF16LE(data []byte) string {
	var runs docRuns
	for ; len(data) >= 2; data = data[2:] {
		unit := uint16(data[0]) | uint16(data[1])<<8
		if unit >= maxDOCUnit {
			runs.flush()
			continue
		}
		runs.add(rune(unit))
	}
	return runs.text()
}

func tidy(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = extraneousWhitespace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
