package fetcher

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// candidateDelimiters in tie-break order.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

func parseDelimited(payload []byte) ([][]string, error) {
	text, err := decodeText(payload)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // allow variable fields

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read row")
		}
		rows = append(rows, record)
	}
	return trimTrailingBlankRows(rows), nil
}

// decodeText converts the payload to UTF-8. BOMs select UTF-8 or UTF-16;
// otherwise invalid UTF-8 is read as Windows-1252, the usual encoding of
// spreadsheet CSV exports.
func decodeText(payload []byte) (string, error) {
	var (
		out []byte
		err error
	)
	switch {
	case bytes.HasPrefix(payload, bomUTF8):
		out = payload[len(bomUTF8):]
	case bytes.HasPrefix(payload, bomUTF16LE):
		out, err = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(payload)
	case bytes.HasPrefix(payload, bomUTF16BE):
		out, err = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(payload)
	case utf8.Valid(payload):
		out = payload
	default:
		out, err = charmap.Windows1252.NewDecoder().Bytes(payload)
	}
	if err != nil {
		return "", eris.Wrap(err, "decode text")
	}
	if bytes.IndexByte(out, 0) >= 0 {
		return "", eris.New("payload is binary, not text")
	}
	return string(out), nil
}

// sniffDelimiter picks the candidate that occurs most often in the first line.
func sniffDelimiter(text string) rune {
	line := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		line = text[:i]
	}
	best, bestCount := candidateDelimiters[0], 0
	for _, d := range candidateDelimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
