// Package eip decodes the fixed-width milk-collection export produced by
// milk-testing devices into MilkRecords.
package eip

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/xelth-com/dairysync/internal/models"
)

const (
	// MinHeaderLength is the shortest header that carries date and centre code
	MinHeaderLength = 26

	// DefaultMinLineLength is the shortest line treated as a data line
	DefaultMinLineLength = 40

	// DefaultEndMarker terminates the data section
	DefaultEndMarker = "END"

	headerDateLayout = "02012006"
)

// WarningKind classifies decoder warnings
type WarningKind string

const (
	WarningFormat  WarningKind = "format"  // header unusable, whole file dropped
	WarningLine    WarningKind = "line"    // data line could not be decoded
	WarningSkipped WarningKind = "skipped" // footer, terminator or short line
)

// Warning describes a line the decoder did not turn into a record
type Warning struct {
	Line   int         `json:"line"` // 1-based, counted over non-empty lines
	Kind   WarningKind `json:"kind"`
	Reason string      `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s: %s", w.Line, w.Kind, w.Reason)
}

// Result is the outcome of decoding one EIP text
type Result struct {
	Records  []models.MilkRecord `json:"records"`
	Warnings []Warning           `json:"warnings,omitempty"`
}

// Options overrides the format constants
type Options struct {
	MinLineLength int
	EndMarker     string
}

// DefaultOptions returns the options used by Decode
func DefaultOptions() Options {
	return Options{
		MinLineLength: DefaultMinLineLength,
		EndMarker:     DefaultEndMarker,
	}
}

// Decode turns EIP text into records. It never fails: malformed input yields
// an empty or partial result plus warnings.
func Decode(text string) Result {
	return DecodeWithOptions(text, DefaultOptions())
}

// DecodeWithOptions is Decode with explicit format constants
func DecodeWithOptions(text string, opts Options) Result {
	if opts.MinLineLength <= 0 {
		opts.MinLineLength = DefaultMinLineLength
	}
	if opts.EndMarker == "" {
		opts.EndMarker = DefaultEndMarker
	}

	result := Result{Records: []models.MilkRecord{}}

	lines := splitLines(text)
	if len(lines) == 0 {
		return result
	}

	h, err := parseHeader(lines[0])
	if err != nil {
		log.Printf("⚠️ EIP: format error: %v", err)
		result.Warnings = append(result.Warnings, Warning{Line: 1, Kind: WarningFormat, Reason: err.Error()})
		return result
	}

	for i, line := range lines[1:] {
		lineNo := i + 2

		if strings.Contains(line, opts.EndMarker) {
			result.Warnings = append(result.Warnings, Warning{Line: lineNo, Kind: WarningSkipped, Reason: "end marker"})
			continue
		}
		if len(line) < opts.MinLineLength {
			result.Warnings = append(result.Warnings, Warning{
				Line:   lineNo,
				Kind:   WarningSkipped,
				Reason: fmt.Sprintf("line too short (%d < %d)", len(line), opts.MinLineLength),
			})
			continue
		}

		rec, err := decodeLine(line, h)
		if err != nil {
			log.Printf("⚠️ EIP: skipping line %d: %v", lineNo, err)
			result.Warnings = append(result.Warnings, Warning{Line: lineNo, Kind: WarningLine, Reason: err.Error()})
			continue
		}
		result.Records = append(result.Records, rec)
	}

	return result
}

type header struct {
	date       string // YYYY-MM-DD
	centerCode string
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseHeader(line string) (header, error) {
	if i := nonASCII(line); i >= 0 {
		return header{}, fmt.Errorf("non-ASCII byte at offset %d in header", i)
	}
	if len(line) < MinHeaderLength {
		return header{}, fmt.Errorf("header too short (%d < %d)", len(line), MinHeaderLength)
	}

	raw := line[0:8]
	if _, err := time.Parse(headerDateLayout, raw); err != nil {
		return header{}, fmt.Errorf("invalid header date %q", raw)
	}

	day, month, year := raw[0:2], raw[2:4], raw[4:8]
	return header{
		date:       year + "-" + month + "-" + day,
		centerCode: line[24:26],
	}, nil
}

// Field offsets, half-open
const (
	farmerStart, farmerEnd     = 0, 3
	sessionStart, sessionEnd   = 3, 4
	quantityStart, quantityEnd = 4, 7
	fatStart, fatEnd           = 7, 10
	snfStart, snfEnd           = 10, 13
	rateStart, rateEnd         = 13, 18
	amountStart, amountEnd     = 18, 23
)

func decodeLine(line string, h header) (models.MilkRecord, error) {
	if i := nonASCII(line); i >= 0 {
		return models.MilkRecord{}, fmt.Errorf("non-ASCII byte at offset %d", i)
	}
	if len(line) < amountEnd {
		return models.MilkRecord{}, fmt.Errorf("line too short for fields (%d < %d)", len(line), amountEnd)
	}

	var session models.Session
	switch code := line[sessionStart:sessionEnd]; code {
	case "M":
		session = models.SessionMorning
	case "E":
		session = models.SessionEvening
	default:
		return models.MilkRecord{}, fmt.Errorf("unknown session code %q", code)
	}

	quantity, err := scaled(line, "quantity", quantityStart, quantityEnd, 10)
	if err != nil {
		return models.MilkRecord{}, err
	}
	fat, err := scaled(line, "fat", fatStart, fatEnd, 10)
	if err != nil {
		return models.MilkRecord{}, err
	}
	snf, err := scaled(line, "snf", snfStart, snfEnd, 10)
	if err != nil {
		return models.MilkRecord{}, err
	}
	rate, err := scaled(line, "rate", rateStart, rateEnd, 100)
	if err != nil {
		return models.MilkRecord{}, err
	}
	amount, err := scaled(line, "amount", amountStart, amountEnd, 100)
	if err != nil {
		return models.MilkRecord{}, err
	}

	farmer := line[farmerStart:farmerEnd]
	return models.MilkRecord{
		ID:         models.MilkRecordID(h.date, h.centerCode, farmer, session),
		Date:       h.date,
		CenterCode: h.centerCode,
		FarmerCode: farmer,
		Session:    session,
		Quantity:   quantity,
		Fat:        fat,
		SNF:        snf,
		Rate:       rate,
		Amount:     amount,
	}, nil
}

func scaled(line, field string, start, end int, divisor float64) (float64, error) {
	raw := line[start:end]
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, raw)
	}
	return float64(n) / divisor, nil
}

// nonASCII returns the offset of the first byte above 0x7F, or -1.
// Field offsets count bytes, which only equal characters for ASCII.
func nonASCII(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] > 0x7f {
			return i
		}
	}
	return -1
}
