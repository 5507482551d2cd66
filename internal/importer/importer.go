// Package importer ingests facility records from CSV exports. The source
// files come from legacy spreadsheets, so header layout, text encoding and
// code formatting all need normalization before rows reach the catalog.
package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"facilitycore/internal/blob"
	"facilitycore/internal/core"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// maxRowErrors caps per-row error collection so a wholly broken file does
// not produce an unbounded report.
const maxRowErrors = 20

// warningLimit is how many row errors the summary carries verbatim.
const warningLimit = 5

// codeColumnCandidates are checked in order against the normalized header
// row to locate the record code column.
var codeColumnCandidates = []string{"コード", "病院コード", "施設コード", "code", "Code", "ID", "番号"}

// basicFields are always carried into the record, defaulting to empty when
// the column is absent.
var basicFields = []string{"コード", "都道府県", "病院名", "郵便番号", "住所", "最寄駅", "TEL", "DI", "ファミレス"}

// seriesHeads are repeating column groups. Each head may appear bare or
// numbered (head_1, head_2, ...).
var seriesHeads = []string{
	"印", "卒業", "Dr./出身大学", "診療科", "PHS", "直PHS", "①", "②", "備考",
	"関連病院施設等", "関連病院TEL", "関連病院備考",
	"部署", "業者", "内線", "TEL・メモ",
}

var seriesPatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(seriesHeads))
	for _, head := range seriesHeads {
		out[head] = regexp.MustCompile("^" + regexp.QuoteMeta(head) + `_(\d+)$`)
	}
	return out
}()

// Summary reports the outcome of one import run.
type Summary struct {
	Imported    int      `json:"imported"`
	Skipped     int      `json:"skipped"`
	TotalErrors int      `json:"total_errors"`
	Warnings    []string `json:"warnings,omitempty"`
	Encoding    string   `json:"encoding_used"`
	CodeColumn  string   `json:"code_column"`
	ArchiveKey  string   `json:"archive_key,omitempty"`
}

// Importer parses CSV payloads and writes each row through the catalog
// service, archiving the raw upload for later audit.
type Importer struct {
	svc     *core.Service
	archive blob.Store
	logger  *slog.Logger
	nowFn   func() time.Time
}

// New builds an Importer. archive may be nil, in which case raw payloads
// are not retained.
func New(svc *core.Service, archive blob.Store) *Importer {
	return &Importer{
		svc:     svc,
		archive: archive,
		logger:  slog.Default(),
		nowFn:   time.Now,
	}
}

// SetLogger overrides the logger used for archive warnings.
func (im *Importer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		im.logger = logger
	}
}

// SetNowFunc overrides the clock, for tests.
func (im *Importer) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		im.nowFn = fn
	}
}

// Import reads a whole CSV payload, saves every row with a non-empty code
// under the given actor, and returns a per-run summary. Row-level failures
// (including records locked by another operator) are collected as warnings
// rather than aborting the run.
func (im *Importer) Import(ctx context.Context, r io.Reader, actor string) (Summary, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Summary{}, fmt.Errorf("read csv payload: %w", err)
	}
	content, encodingName, err := decodePayload(raw)
	if err != nil {
		return Summary{}, err
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return Summary{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return Summary{}, fmt.Errorf("csv payload is empty")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = normalizeHeader(h)
	}
	codeColumn := ""
	for _, cand := range codeColumnCandidates {
		for _, h := range headers {
			if h == cand {
				codeColumn = cand
				break
			}
		}
		if codeColumn != "" {
			break
		}
	}
	if codeColumn == "" {
		shown := headers
		if len(shown) > 10 {
			shown = shown[:10]
		}
		return Summary{}, fmt.Errorf("no code column found; first columns: %s", strings.Join(shown, ", "))
	}

	summary := Summary{Encoding: encodingName, CodeColumn: codeColumn}
	var rowErrors []string
	for rowIndex, cells := range rows[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(cells) {
				row[h] = cells[i]
			} else {
				row[h] = ""
			}
		}
		code := NormalizeCode(row[codeColumn])
		if code == "" {
			summary.Skipped++
			continue
		}
		fields := mapRowFields(row)
		fields["_row_index"] = strconv.Itoa(rowIndex + 1)
		if _, err := im.svc.SaveRecord(ctx, code, actor, fields); err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", rowIndex+1, err))
			if len(rowErrors) > maxRowErrors {
				break
			}
			continue
		}
		summary.Imported++
	}
	summary.TotalErrors = len(rowErrors)
	if len(rowErrors) > warningLimit {
		summary.Warnings = rowErrors[:warningLimit]
	} else {
		summary.Warnings = rowErrors
	}

	summary.ArchiveKey = im.archivePayload(ctx, raw2key(im.nowFn()), raw, actor, encodingName)
	return summary, nil
}

func raw2key(now time.Time) string {
	return fmt.Sprintf("imports/%s/%s.csv", now.UTC().Format("2006/01/02"), uuid.NewString())
}

// archivePayload stores the raw upload. Archive failures degrade to a
// warning; the import itself already succeeded.
func (im *Importer) archivePayload(ctx context.Context, key string, raw []byte, actor, encodingName string) string {
	if im.archive == nil {
		return ""
	}
	_, err := im.archive.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"actor": actor, "encoding": encodingName},
	})
	if err != nil {
		im.logger.Warn("import archive write failed", "key", key, "error", err)
		return ""
	}
	return key
}

// decodePayload detects the text encoding of a CSV upload. Candidates are
// tried in order: UTF-8 with BOM, plain UTF-8, Shift_JIS (covers CP932),
// ISO-2022-JP.
func decodePayload(raw []byte) (string, string, error) {
	if bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) {
		rest := raw[3:]
		if utf8.Valid(rest) {
			return string(rest), "utf-8-sig", nil
		}
	}
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}
	if s, ok := tryDecode(raw, japanese.ShiftJIS.NewDecoder()); ok {
		return s, "shift_jis", nil
	}
	if s, ok := tryDecode(raw, japanese.ISO2022JP.NewDecoder()); ok {
		return s, "iso-2022-jp", nil
	}
	return "", "", fmt.Errorf("could not determine csv text encoding")
}

func tryDecode(raw []byte, t transform.Transformer) (string, bool) {
	decoded, _, err := transform.Bytes(t, raw)
	if err != nil {
		return "", false
	}
	// The japanese decoders substitute U+FFFD instead of failing; treat a
	// substitution as a wrong-encoding signal.
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", false
	}
	return string(decoded), true
}

// normalizeHeader strips BOM residue and folds ideographic spaces.
func normalizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\ufeff", "")
	s = strings.ReplaceAll(s, "\u3000", " ")
	return strings.TrimSpace(s)
}

// NormalizeCode cleans a record code cell: zero-width characters are
// removed and a leading apostrophe (spreadsheet text marker) is dropped.
func NormalizeCode(val string) string {
	s := strings.NewReplacer("\ufeff", "", "\u200b", "", "\u200c", "", "\u200d", "").Replace(val)
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "'")
	return strings.TrimSpace(s)
}

// mapRowFields projects a normalized CSV row onto record fields: the basic
// columns always, series heads when present, and any numbered series column.
func mapRowFields(row map[string]string) map[string]string {
	fields := make(map[string]string, len(row))
	for _, f := range basicFields {
		fields[f] = row[f]
	}
	for _, head := range seriesHeads {
		if v, ok := row[head]; ok {
			fields[head] = v
		}
	}
	for _, head := range seriesHeads {
		pat := seriesPatterns[head]
		for key, val := range row {
			if m := pat.FindStringSubmatch(key); m != nil {
				fields[head+"_"+m[1]] = val
			}
		}
	}
	return fields
}
