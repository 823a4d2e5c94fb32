package formatter

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cli/go-gh/v2/pkg/tableprinter"
	"github.com/cli/go-gh/v2/pkg/term"
	"github.com/goccy/go-json"

	"github.com/kyleking/rafs-ddms/internal/batch"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/service"
	"github.com/kyleking/rafs-ddms/internal/storage"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatParquet OutputFormat = "parquet"
)

const defaultWidth = 120

// ParseOutputFormat validates an --output flag value
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatParquet:
		return f, nil
	default:
		return "", errors.Newf(errors.ErrTypeBadRequest,
			"invalid output format: %s (must be table, json, or parquet)", s)
	}
}

// ContentType maps the output format to a bulk data encoding
func (f OutputFormat) ContentType() service.ContentType {
	if f == FormatParquet {
		return service.ContentParquet
	}

	return service.ContentJSON
}

// Formatter renders tables, search pages and statistics
type Formatter struct {
	out   io.Writer
	isTTY bool
	width int
	now   func() time.Time
}

// NewFormatter creates a formatter writing to out. Table output is padded
// and truncated to width when isTTY is set, tab separated otherwise.
func NewFormatter(out io.Writer, isTTY bool, width int) *Formatter {
	if width <= 0 {
		width = defaultWidth
	}

	return &Formatter{out: out, isTTY: isTTY, width: width, now: time.Now}
}

// NewTerminalFormatter creates a formatter for the process's stdout
func NewTerminalFormatter() *Formatter {
	t := term.FromEnv()

	width := defaultWidth
	if w, _, err := t.Size(); err == nil && w > 0 {
		width = w
	}

	return NewFormatter(t.Out(), t.IsTerminalOutput(), width)
}

// WriteTable writes a table in the format. Parquet cells keep their types.
func (f *Formatter) WriteTable(t *table.Table, format OutputFormat) error {
	switch format {
	case FormatJSON, FormatParquet:
		data, err := format.ContentType().Encode(t)
		if err != nil {
			return err
		}

		_, err = f.out.Write(data)

		return err
	default:
		return f.renderTable(t)
	}
}

// WritePage writes one page of a search answer
func (f *Formatter) WritePage(page *batch.Page, format OutputFormat) error {
	if format != FormatTable {
		data, err := service.EncodePage(page, format.ContentType())
		if err != nil {
			return err
		}

		_, err = f.out.Write(data)

		return err
	}

	if page.Mode == batch.ModeData {
		if page.Result != nil && page.Result.NumCols() > 0 {
			if err := f.renderTable(page.Result); err != nil {
				return err
			}
		}
	} else {
		tp := f.newPrinter("record id")

		for _, id := range page.RecordIDs {
			tp.AddField(id)
			tp.EndRow()
		}

		if err := tp.Render(); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(f.out, "\n%s: offset %d, page limit %d, total %s\n",
		page.Mode, page.Offset, page.Limit, f.formatInt(page.TotalSize))

	return err
}

// newPrinter starts a table; the header row is only shown on terminals
func (f *Formatter) newPrinter(header ...string) tableprinter.TablePrinter {
	tp := tableprinter.New(f.out, f.isTTY, f.width)
	if f.isTTY {
		tp.AddHeader(header)
	}

	return tp
}

func (f *Formatter) renderTable(t *table.Table) error {
	tp := f.newPrinter(append([]string{""}, t.Columns()...)...)

	index := t.Index()

	for r := range t.NumRows() {
		tp.AddField(table.FormatCell(index[r]))

		for _, v := range t.Row(r) {
			tp.AddField(table.FormatCell(v))
		}

		tp.EndRow()
	}

	return tp.Render()
}

// WriteRecord writes a record as indented JSON
func (f *Formatter) WriteRecord(rec *records.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode record")
	}

	_, err = fmt.Fprintln(f.out, string(data))

	return err
}

// WriteStats writes record store statistics
func (f *Formatter) WriteStats(stats *storage.Stats, format OutputFormat) error {
	if format == FormatJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode statistics")
		}

		_, err = fmt.Fprintln(f.out, string(data))

		return err
	}

	lines := []string{
		"Records: " + f.formatInt(stats.TotalRecords),
		"Versions: " + f.formatInt(stats.TotalVersions),
		"Datasets: " + f.formatInt(stats.TotalDatasets),
		fmt.Sprintf("Database size: %.2f MB", stats.DatabaseSizeMB),
		"Last updated: " + f.humanizeAge(stats.LastUpdated),
	}

	if _, err := fmt.Fprintln(f.out, strings.Join(lines, "\n")); err != nil {
		return err
	}

	if len(stats.KindBreakdown) == 0 {
		return nil
	}

	kinds := make([]string, 0, len(stats.KindBreakdown))
	for kind := range stats.KindBreakdown {
		kinds = append(kinds, kind)
	}

	// Sort by count descending, then by kind for deterministic output
	slices.SortFunc(kinds, func(a, b string) int {
		if d := stats.KindBreakdown[b] - stats.KindBreakdown[a]; d != 0 {
			return d
		}

		return strings.Compare(a, b)
	})

	if _, err := fmt.Fprintln(f.out, "\nKinds:"); err != nil {
		return err
	}

	tp := f.newPrinter("kind", "records")

	for _, kind := range kinds {
		tp.AddField(kind)
		tp.AddField(f.formatInt(stats.KindBreakdown[kind]))
		tp.EndRow()
	}

	return tp.Render()
}

// formatInt formats an integer, returning "?" for negative values (unknown)
func (f *Formatter) formatInt(value int) string {
	if value < 0 {
		return "?"
	}

	return strconv.Itoa(value)
}

// humanizeAge converts a time to a human-readable age string
func (f *Formatter) humanizeAge(t time.Time) string {
	if t.IsZero() {
		return "?"
	}

	days := int(f.now().Sub(t).Hours() / 24)

	if days < 1 {
		return "today"
	} else if days == 1 {
		return "1 day ago"
	} else if days < 30 {
		return fmt.Sprintf("%d days ago", days)
	} else if days < 365 {
		months := days / 30
		if months == 1 {
			return "1 month ago"
		}

		return fmt.Sprintf("%d months ago", months)
	}

	years := days / 365
	if years == 1 {
		return "1 year ago"
	}

	return fmt.Sprintf("%d years ago", years)
}
