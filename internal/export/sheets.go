package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finary/internal/core"
)

// SheetsExporter writes reports into per-user tabs of one spreadsheet.
type SheetsExporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// SheetsResult describes a finished export.
type SheetsResult struct {
	Tab  string `json:"tab"`
	Rows int    `json:"rows"`
}

// NewSheetsExporter connects to the Sheets API. Without explicit options it
// authenticates with a service account taken from the environment.
func NewSheetsExporter(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetsExporter, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if sheetName == "" {
		sheetName = "Finary"
	}

	if len(opts) == 0 {
		creds, err := serviceAccountCredentials(ctx)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{
			option.WithCredentialsJSON(creds),
			option.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &SheetsExporter{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// serviceAccountCredentials reads GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS, in that order.
func serviceAccountCredentials(ctx context.Context) ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		slog.InfoContext(ctx, "Using inline JSON credentials", "component", "export")
		return []byte(inline), nil
	}

	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Reading credentials from file", "component", "export", "path", path)
	creds, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return creds, nil
}

// TabName is the tab holding userID's report.
func (e *SheetsExporter) TabName(userID string) string {
	return fmt.Sprintf("%s - %s", e.sheetName, userID)
}

// Export replaces the user's tab contents with the current report.
func (e *SheetsExporter) Export(ctx context.Context, userID string, txs []core.Transaction) (SheetsResult, error) {
	tab := e.TabName(userID)

	if err := e.ensureTab(ctx, tab); err != nil {
		return SheetsResult{}, err
	}

	quoted := quoteSheet(tab)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, quoted+"!A:D", &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return SheetsResult{}, fmt.Errorf("clear %s: %w: %w", tab, core.ErrTransport, err)
	}

	values := make([][]any, 0, len(txs)+1)
	for i, row := range Rows(txs) {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		// Amounts go in as numbers so the sheet can sum them.
		if i > 0 {
			cells[3] = txs[i-1].Amount.InexactFloat64()
		}
		values = append(values, cells)
	}

	vr := &gsheet.ValueRange{Values: values}
	if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, quoted+"!A1", vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return SheetsResult{}, fmt.Errorf("write %s: %w: %w", tab, core.ErrTransport, err)
	}

	slog.InfoContext(ctx, "Report exported to Google Sheets",
		"component", "export",
		"user_id", userID,
		"tab", tab,
		"rows", len(txs))

	return SheetsResult{Tab: tab, Rows: len(txs)}, nil
}

func (e *SheetsExporter) ensureTab(ctx context.Context, tab string) error {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w: %w", core.ErrTransport, err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == tab {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tab %s: %w: %w", tab, core.ErrTransport, err)
	}
	return nil
}

// quoteSheet quotes a tab name for A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
