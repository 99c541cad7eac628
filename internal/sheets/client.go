package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"invoicedesk.app/internal/logger"
)

// Sync sheet layout. Column H holds the dedup key.
const (
	syncRange    = "A:I"
	manualRange  = "A:G"
	headerRange  = "A1:I1"
	keyRange     = "H2:H"
	columnCount  = 9
	inputOption  = "USER_ENTERED"
	insertOption = "INSERT_ROWS"
)

// Headers is the first row of the payments sheet.
var Headers = []string{
	"Date",
	"Customer/Insurance",
	"Customer Name",
	"Payment Type",
	"Payment Amount",
	"Who's Paying",
	"Notes",
	"Payment ID",
	"Sync Time",
}

// ErrMissingCredentials is returned when neither a credentials file nor
// inline JSON is configured.
var ErrMissingCredentials = errors.New("sheets: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set")

// Config locates the spreadsheet and the service-account credentials.
type Config struct {
	SheetURL        string
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
}

// PaymentRow is one synced payment (columns A:I).
type PaymentRow struct {
	Date              string
	CustomerInsurance string
	CustomerName      string
	PaymentType       string
	Amount            string
	WhosPaying        string
	Notes             string
	Key               string
	SyncTime          string
}

func (r PaymentRow) values() []any {
	return []any{
		r.Date,              // A
		r.CustomerInsurance, // B
		r.CustomerName,      // C
		r.PaymentType,       // D
		r.Amount,            // E
		r.WhosPaying,        // F
		r.Notes,             // G
		r.Key,               // H
		r.SyncTime,          // I
	}
}

// ManualPayment is a row posted directly by a client (columns A:G, no key).
type ManualPayment struct {
	Date                  string
	CustomerInsuranceType string
	CustomerName          string
	PaymentType           string
	PaymentAmount         string
	WhosPaying            string
	Notes                 string
}

// Client appends payment rows to one sheet of one spreadsheet.
type Client struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	log           zerolog.Logger
}

// NewClient builds a Sheets client from service-account credentials.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	const op = "sheets.NewClient"

	id, err := ExtractSpreadsheetID(cfg.SheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var creds []byte
	switch {
	case cfg.CredentialsFile != "":
		creds, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: read credentials file: %w", op, err)
		}
	case cfg.CredentialsJSON != "":
		creds = []byte(cfg.CredentialsJSON)
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
	}

	jwtCfg, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: parse credentials: %w", op, err)
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: create sheets service: %w", op, err)
	}
	return NewWithService(svc, id, cfg.SheetName), nil
}

// NewWithService wraps an existing API service.
func NewWithService(svc *sheets.Service, spreadsheetID, sheetName string) *Client {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Sheet1"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		log:           logger.WithComponent("sheets"),
	}
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// ExtractSpreadsheetID accepts a full Sheets URL or a bare spreadsheet id.
func ExtractSpreadsheetID(url string) (string, error) {
	url = strings.TrimSpace(url)
	if m := spreadsheetIDPattern.FindStringSubmatch(url); len(m) == 2 {
		return m[1], nil
	}
	if url != "" && !strings.ContainsAny(url, "/:?") {
		return url, nil
	}
	return "", fmt.Errorf("invalid Google Sheets URL %q", url)
}

func (c *Client) a1(r string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(c.sheetName, "'", "''"), r)
}

// EnsureHeaders creates the sheet when missing and writes a bold header row
// when row 1 is empty.
func (c *Client) EnsureHeaders(ctx context.Context) error {
	const op = "sheets.EnsureHeaders"

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: get spreadsheet: %w", op, err)
	}
	var (
		sheetID int64
		found   bool
	)
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == c.sheetName {
			sheetID, found = sh.Properties.SheetId, true
			break
		}
	}
	if !found {
		c.log.Info().Str("sheet", c.sheetName).Msg("creating sheet")
		resp, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: c.sheetName}},
			}},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: add sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	existing, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.a1(headerRange)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: read headers: %w", op, err)
	}
	if len(existing.Values) > 0 && len(existing.Values[0]) > 0 {
		return nil
	}

	row := make([]any, len(Headers))
	for i, h := range Headers {
		row[i] = h
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, c.a1(headerRange), &sheets.ValueRange{
		Values: [][]any{row},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: write headers: %w", op, err)
	}
	if err := c.formatHeaders(ctx, sheetID); err != nil {
		c.log.Warn().Err(err).Msg("format headers failed, continuing")
	}
	c.log.Info().Str("sheet", c.sheetName).Msg("headers written")
	return nil
}

// formatHeaders makes row 1 bold on a light grey (#f0f0f0) background.
func (c *Client) formatHeaders(ctx context.Context, sheetID int64) error {
	const grey = 240.0 / 255.0
	_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columnCount,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: grey, Green: grey, Blue: grey},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		}},
	}).Context(ctx).Do()
	return err
}

// ExistingKeys reads the Payment ID column below the header.
func (c *Client) ExistingKeys(ctx context.Context) (map[string]struct{}, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.a1(keyRange)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets.ExistingKeys: %w", err)
	}
	keys := make(map[string]struct{}, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		k := strings.TrimSpace(fmt.Sprint(row[0]))
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys, nil
}

// AppendRows appends synced payment rows and returns the updated range.
func (c *Client) AppendRows(ctx context.Context, rows []PaymentRow) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, r.values())
	}
	updated, err := c.append(ctx, syncRange, values)
	if err != nil {
		return "", fmt.Errorf("sheets.AppendRows: %w", err)
	}
	c.log.Info().Int("rows", len(rows)).Str("range", updated).Msg("payment rows appended")
	return updated, nil
}

// AppendPayment appends one manually submitted payment to columns A:G.
func (c *Client) AppendPayment(ctx context.Context, p ManualPayment) (string, error) {
	updated, err := c.append(ctx, manualRange, [][]any{{
		p.Date,
		p.CustomerInsuranceType,
		p.CustomerName,
		p.PaymentType,
		p.PaymentAmount,
		p.WhosPaying,
		p.Notes,
	}})
	if err != nil {
		return "", fmt.Errorf("sheets.AppendPayment: %w", err)
	}
	c.log.Info().Str("customer", p.CustomerName).Str("range", updated).Msg("manual payment appended")
	return updated, nil
}

func (c *Client) append(ctx context.Context, rng string, values [][]any) (string, error) {
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.a1(rng), &sheets.ValueRange{
		Values: values,
	}).ValueInputOption(inputOption).InsertDataOption(insertOption).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if resp.Updates == nil {
		return "", nil
	}
	return resp.Updates.UpdatedRange, nil
}
