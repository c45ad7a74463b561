package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finlux/internal/config"
	"finlux/internal/core"
	"finlux/internal/log"
	ports "finlux/internal/sheets"
)

// Columns written per transaction, in order.
var header = []any{"ID", "Date", "Type", "Description", "Category", "Account", "Amount"}

const lastColumn = "G"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

var _ ports.MirrorWriter = (*Client)(nil)

// Credentials locate the OAuth client and token. Inline JSON wins over files.
type Credentials struct {
	ClientJSON string
	ClientFile string
	TokenJSON  string
	TokenFile  string
}

// NewFromConfig creates a Sheets client for the configured spreadsheet.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.GoogleSpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, Credentials{
		ClientJSON: cfg.GoogleOAuthClientJSON,
		ClientFile: cfg.GoogleOAuthClientFile,
		TokenJSON:  cfg.GoogleOAuthTokenJSON,
		TokenFile:  cfg.GoogleOAuthTokenFile,
	})
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newWithService(svc, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger), nil
}

func newWithService(svc *gsheet.Service, spreadsheetID, sheetName string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Discard()
	}
	if sheetName == "" {
		sheetName = "Transactions"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger.WithComponent(log.ComponentSheets),
	}
}

// newSheetsService builds a Sheets service from an installed-app OAuth client
// and a previously saved token (see cmd/oauth-init).
func newSheetsService(ctx context.Context, creds Credentials) (*gsheet.Service, error) {
	clientJSON, err := readSecret(creds.ClientJSON, creds.ClientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	if clientJSON == nil {
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	tokenJSON, err := readSecret(creds.TokenJSON, creds.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	if tokenJSON == nil {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	oauthCfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(oauthCfg.Client(ctx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

func readSecret(inline, file string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if file == "" {
		return nil, nil
	}
	return os.ReadFile(file)
}

// EnsureHeader writes the header row when the sheet is empty.
func (c *Client) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:%s1", c.sheetName, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header %s: %w", rng, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{header}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header %s: %w", rng, err)
	}
	return nil
}

// Upsert rewrites the row whose column A holds tx.ID, or appends a new row.
func (c *Client) Upsert(ctx context.Context, tx core.Transaction) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	if tx.ID == "" {
		return errors.New("transaction id is required")
	}

	row, err := c.findRow(ctx, tx.ID)
	if err != nil {
		return err
	}
	values := &gsheet.ValueRange{Values: [][]any{transactionRow(tx)}}

	if row == 0 {
		rng := fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn)
		_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, values).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("append to %s: %w", c.sheetName, err)
		}
		c.logger.DebugContext(ctx, "Appended mirror row", log.FieldTransactionID, tx.ID)
		return nil
	}

	rng := rowRange(c.sheetName, row)
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, values).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	c.logger.DebugContext(ctx, "Updated mirror row", log.FieldTransactionID, tx.ID, "row", row)
	return nil
}

// Remove blanks the row holding id.
func (c *Client) Remove(ctx context.Context, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	row, err := c.findRow(ctx, id)
	if err != nil {
		return err
	}
	if row == 0 {
		return nil
	}
	rng := rowRange(c.sheetName, row)
	_, err = c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	c.logger.DebugContext(ctx, "Cleared mirror row", log.FieldTransactionID, id, "row", row)
	return nil
}

// Clear blanks every row below the header.
func (c *Client) Clear(ctx context.Context) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A2:%s", c.sheetName, lastColumn)
	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	return nil
}

// findRow returns the 1-based row whose first cell equals id, or 0.
func (c *Client) findRow(ctx context.Context, id string) (int, error) {
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read ids from %s: %w", c.sheetName, err)
	}
	return indexOfID(resp.Values, id), nil
}
