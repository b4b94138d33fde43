package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// APIClient implements Spreadsheet on top of the Sheets v4 API.
type APIClient struct {
	srv           *gsheets.Service
	spreadsheetID string
}

// NewAPIClient authenticates with a service account file.
func NewAPIClient(ctx context.Context, credentialsFile, spreadsheetID string) (*APIClient, error) {
	srv, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &APIClient{srv: srv, spreadsheetID: spreadsheetID}, nil
}

// SheetTitles implements Spreadsheet.
func (c *APIClient) SheetTitles(ctx context.Context) ([]string, error) {
	resp, err := c.srv.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

// AddSheet implements Spreadsheet.
func (c *APIClient) AddSheet(ctx context.Context, title string) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: title}},
		}},
	}
	_, err := c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	return err
}

// Values implements Spreadsheet.
func (c *APIClient) Values(ctx context.Context, title string) ([][]any, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, sheetRange(title)).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Append implements Spreadsheet.
func (c *APIClient) Append(ctx context.Context, title string, rows [][]any) error {
	_, err := c.srv.Spreadsheets.Values.Append(c.spreadsheetID, sheetRange(title), &gsheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return err
}

func sheetRange(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
