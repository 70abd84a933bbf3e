package sink

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheets writes each account to its own tab of one Google Sheets
// spreadsheet, creating missing tabs on the fly.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	filter        FilterFunc
	logger        *log.Logger
}

// NewSheets builds a Sheets sink authenticated with a service-account
// credentials file.
func NewSheets(ctx context.Context, credentialsFile, spreadsheetID string, filter FilterFunc, logger *log.Logger) (*Sheets, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}
	return &Sheets{svc: svc, spreadsheetID: spreadsheetID, filter: filter, logger: logger}, nil
}

// Write overwrites each account's tab from A1 with the run's rows.
func (s *Sheets) Write(ctx context.Context, u Update) error {
	existing, err := s.existingTabs(ctx)
	if err != nil {
		return err
	}

	for _, account := range u.Accounts {
		title := tabName(account)
		if !existing[title] {
			if err := s.addTab(ctx, title); err != nil {
				return err
			}
			existing[title] = true
		}

		records := rows(account, s.filter)
		values := make([][]any, len(records))
		for i, record := range records {
			row := make([]any, len(record))
			for j, cell := range record {
				row[j] = cell
			}
			values[i] = row
		}

		_, err := s.svc.Spreadsheets.Values.
			Update(s.spreadsheetID, title+"!A1", &sheets.ValueRange{Values: values}).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("updating sheet %s: %w", title, err)
		}
		s.logger.Info("updated sheet", "sheet", title, "rows", len(values)-1)
	}
	return nil
}

func (s *Sheets) existingTabs(ctx context.Context) (map[string]bool, error) {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading spreadsheet: %w", err)
	}
	tabs := make(map[string]bool, len(ss.Sheets))
	for _, sheet := range ss.Sheets {
		tabs[sheet.Properties.Title] = true
	}
	return tabs, nil
}

func (s *Sheets) addTab(ctx context.Context, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("adding sheet %s: %w", title, err)
	}
	return nil
}
