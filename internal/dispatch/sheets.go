package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"openflow/internal/model"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetValues is the subset of the Sheets values API the integration uses
type SheetValues interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
	Append(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
}

// SheetsFactory opens a values client authenticated with a service account key.
type SheetsFactory func(ctx context.Context, credentialsJSON []byte) (SheetValues, error)

type appsScriptPayload struct {
	FormID    string                 `json:"formId"`
	FormTitle string                 `json:"formTitle"`
	Data      map[string]interface{} `json:"data"`
	Fields    []appsScriptField      `json:"fields"`
	Timestamp string                 `json:"timestamp"`
}

type appsScriptField struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Sheets appends the submission to a Google spreadsheet, either through a
// deployed Apps Script web app or directly with a service account.
type Sheets struct {
	client     *http.Client
	timeout    time.Duration
	apiTimeout time.Duration
	newService SheetsFactory
}

// NewSheets bounds an Apps Script call by appsScriptTimeout and a whole
// service-account delivery (auth, header check, append) by apiTimeout.
func NewSheets(appsScriptTimeout, apiTimeout time.Duration) *Sheets {
	if appsScriptTimeout <= 0 {
		appsScriptTimeout = 15 * time.Second
	}
	if apiTimeout <= 0 {
		apiTimeout = 15 * time.Second
	}
	return &Sheets{
		client:     &http.Client{},
		timeout:    appsScriptTimeout,
		apiTimeout: apiTimeout,
		newService: newGoogleSheets,
	}
}

// WithFactory returns a copy of s that opens service-account clients through f.
func (s *Sheets) WithFactory(f SheetsFactory) *Sheets {
	cp := *s
	cp.newService = f
	return &cp
}

func (s *Sheets) Deliver(ctx context.Context, settings Settings, env Envelope) error {
	if settings.String("mode") == "apps_script" {
		return s.deliverAppsScript(ctx, settings, env)
	}
	return s.deliverServiceAccount(ctx, settings, env)
}

func (s *Sheets) deliverAppsScript(ctx context.Context, settings Settings, env Envelope) error {
	url := settings.String("apps_script_url")
	if url == "" {
		return &ConfigError{Type: "google_sheets", Message: "Apps Script URL is required"}
	}

	fields := make([]appsScriptField, len(env.Steps))
	for i, st := range env.Steps {
		fields[i] = appsScriptField{ID: st.ID, Label: st.DisplayLabel()}
	}
	body, err := json.Marshal(appsScriptPayload{
		FormID:    env.FormID,
		FormTitle: env.FormTitle,
		Data:      env.Data,
		Fields:    fields,
		Timestamp: env.Timestamp.UTC().Format(isoMillis),
	})
	if err != nil {
		return &DeliveryError{Target: "apps script", Message: fmt.Sprintf("failed to encode payload: %v", err), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &ConfigError{Type: "google_sheets", Message: fmt.Sprintf("Invalid Apps Script URL: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	// Apps Script answers with a redirect to the script output; the default client follows it.
	resp, err := s.client.Do(req)
	if err != nil {
		return transportError("apps script", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{
			Target:  "apps script",
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Apps Script returned %d", resp.StatusCode),
		}
	}
	return nil
}

func (s *Sheets) deliverServiceAccount(ctx context.Context, settings Settings, env Envelope) error {
	spreadsheetID := settings.String("spreadsheet_id")
	rawCreds, hasCreds := settings["credentials_json"]
	if !hasCreds || rawCreds == nil || rawCreds == "" || spreadsheetID == "" {
		return &ConfigError{Type: "google_sheets", Message: "Google credentials and spreadsheet ID are required"}
	}

	creds, err := credentialsJSON(rawCreds)
	if err != nil {
		return &ConfigError{Type: "google_sheets", Message: "Invalid credentials JSON"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.apiTimeout)
	defer cancel()

	svc, err := s.newService(ctx, creds)
	if err != nil {
		return &DeliveryError{Target: "google sheets", Message: fmt.Sprintf("Google authentication failed: %v", err), Err: err}
	}

	sheetName := settings.StringOr("sheet_name", "Sheet1")

	header, err := svc.Get(ctx, spreadsheetID, sheetName+"!1:1")
	if err != nil {
		return transportError("google sheets", err)
	}
	if len(header) == 0 {
		if err := svc.Update(ctx, spreadsheetID, sheetName+"!A1", [][]interface{}{HeaderRow(env.Steps)}); err != nil {
			return transportError("google sheets", err)
		}
	}

	if err := svc.Append(ctx, spreadsheetID, sheetName+"!A:A", [][]interface{}{DataRow(env)}); err != nil {
		return transportError("google sheets", err)
	}
	return nil
}

// HeaderRow is "Timestamp" followed by each step label.
func HeaderRow(steps []model.Step) []interface{} {
	row := make([]interface{}, 0, len(steps)+1)
	row = append(row, "Timestamp")
	for _, st := range steps {
		row = append(row, st.DisplayLabel())
	}
	return row
}

// DataRow is the submission timestamp followed by each step answer.
func DataRow(env Envelope) []interface{} {
	row := make([]interface{}, 0, len(env.Steps)+1)
	row = append(row, env.Timestamp.UTC().Format(isoMillis))
	for _, st := range env.Steps {
		row = append(row, cellValue(env.Data[st.ID]))
	}
	return row
}

// cellValue renders an answer for a spreadsheet cell; objects and arrays become JSON.
func cellValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]interface{}, []interface{}, []string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func credentialsJSON(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		b := []byte(v)
		if !json.Valid(b) {
			return nil, fmt.Errorf("credentials are not valid JSON")
		}
		return b, nil
	case map[string]interface{}:
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("unsupported credentials type %T", raw)
}

type googleSheets struct {
	values *sheets.SpreadsheetsValuesService
}

func newGoogleSheets(ctx context.Context, credentialsJSON []byte) (SheetValues, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, err
	}
	return &googleSheets{values: svc.Spreadsheets.Values}, nil
}

func (g *googleSheets) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	res, err := g.values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return res.Values, nil
}

func (g *googleSheets) Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error {
	_, err := g.values.Update(spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (g *googleSheets) Append(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error {
	_, err := g.values.Append(spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}
