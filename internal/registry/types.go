package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QueryDateLayout is how the registry expects dates in a search request.
const QueryDateLayout = "02/01/2006"

// Code is an identifier the registry sometimes serializes as a JSON string and
// sometimes as a JSON number.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Code(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("code must be a string or a number: %w", err)
	}
	*c = Code(n.String())
	return nil
}

func (c Code) String() string {
	return string(c)
}

// Record is one athlete contract publication.
type Record struct {
	ContractID      Code    `json:"id_contrato"`
	ContractNumber  Code    `json:"contrato_numero"`
	ContractType    string  `json:"tipocontrato"`
	AthleteID       Code    `json:"codigo_atleta"`
	AthleteName     string  `json:"nome"`
	Nickname        *string `json:"apelido"`
	Sex             string  `json:"sexo"`
	RegionCode      string  `json:"uf"`
	ClubCode        Code    `json:"codigo_clube"`
	ClubName        string  `json:"clube"`
	PublicationDate string  `json:"data_publicacao"`
	BirthDate       string  `json:"data_nascimento"`
	ContractStart   *string `json:"datainicio"`
	ContractEnd     *string `json:"datatermino"`
}

// Validate checks the fields that identify a record.
func (r Record) Validate() error {
	var missing []string
	if r.AthleteID == "" {
		missing = append(missing, "codigo_atleta")
	}
	if r.ContractNumber == "" {
		missing = append(missing, "contrato_numero")
	}
	if strings.TrimSpace(r.ContractType) == "" {
		missing = append(missing, "tipocontrato")
	}
	if len(missing) > 0 {
		return fmt.Errorf("record is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// QueryParams selects the publications of one club on one day.
type QueryParams struct {
	// Date is interpreted as a calendar day in its own location.
	Date       time.Time
	RegionCode string
	ClubCode   string
}

func (p QueryParams) FormattedDate() string {
	return p.Date.Format(QueryDateLayout)
}

// Credentials are what an authenticated search request carries.
type Credentials struct {
	CsrfToken    string
	CaptchaText  string
	CookieHeader string
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	CsrfToken    string    `json:"csrf_token"`
	CaptchaText  string    `json:"captcha_text"`
	CookieHeader string    `json:"cookie_header"`
	Timestamp    time.Time `json:"timestamp"`
}

// SnapshotStore persists the last known session so that a restarted process
// can reuse it.
type SnapshotStore interface {
	// LoadSession returns false when nothing has been saved yet.
	LoadSession(ctx context.Context) (Snapshot, bool, error)
	SaveSession(ctx context.Context, snapshot Snapshot) error
}

// Solver turns a captcha image into its text.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// ParseTime reads a timestamp in any of the formats the registry uses. Values
// without an offset are read in loc.
func ParseTime(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// FormatTime renders a registry timestamp as dd/mm/yyyy, followed by HH:MM when
// withTime is set. Unreadable values are returned unchanged.
func FormatTime(value string, withTime bool, loc *time.Location) string {
	t, ok := ParseTime(value, loc)
	if !ok {
		return value
	}
	if withTime {
		return t.Format("02/01/2006 15:04")
	}
	return t.Format("02/01/2006")
}
