package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bryan-buckman/onosendai/internal/model"
)

// ErrColumnID is returned for a non-positive column id.
var ErrColumnID = errors.New("column id must be a positive integer")

// Settings is the parsed accounts/columns file.
type Settings struct {
	Accounts []model.Account
	Columns  []model.Column
}

// Account looks up an account by ID.
func (s *Settings) Account(id string) (model.Account, bool) {
	for _, a := range s.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return model.Account{}, false
}

// Column looks up a column by ID.
func (s *Settings) Column(id int) (model.Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return model.Column{}, false
}

type accountJSON struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Title        string `json:"title,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	AccessSecret string `json:"access_secret,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
}

type notificationJSON struct {
	Lights  bool `json:"lights"`
	Vibrate bool `json:"vibrate"`
	Sound   bool `json:"sound"`
}

type columnJSON struct {
	ID          int             `json:"id"`
	Title       string          `json:"title"`
	Account     string          `json:"account,omitempty"`
	Resource    string          `json:"resource"`
	RefreshMins int             `json:"refresh_mins,omitempty"`
	Exclude     []int           `json:"exclude,omitempty"`
	Notify      json.RawMessage `json:"notify,omitempty"`
	InlineMedia bool            `json:"inline_media,omitempty"`
	HDMedia     bool            `json:"hd_media,omitempty"`
}

type settingsJSON struct {
	Accounts []accountJSON `json:"accounts"`
	Columns  []columnJSON  `json:"columns"`
}

// LoadSettings reads and validates the accounts/columns file at path.
func LoadSettings(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()
	return ParseSettings(f)
}

// ParseSettings decodes and validates an accounts/columns document.
func ParseSettings(r io.Reader) (*Settings, error) {
	var doc settingsJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	s := &Settings{}
	accountIDs := make(map[string]bool)
	for _, a := range doc.Accounts {
		acc, err := a.toModel()
		if err != nil {
			return nil, err
		}
		if accountIDs[acc.ID] {
			return nil, fmt.Errorf("duplicate account id %q", acc.ID)
		}
		accountIDs[acc.ID] = true
		s.Accounts = append(s.Accounts, acc)
	}

	columnIDs := make(map[int]bool)
	for _, c := range doc.Columns {
		col, err := c.toModel()
		if err != nil {
			return nil, err
		}
		if columnIDs[col.ID] {
			return nil, fmt.Errorf("duplicate column id %d", col.ID)
		}
		if col.AccountID != "" && !accountIDs[col.AccountID] {
			return nil, fmt.Errorf("column %d: unknown account %q", col.ID, col.AccountID)
		}
		columnIDs[col.ID] = true
		s.Columns = append(s.Columns, col)
	}
	return s, nil
}

// ParseColumn decodes a single column object.
func ParseColumn(data []byte) (model.Column, error) {
	var c columnJSON
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Column{}, fmt.Errorf("decode column: %w", err)
	}
	return c.toModel()
}

// MarshalColumn encodes a column in the settings file format.
func MarshalColumn(c model.Column) ([]byte, error) {
	cj := columnJSON{
		ID:          c.ID,
		Title:       c.Title,
		Account:     c.AccountID,
		Resource:    c.Resource,
		RefreshMins: c.RefreshIntervalMins,
		Exclude:     c.ExcludeColumnIDs,
		InlineMedia: c.InlineMedia,
		HDMedia:     c.HDMedia,
	}
	if c.Notification != nil {
		n, err := json.Marshal(notificationJSON(*c.Notification))
		if err != nil {
			return nil, err
		}
		cj.Notify = n
	}
	return json.Marshal(cj)
}

func (a accountJSON) toModel() (model.Account, error) {
	if a.ID == "" {
		return model.Account{}, errors.New("account id is required")
	}
	kind := model.ProviderKind(a.Provider)
	switch kind {
	case model.ProviderTwitter, model.ProviderSuccessWhale, model.ProviderInstapaper:
	default:
		return model.Account{}, fmt.Errorf("account %q: unknown provider %q", a.ID, a.Provider)
	}
	return model.Account{
		ID:           a.ID,
		Provider:     kind,
		Title:        a.Title,
		AccessToken:  a.AccessToken,
		AccessSecret: a.AccessSecret,
		Username:     a.Username,
		Password:     a.Password,
	}, nil
}

func (c columnJSON) toModel() (model.Column, error) {
	if c.ID <= 0 {
		return model.Column{}, fmt.Errorf("column %q: %w", c.Title, ErrColumnID)
	}
	if c.RefreshMins < 0 {
		return model.Column{}, fmt.Errorf("column %d: refresh_mins must not be negative", c.ID)
	}
	ns, err := parseNotify(c.Notify)
	if err != nil {
		return model.Column{}, fmt.Errorf("column %d: %w", c.ID, err)
	}
	return model.Column{
		ID:                  c.ID,
		Title:               c.Title,
		AccountID:           c.Account,
		Resource:            c.Resource,
		RefreshIntervalMins: c.RefreshMins,
		ExcludeColumnIDs:    c.Exclude,
		Notification:        ns,
		InlineMedia:         c.InlineMedia,
		HDMedia:             c.HDMedia,
	}, nil
}

// parseNotify accepts a bool (true = default style) or a style object.
func parseNotify(raw json.RawMessage) (*model.NotificationStyle, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var on bool
	if err := json.Unmarshal(raw, &on); err == nil {
		if !on {
			return nil, nil
		}
		ns := model.DefaultNotificationStyle
		return &ns, nil
	}
	var nj notificationJSON
	if err := json.Unmarshal(raw, &nj); err != nil {
		return nil, fmt.Errorf("invalid notify value: %w", err)
	}
	ns := model.NotificationStyle(nj)
	return &ns, nil
}
