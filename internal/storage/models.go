package storage

import "time"

// SettingsID is the primary key of the single settings row.
const SettingsID int64 = 1

type Settings struct {
	ID        int64     `json:"id"`
	APIKey    string    `json:"api_key"`
	Temp      string    `json:"temp"`
	Model     string    `json:"model"`
	MaxTokens string    `json:"max_tokens"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsPatch carries the fields of a partial update. Nil fields are left as stored.
type SettingsPatch struct {
	APIKey    *string
	Temp      *string
	Model     *string
	MaxTokens *string
}

func (p SettingsPatch) IsEmpty() bool {
	return p.APIKey == nil && p.Temp == nil && p.Model == nil && p.MaxTokens == nil
}
