package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults applied at submission when the caller leaves a field empty.
const (
	DefaultStyle    = "cinematic"
	DefaultLanguage = "en"
	DefaultFormat   = FormatVertical
)

var ErrProjectNotFound = errors.New("project not found")

type Project struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Topic        string     `gorm:"type:text;not null" json:"topic"`
	Style        string     `gorm:"type:varchar(64)" json:"style"`
	Language     string     `gorm:"type:varchar(16)" json:"language"`
	Format       Format     `gorm:"type:varchar(16)" json:"format"`
	Status       Status     `gorm:"type:varchar(32);index" json:"status"`
	Script       Script     `gorm:"type:json" json:"script"`
	AudioURL     string     `gorm:"column:audio_url;type:text" json:"audioUrl"`
	ImageURLs    StringList `gorm:"column:image_urls;type:json" json:"imageUrls"`
	VideoURL     string     `gorm:"column:video_url;type:text" json:"videoUrl"`
	ErrorMessage string     `gorm:"column:error_message;type:text" json:"errorMessage"`
	CreatedAt    time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (Project) TableName() string {
	return "projects"
}

// Params returns the immutable input parameters captured at creation.
func (p *Project) Params() CreateParams {
	return CreateParams{
		Topic:    p.Topic,
		Style:    p.Style,
		Language: p.Language,
		Format:   p.Format,
	}
}

// CreateParams are the immutable inputs of a generation request.
type CreateParams struct {
	Topic    string `json:"topic"`
	Style    string `json:"style"`
	Language string `json:"language"`
	Format   Format `json:"format"`
}

// WithDefaults trims the inputs and fills empty optional fields.
func (p CreateParams) WithDefaults() CreateParams {
	p.Topic = strings.TrimSpace(p.Topic)
	p.Style = strings.TrimSpace(p.Style)
	p.Language = strings.TrimSpace(p.Language)
	p.Format = Format(strings.ToLower(strings.TrimSpace(string(p.Format))))
	if p.Style == "" {
		p.Style = DefaultStyle
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if p.Format == "" {
		p.Format = DefaultFormat
	}
	return p
}

func (p CreateParams) Validate() error {
	if strings.TrimSpace(p.Topic) == "" {
		return errors.New("topic is required")
	}
	if !p.Format.Valid() {
		return fmt.Errorf("unsupported format %q", p.Format)
	}
	return nil
}

// Scene is one narrated segment of a script.
type Scene struct {
	ID               int     `json:"id"`
	Text             string  `json:"text"`
	VisualPrompt     string  `json:"visual_prompt"`
	DurationEstimate float64 `json:"duration_estimate"`
}

// Script is the structured output of the script stage.
type Script struct {
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes"`
}

// IsZero reports whether no script has been generated.
func (s Script) IsZero() bool {
	return s.Title == "" && len(s.Scenes) == 0
}

// Narration joins every scene's voiceover text in scene order.
func (s Script) Narration() string {
	parts := make([]string, 0, len(s.Scenes))
	for _, scene := range s.Scenes {
		parts = append(parts, scene.Text)
	}
	return strings.Join(parts, " ")
}

// EstimatedSeconds sums the per-scene estimates, counting 5s for a scene without one.
func (s Script) EstimatedSeconds() float64 {
	total := 0.0
	for _, scene := range s.Scenes {
		if scene.DurationEstimate > 0 {
			total += scene.DurationEstimate
		} else {
			total += 5
		}
	}
	return total
}

func (s Script) Validate() error {
	if len(s.Scenes) == 0 {
		return errors.New("script has no scenes")
	}
	for i, scene := range s.Scenes {
		if strings.TrimSpace(scene.Text) == "" {
			return fmt.Errorf("scene %d has no voiceover text", i+1)
		}
		if strings.TrimSpace(scene.VisualPrompt) == "" {
			return fmt.Errorf("scene %d has no visual prompt", i+1)
		}
	}
	return nil
}

// Value stores an empty script as NULL so the column doubles as the checkpoint.
func (s Script) Value() (driver.Value, error) {
	if s.IsZero() {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *Script) Scan(value interface{}) error {
	*s = Script{}
	raw, err := jsonBytes(value)
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, s)
}

// StringList is an ordered JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(value interface{}) error {
	*l = nil
	raw, err := jsonBytes(value)
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		if string(v) == "null" {
			return nil, nil
		}
		return v, nil
	case string:
		if v == "null" {
			return nil, nil
		}
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column value %T", value)
	}
}
