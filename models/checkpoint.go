package models

import (
	"errors"
	"fmt"
	"strings"
)

// StageOutput is the persisted result of one pipeline stage. The set of
// implementations is closed: ScriptOutput, AudioOutput, ImagesOutput and
// VideoOutput.
type StageOutput interface {
	Validate() error
	columns() map[string]interface{}
}

type ScriptOutput struct {
	Script Script
}

func (o ScriptOutput) Validate() error {
	return o.Script.Validate()
}

func (o ScriptOutput) columns() map[string]interface{} {
	return map[string]interface{}{"script": o.Script}
}

type AudioOutput struct {
	URL string
}

func (o AudioOutput) Validate() error {
	if strings.TrimSpace(o.URL) == "" {
		return errors.New("audio url is empty")
	}
	return nil
}

func (o AudioOutput) columns() map[string]interface{} {
	return map[string]interface{}{"audio_url": o.URL}
}

// ImagesOutput holds one url per scene, in scene order.
type ImagesOutput struct {
	URLs []string
}

func (o ImagesOutput) Validate() error {
	if len(o.URLs) == 0 {
		return errors.New("image list is empty")
	}
	for i, u := range o.URLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("image %d has no url", i)
		}
	}
	return nil
}

func (o ImagesOutput) columns() map[string]interface{} {
	return map[string]interface{}{"image_urls": StringList(o.URLs)}
}

type VideoOutput struct {
	URL string
}

func (o VideoOutput) Validate() error {
	if strings.TrimSpace(o.URL) == "" {
		return errors.New("video url is empty")
	}
	return nil
}

func (o VideoOutput) columns() map[string]interface{} {
	return map[string]interface{}{"video_url": o.URL}
}

// Checkpoint predicates. A present output is never regenerated.

func HasScript(p *Project) bool {
	return p != nil && !p.Script.IsZero()
}

func HasAudio(p *Project) bool {
	return p != nil && strings.TrimSpace(p.AudioURL) != ""
}

// HasImages treats any non-empty list as complete; a partial list is never topped up.
func HasImages(p *Project) bool {
	return p != nil && len(p.ImageURLs) > 0
}
