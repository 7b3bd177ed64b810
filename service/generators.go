package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"TopicToVideo-server/models"
)

var languageNames = map[string]string{
	"en": "English",
	"it": "Italian",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"ar": "Arabic",
	"hi": "Hindi",
	"ru": "Russian",
}

// LanguageName maps a language code to the name used in prompts, defaulting to English.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	return "English"
}

// ScriptPrompt is the instruction sent to the script model.
func ScriptPrompt(topic, style, language string) string {
	lang := LanguageName(language)
	return fmt.Sprintf(`Create a viral short video script about %q.
Style: %s.
Language: %s (write the voiceover text in %s).
Target duration: 60-90 seconds.
Structure: hook (0-5s), build up, climax or twist, conclusion with a call to action.
The "text" field must be written in %s. The "visual_prompt" field must be in English.
Output JSON: {"title": "...", "scenes": [{"id": 1, "text": "...", "visual_prompt": "...", "duration_estimate": 5}]}`,
		topic, style, lang, lang, lang)
}

// ImagePrompt decorates a scene's visual prompt with the project style.
func ImagePrompt(visualPrompt, style string) string {
	return fmt.Sprintf("%s, %s style, high quality, cinematic lighting", visualPrompt, style)
}

// ParseScript decodes and validates model output. Scenes without an id are
// numbered by position.
func ParseScript(raw []byte) (models.Script, error) {
	var script models.Script
	if err := json.Unmarshal(raw, &script); err != nil {
		return models.Script{}, fmt.Errorf("%w: script is not valid JSON: %v", ErrGeneration, err)
	}
	if err := script.Validate(); err != nil {
		return models.Script{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	for i := range script.Scenes {
		if script.Scenes[i].ID == 0 {
			script.Scenes[i].ID = i + 1
		}
	}
	return script, nil
}

// WorkerScriptGenerator asks the AI worker for a script and downloads the JSON it produced.
type WorkerScriptGenerator struct {
	AI *AIClient
}

func (g *WorkerScriptGenerator) GenerateScript(ctx context.Context, topic, style, language string) (models.Script, error) {
	result, err := g.AI.Run(ctx, AIJobScript, "", map[string]interface{}{
		"topic":         topic,
		"style":         style,
		"language":      language,
		"language_name": LanguageName(language),
		"prompt":        ScriptPrompt(topic, style, language),
	})
	if err != nil {
		return models.Script{}, err
	}
	if result.ResourceURL == "" {
		return models.Script{}, fmt.Errorf("%w: script result missing resource url", ErrGeneration)
	}
	raw, err := g.AI.Fetch(ctx, result.ResourceURL)
	if err != nil {
		return models.Script{}, fmt.Errorf("download script: %w", err)
	}
	return ParseScript(raw)
}

// WorkerSpeechGenerator synthesizes narration and stores it as {project}/audio.mp3.
type WorkerSpeechGenerator struct {
	AI      *AIClient
	Storage ObjectStorage
	Voice   string
}

func (g *WorkerSpeechGenerator) GenerateSpeech(ctx context.Context, text, projectID, language string) (string, error) {
	voice := g.Voice
	if voice == "" {
		voice = "alloy"
	}
	result, err := g.AI.Run(ctx, AIJobSpeech, projectID, map[string]interface{}{
		"text":   text,
		"lang":   language,
		"voice":  voice,
		"format": "mp3",
	})
	if err != nil {
		return "", err
	}
	return g.AI.Transfer(ctx, g.Storage, result, ArtifactKey(projectID, "audio.mp3"), "audio/mpeg")
}

// WorkerImageGenerator renders one scene image and stores it as {project}/scene_{id}.jpg.
type WorkerImageGenerator struct {
	AI      *AIClient
	Storage ObjectStorage
}

func (g *WorkerImageGenerator) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	result, err := g.AI.Run(ctx, AIJobImage, req.ProjectID, map[string]interface{}{
		"prompt":        ImagePrompt(req.Scene.VisualPrompt, req.Style),
		"aspect_ratio":  req.AspectRatio,
		"output_format": "jpg",
		"scene_id":      req.Scene.ID,
	})
	if err != nil {
		return "", err
	}
	key := ArtifactKey(req.ProjectID, fmt.Sprintf("scene_%d.jpg", req.Scene.ID))
	return g.AI.Transfer(ctx, g.Storage, result, key, "image/jpeg")
}
