// Package prompts renders the essay grading prompts sent to the LLM.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxAnswerRunes = 10000

var answerTagRegex = regexp.MustCompile(`(?i)</?\s*(student-answer|system-instructions)\b[^>]*>`)

// PromptVariant selects how generous the grading prompt is.
type PromptVariant string

const (
	PromptStrict   PromptVariant = "strict"
	PromptStandard PromptVariant = "standard"
	PromptLenient  PromptVariant = "lenient"
)

var variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// EssayData holds template data for an essay grading prompt.
type EssayData struct {
	Question  string
	MaxPoints string
	Answer    string
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[PromptVariant]*template.Template, len(variants))
		for _, v := range variants {
			name := "templates/essay_" + string(v) + ".txt"
			tmpl, err := template.ParseFS(templateFS, name)
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// BuildEssayPrompt renders the grading prompt for one essay answer.
func BuildEssayPrompt(variant PromptVariant, question, answer string, maxPoints float64) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", fmt.Errorf("invalid prompt variant: %s", variant)
	}

	data := EssayData{
		Question:  strings.TrimSpace(question),
		MaxPoints: strconv.FormatFloat(maxPoints, 'f', -1, 64),
		Answer:    sanitizeAnswer(answer),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitizeAnswer strips tags a student could use to break out of the answer
// block and caps the answer length.
func sanitizeAnswer(answer string) string {
	answer = answerTagRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "[No answer provided]"
	}
	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
