package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/arpitpandey/jobagent/internal/ai"
	"github.com/arpitpandey/jobagent/internal/logger"
	"github.com/arpitpandey/jobagent/internal/utils"
)

//go:embed prompt.md
var letterTemplate string

const defaultMaxLogLength = 200

// contentGenerator is the slice of Client the letter writer depends on.
type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// LetterWriter generates cover letters with Gemini and persists them under
// a configured directory, returning the file path.
type LetterWriter struct {
	generator contentGenerator
	logger    *zap.Logger
	outputDir string
	maxLogLen int
}

func NewLetterWriter(generator contentGenerator, log *zap.Logger, outputDir string, maxLogLength int) *LetterWriter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &LetterWriter{
		generator: generator,
		logger:    logger.WithCommonFields(log, Provider, generator.Model()),
		outputDir: outputDir,
		maxLogLen: maxLogLength,
	}
}

// Generate builds the prompt from the match context, asks Gemini for the
// letter and writes it to disk.
func (w *LetterWriter) Generate(ctx context.Context, req ai.LetterRequest) (string, error) {
	if req.Profile == nil {
		return "", fmt.Errorf("profile is required")
	}
	if req.Posting == nil {
		return "", fmt.Errorf("posting is required")
	}

	profileJSON, err := json.MarshalIndent(req.Profile, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal profile payload: %w", err)
	}

	postingJSON, err := json.MarshalIndent(req.Posting, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal posting payload: %w", err)
	}

	prompt := buildLetterPrompt(string(profileJSON), string(postingJSON), req.Explanation)

	w.logger.Debug("gemini letter request",
		zap.String("fingerprint", req.Posting.Fingerprint),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, w.maxLogLen)),
	)

	letter, err := w.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return "", err
	}

	w.logger.Debug("gemini letter response",
		zap.String("fingerprint", req.Posting.Fingerprint),
		zap.Int("response_length", utf8.RuneCountInString(letter)),
		zap.String("response_preview", utils.TruncateForLog(letter, w.maxLogLen)),
	)

	path, err := w.save(req, letter)
	if err != nil {
		return "", err
	}

	return path, nil
}

func (w *LetterWriter) save(req ai.LetterRequest, letter string) (string, error) {
	if err := os.MkdirAll(w.outputDir, 0o750); err != nil {
		return "", fmt.Errorf("create letters dir %q: %w", w.outputDir, err)
	}

	name := fmt.Sprintf("cover_letter_%s_%s.txt",
		sanitizeFilename(req.Posting.Company),
		shortFingerprint(req.Posting.Fingerprint),
	)
	path := filepath.Join(w.outputDir, name)

	if err := os.WriteFile(path, []byte(letter+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("write cover letter %q: %w", path, err)
	}

	return path, nil
}

func buildLetterPrompt(profileJSON, postingJSON, matchContext string) string {
	template := letterTemplate
	if strings.TrimSpace(template) == "" {
		template = "Candidate:\n{{PROFILE_JSON}}\n\nJob:\n{{POSTING_JSON}}\n\nContext:\n{{MATCH_CONTEXT}}\n\nLetter:"
	}

	if strings.TrimSpace(matchContext) == "" {
		matchContext = "none"
	}

	prompt := strings.ReplaceAll(template, "{{PROFILE_JSON}}", profileJSON)
	prompt = strings.ReplaceAll(prompt, "{{POSTING_JSON}}", postingJSON)
	prompt = strings.ReplaceAll(prompt, "{{MATCH_CONTEXT}}", matchContext)
	return prompt
}

func sanitizeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "company"
	}
	return b.String()
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
