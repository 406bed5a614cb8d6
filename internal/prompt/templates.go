// Package prompt holds every user-visible and model-visible text template as
// data. Wording changes are config edits, not code changes: the pipeline
// logic stays singular and testable independent of phrasing.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"doubtbot/internal/domain"

	"gopkg.in/yaml.v3"
)

// Templates is the full template set. Any field left empty in the YAML file
// keeps its built-in default.
type Templates struct {
	// Preamble is the static system instruction sent ahead of every doubt.
	Preamble string `yaml:"preamble"`

	// TextDirective and ImageDirective are appended to the resolved
	// instruction; each must contain exactly one %s for the instruction text.
	TextDirective  string `yaml:"text_directive"`
	ImageDirective string `yaml:"image_directive"`

	// Labels for the response dispatcher. PartLabel must contain %d.
	SolutionLabel      string `yaml:"solution_label"`
	SolutionFirstLabel string `yaml:"solution_first_label"`
	PartLabel          string `yaml:"part_label"`

	// Bilingual user-facing failure texts.
	Usage                   string `yaml:"usage"`
	MissingImageInstruction string `yaml:"missing_image_instruction"`
	Malformed               string `yaml:"malformed"`
	UpstreamFailure         string `yaml:"upstream_failure"`

	// Greeting and help texts for the /start and /help triggers.
	Start string `yaml:"start"`
	Help  string `yaml:"help"`
}

// Defaults returns the built-in template set.
func Defaults() *Templates {
	return &Templates{
		Preamble: `You are an HSC (Higher Secondary Certificate) doubt solver for Bangladesh students.

RESPONSE RULES:
1. Detect language: Respond in Bangla if question is in Bangla, English if in English
2. Be precise and concise - no unnecessary explanations
3. For math: Show key steps only, not every minor calculation
4. For theory: Give direct answers with main points
5. If image has marked/circled portions, focus on those
6. Reference HSC textbook concepts when relevant
7. Format: Use short paragraphs, bullet points for lists
8. If question specifies "Q no X", solve only that question

ANSWER STRUCTURE:
- Direct answer first
- Brief explanation (2-3 lines max)
- Key steps if needed
- Done

Keep it SHORT and CLEAR. Students want quick help, not essays.`,

		TextDirective:  "\n\nStudent's Question: %s\n\nProvide a precise solution.",
		ImageDirective: "\n\nStudent's instruction: %s\n\nAnalyze the image and provide a precise solution. Pay attention to any marked or circled portions.",

		SolutionLabel:      "📚 Solution:",
		SolutionFirstLabel: "📚 Solution (Part 1):",
		PartLabel:          "Part %d:",

		Usage: "⚠️ Usage:\n\n" +
			"For text questions:\n`/doubt solve x² + 5x + 6 = 0`\n\n" +
			"For image questions, send the image with a caption:\n`/doubt solve Q no 5`\n`/doubt explain this`\n\n" +
			"প্রশ্ন লিখে অথবা ছবির সাথে নির্দেশনা দিয়ে পাঠান।",
		MissingImageInstruction: "⚠️ Please provide an instruction with the image!\n" +
			"ছবির সাথে নির্দেশনা লিখে পাঠান!\n\n" +
			"Examples:\n`/doubt solve Q no 5`\n`/doubt explain this`\n`/doubt solve all`",
		Malformed: "⚠️ I couldn't understand that message. Send one photo together with your instruction.\n" +
			"বার্তাটি বোঝা যায়নি। ছবি ও নির্দেশনা একসাথে পাঠান।",
		UpstreamFailure: "❌ Sorry, an error occurred. Please try again.\n" +
			"দুঃখিত, একটি সমস্যা হয়েছে। অনুগ্রহ করে আবার চেষ্টা করুন।",

		Start: "🎓 HSC Doubt Solver Bot\n\n" +
			"I'll help you solve your HSC questions quickly!\n\n" +
			"How to use:\n\n" +
			"📝 Text question:\n`/doubt solve x² + 5x + 6 = 0`\n\n" +
			"📸 Image question — send an image with a caption:\n`/doubt solve Q no 5`\n`/doubt explain this diagram`\n\n" +
			"Works in groups, supports Bangla & English.\n\nType /help for more info!",
		Help: "🆘 Help - HSC Doubt Solver\n\n" +
			"Commands:\n/start - Start the bot\n/doubt - Ask a question\n/help - Show this help\n\n" +
			"1. Text questions:\n`/doubt solve x² + 5x + 6 = 0`\n\n" +
			"2. Image questions — send an image with a caption:\n`/doubt solve Q no 5`\n\n" +
			"3. Reply to an image with:\n`/doubt solve Q no 3`\n\n" +
			"Tips:\n• Be specific (e.g. \"Q no 5\" instead of \"this\")\n• Circle or mark the part you need\n• Ask in Bangla or English - both work!",
	}
}

// Load reads a YAML template file and overlays it on the defaults. A missing
// file is not an error: the defaults are returned unchanged.
func Load(path string, logger *slog.Logger) (*Templates, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("template file does not exist, using defaults", "path", path)
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("templates %s: %w", path, err)
	}

	logger.Info("templates loaded", "path", path)
	return t, nil
}

// Validate checks the placeholder contracts the pipeline relies on.
func (t *Templates) Validate() error {
	var errs []string
	if !strings.Contains(t.TextDirective, "%s") {
		errs = append(errs, "text_directive must contain %s")
	}
	if !strings.Contains(t.ImageDirective, "%s") {
		errs = append(errs, "image_directive must contain %s")
	}
	if !strings.Contains(t.PartLabel, "%d") {
		errs = append(errs, "part_label must contain %d")
	}
	if strings.TrimSpace(t.Preamble) == "" {
		errs = append(errs, "preamble must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid templates:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ErrorText returns the user-facing text for an error kind. The per-photo
// missing-instruction wording is used when the failed event involved an image.
func (t *Templates) ErrorText(kind domain.ErrorKind, image bool) string {
	switch kind {
	case domain.ErrMissingInstruction:
		if image {
			return t.MissingImageInstruction
		}
		return t.Usage
	case domain.ErrMalformedEvent:
		return t.Malformed
	default:
		return t.UpstreamFailure
	}
}
