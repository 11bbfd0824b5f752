package service

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const enhanceSystemPrompt = `You are a prompt enhancement specialist. Take the user's website request and expand it into a detailed, comprehensive prompt that will help create the best possible website.

Enhance this prompt by:
1. Adding specific design details (layout, color scheme, typography)
2. Specifying key sections and features
3. Describing the user experience and interactions
4. Including modern web design best practices
5. Mentioning responsive design requirements
6. Adding any missing but important elements

Return ONLY the enhanced prompt, nothing else.`

const codeSystemPrompt = `You are an expert web developer.

CRITICAL REQUIREMENTS:
- Return ONLY valid HTML
- Use Tailwind CSS for ALL styling
- Include <script src="https://cdn.jsdelivr.net/npm/@tailwindcss/browser@4"></script> in <head>
- Include all JS inside <script> before </body>
- No markdown, no explanations, no comments
- Output must be a complete standalone HTML document`

const revisionEnhanceSystemPrompt = `You are a prompt enhancement specialist. The user wants to make changes to their website. Turn their request into a clear, specific instruction for a web developer.

Enhance the request by:
1. Naming exactly which sections or elements should change
2. Describing the desired design details (layout, colors, typography, spacing)
3. Keeping everything the user did not ask to change intact
4. Preserving responsive behavior

Return ONLY the enhanced request, nothing else.`

const revisionSystemPrompt = `You are an expert web developer. You will receive the current HTML of a website and a change request.

CRITICAL REQUIREMENTS:
- Apply the requested changes and keep everything else as it is
- Return ONLY the complete updated HTML document
- Use Tailwind CSS for ALL styling
- Keep <script src="https://cdn.jsdelivr.net/npm/@tailwindcss/browser@4"></script> in <head>
- Include all JS inside <script> before </body>
- No markdown, no explanations, no comments`

const (
	msgEnhancedFormat     = `I've enhanced your prompt to: "%s"`
	msgGenerating         = "now generating your website..."
	msgRevising           = "Now making changes to your website..."
	msgGenerationFailed   = "Unable to generate the code, please try again"
	msgCreated            = "I've created your website! You can preview it and request changes."
	msgRevised            = "I've made the changes to your website! You can now preview it"
	msgRolledBack         = "I've rolled back your website to selected version. You can now preview it"
	initialVersionLabel   = "initial version"
	revisionVersionFormat = "Changes made: %s"
)

const (
	maxProjectName   = 50
	truncatedNameLen = 47
)

var (
	fenceOpen  = regexp.MustCompile("(?i)```[a-z]*\n?")
	fenceClose = regexp.MustCompile("```$")
)

// CleanDocument strips markdown code fences a model may wrap around the HTML.
func CleanDocument(raw string) string {
	out := fenceOpen.ReplaceAllString(raw, "")
	out = fenceClose.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// ProjectName derives a display name from the first prompt.
func ProjectName(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= maxProjectName {
		return prompt
	}
	return string(runes[:truncatedNameLen]) + "..."
}

// truncateRunes keeps at most n characters without splitting a multi-byte sequence.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func revisionUserMessage(currentCode, request string) string {
	var b strings.Builder
	b.WriteString("Current website code:\n")
	b.WriteString(currentCode)
	b.WriteString("\n\nChange request:\n")
	b.WriteString(request)
	return b.String()
}
