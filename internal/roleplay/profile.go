package roleplay

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/surveyor-ai/surveyor/internal/memory"
)

// CharacterProfile is the bot's persona definition, stored as JSON on the
// model config.
type CharacterProfile struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Personality     string   `json:"personality,omitempty"`
	Scenario        string   `json:"scenario,omitempty"`
	MessageExamples []string `json:"message_examples,omitempty"`
	DepthPrompt     *struct {
		Content string `json:"content"`
		Depth   int    `json:"depth"`
		Role    string `json:"role,omitempty"`
	} `json:"depth_prompt,omitempty"`
	Persona      string        `json:"persona,omitempty"`
	AuthorNote   string        `json:"author_note,omitempty"`
	WorldBooks   []Book        `json:"world_books,omitempty"`
	RegexScripts []RegexScript `json:"regex_scripts,omitempty"`
}

// ParseProfile decodes a stored character profile.
func ParseProfile(raw json.RawMessage) (*CharacterProfile, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty character profile")
	}
	var p CharacterProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse character profile: %w", err)
	}
	return &p, nil
}

// RegexScript rewrites activated content. Placement limits which segments it
// touches; depth bounds limit which history positions.
type RegexScript struct {
	Name        string   `json:"name,omitempty"`
	Find        string   `json:"find"`
	Replace     string   `json:"replace"`
	TrimStrings []string `json:"trim_strings,omitempty"`
	Placement   []string `json:"placement,omitempty"` // world_info, history, examples
	MinDepth    int      `json:"min_depth,omitempty"`
	MaxDepth    int      `json:"max_depth,omitempty"`
	Enabled     bool     `json:"enabled"`
}

func (r RegexScript) appliesTo(placement string) bool {
	if !r.Enabled || r.Find == "" {
		return false
	}
	if len(r.Placement) == 0 {
		return true
	}
	for _, p := range r.Placement {
		if p == placement {
			return true
		}
	}
	return false
}

// Apply runs the script over text. Group references use $1 syntax. An invalid
// pattern leaves the text unchanged.
func (r RegexScript) Apply(text string) string {
	re, err := regexp.Compile(r.Find)
	if err != nil {
		return text
	}
	out := re.ReplaceAllString(text, r.Replace)
	for _, trim := range r.TrimStrings {
		out = strings.ReplaceAll(out, trim, "")
	}
	return out
}

func applyScripts(scripts []RegexScript, placement, text string) string {
	for _, s := range scripts {
		if s.appliesTo(placement) {
			text = s.Apply(text)
		}
	}
	return text
}

// Composer turns a profile plus scan results into assembler inputs.
type Composer struct {
	Profile *CharacterProfile
	Scanner *Scanner
}

func NewComposer(p *CharacterProfile) *Composer {
	return &Composer{Profile: p, Scanner: &Scanner{Books: p.WorldBooks}}
}

// Compose evaluates world-info against the history buffer and distributes
// profile and entry content to their anchors. The effects map is mutated and
// must be written back to the conversation's chat metadata by the caller.
func (c *Composer) Compose(history []string, effects *TimedEffects, numCtx int, userName string) memory.Input {
	p := c.Profile
	vars := map[string]string{"char": p.Name, "user": userName}

	acts := c.Scanner.Scan(history, effects, numCtx)

	var before, after, anTop, anBottom, emTop, emBottom []string
	var atDepth []memory.DepthInjection
	for _, a := range acts {
		content := applyScripts(p.RegexScripts, "world_info", memory.SubstituteVariables(a.Entry.Content, vars))
		switch a.Entry.Position {
		case PosAfter:
			after = append(after, content)
		case PosANTop:
			anTop = append(anTop, content)
		case PosANBottom:
			anBottom = append(anBottom, content)
		case PosEMTop:
			emTop = append(emTop, content)
		case PosEMBottom:
			emBottom = append(emBottom, content)
		case PosAtDepth:
			atDepth = append(atDepth, memory.DepthInjection{
				Depth: a.Entry.Depth, Role: a.Entry.Role, Content: content,
			})
		default:
			before = append(before, content)
		}
	}

	var beforeSystem []string
	beforeSystem = append(beforeSystem, before...)

	var afterSystem []string
	if p.Description != "" {
		afterSystem = append(afterSystem, memory.SubstituteVariables(p.Description, vars))
	}
	if p.Personality != "" {
		afterSystem = append(afterSystem, fmt.Sprintf("%s's personality: %s", p.Name, memory.SubstituteVariables(p.Personality, vars)))
	}
	if p.Scenario != "" {
		afterSystem = append(afterSystem, "Scenario: "+memory.SubstituteVariables(p.Scenario, vars))
	}
	if p.Persona != "" {
		afterSystem = append(afterSystem, memory.SubstituteVariables(p.Persona, vars))
	}
	afterSystem = append(afterSystem, after...)

	if block := c.exampleBlock(emTop, emBottom, vars); block != "" {
		afterSystem = append(afterSystem, block)
	}
	if note := c.authorNote(anTop, anBottom, vars); note != "" {
		afterSystem = append(afterSystem, note)
	}
	if p.DepthPrompt != nil && p.DepthPrompt.Content != "" {
		atDepth = append(atDepth, memory.DepthInjection{
			Depth:   p.DepthPrompt.Depth,
			Role:    p.DepthPrompt.Role,
			Content: memory.SubstituteVariables(p.DepthPrompt.Content, vars),
		})
	}

	return memory.Input{
		Variables:    vars,
		BeforeSystem: beforeSystem,
		AfterSystem:  afterSystem,
		AtDepth:      atDepth,
	}
}

// exampleBlock merges message examples with entry content anchored around
// them.
func (c *Composer) exampleBlock(top, bottom []string, vars map[string]string) string {
	var parts []string
	parts = append(parts, top...)
	for _, ex := range c.Profile.MessageExamples {
		ex = applyScripts(c.Profile.RegexScripts, "examples", memory.SubstituteVariables(ex, vars))
		parts = append(parts, ex)
	}
	parts = append(parts, bottom...)
	if len(parts) == 0 {
		return ""
	}
	return "Example dialogue:\n" + strings.Join(parts, "\n<START>\n")
}

func (c *Composer) authorNote(top, bottom []string, vars map[string]string) string {
	var parts []string
	parts = append(parts, top...)
	if c.Profile.AuthorNote != "" {
		parts = append(parts, memory.SubstituteVariables(c.Profile.AuthorNote, vars))
	}
	parts = append(parts, bottom...)
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n")
}

// Concatenate renders the composed input as a single generate-mode prompt.
func Concatenate(in memory.Input, history []string, query string) string {
	var b strings.Builder
	for _, s := range in.BeforeSystem {
		b.WriteString(s)
		b.WriteString("\n")
	}
	if in.SystemPrompt != "" {
		b.WriteString(memory.SubstituteVariables(in.SystemPrompt, in.Variables))
		b.WriteString("\n")
	}
	for _, s := range in.AfterSystem {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("\n***\n")
	for _, h := range history {
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString(query)
	return b.String()
}
