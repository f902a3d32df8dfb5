// Package rules rewrites answer text with deterministic substitutions
// before it is sent to the interviewer.
//
// A rules file holds one rule per line:
//
//	# comment
//	gonna => going to
//	s/\bk8s\b/Kubernetes/g
//	drop: um, uh, you know
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrNotConverged is returned when rules keep rewriting each other past the
// iteration limit.
var ErrNotConverged = errors.New("answer rules did not converge")

const defaultIterationLimit = 30

var (
	spaceRun        = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunc = regexp.MustCompile(`\s+([,.;:!?])`)
	doublePunc      = regexp.MustCompile(`([,;:])\s*([,;:.!?])`)
)

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Engine applies answer rules until the text stops changing.
type Engine struct {
	rules          []compiledRule
	iterationLimit int
}

// NewEngine loads rules from path. A missing file yields an engine that
// only normalizes whitespace.
func NewEngine(path string, iterationLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, iterationLimit, defaultRuleParsers())
}

// NewEngineWithParsers allows parser extension without engine changes.
func NewEngineWithParsers(path string, iterationLimit int, parsers []RuleParser) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return newEngine(nil, iterationLimit), nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newEngine(nil, iterationLimit), nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	engine, err := Parse(string(contents), iterationLimit, parsers...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return engine, nil
}

// Parse compiles rules from text. Without parsers the built-in ones are
// used.
func Parse(contents string, iterationLimit int, parsers ...RuleParser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}
	rules, err := parseRules(contents, parsers)
	if err != nil {
		return nil, err
	}
	return newEngine(rules, iterationLimit), nil
}

func newEngine(rules []compiledRule, iterationLimit int) *Engine {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	return &Engine{rules: rules, iterationLimit: iterationLimit}
}

// Len is the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply rewrites text. The result has runs of spaces collapsed and no
// space before punctuation.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	stable := len(e.rules) == 0
	for i := 0; i < e.iterationLimit && !stable; i++ {
		stable = true
		for _, rule := range e.rules {
			if next, changed := rule.Apply(result); changed {
				result = next
				stable = false
			}
		}
	}
	if !stable {
		return tidy(result), fmt.Errorf("%w after %d passes", ErrNotConverged, e.iterationLimit)
	}
	return tidy(result), nil
}

func tidy(text string) string {
	text = spaceRun.ReplaceAllString(text, " ")
	text = spaceBeforePunc.ReplaceAllString(text, "$1")
	text = doublePunc.ReplaceAllString(text, "$2")
	text = strings.TrimLeft(text, " ,;:")
	return strings.TrimSpace(text)
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]compiledRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return rules, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{dropRuleParser{}, regexRuleParser{}, literalRuleParser{}}
}

type literalRuleParser struct{}

func (literalRuleParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalRuleParser) Parse(line string) (compiledRule, error) {
	return parseLiteralRule(line)
}

type regexRuleParser struct{}

func (regexRuleParser) CanParse(line string) bool {
	return looksLikeRegexRule(line)
}

func (regexRuleParser) Parse(line string) (compiledRule, error) {
	return parseRegexRule(line)
}

type dropRuleParser struct{}

func (dropRuleParser) CanParse(line string) bool {
	return strings.HasPrefix(strings.ToLower(line), "drop:")
}

func (dropRuleParser) Parse(line string) (compiledRule, error) {
	return parseDropRule(line)
}

// literalRule replaces a phrase case-insensitively, matching whole words
// at the phrase's word edges.
type literalRule struct {
	replacement string
	re          *regexp.Regexp
}

func parseLiteralRule(line string) (compiledRule, error) {
	parts := strings.SplitN(line, "=>", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid literal rule")
	}
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + wordBounded(regexp.QuoteMeta(from), from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}

	return literalRule{replacement: to, re: re}, nil
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

// dropRule deletes filler words and phrases.
type dropRule struct {
	re *regexp.Regexp
}

func parseDropRule(line string) (compiledRule, error) {
	list := strings.TrimSpace(line[len("drop:"):])
	if list == "" {
		return nil, errors.New("drop rule needs at least one word")
	}

	var alternatives []string
	for _, word := range strings.Split(list, ",") {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		alternatives = append(alternatives, wordBounded(regexp.QuoteMeta(word), word))
	}
	if len(alternatives) == 0 {
		return nil, errors.New("drop rule needs at least one word")
	}

	re, err := regexp.Compile(`(?i)(?:` + strings.Join(alternatives, "|") + `),?`)
	if err != nil {
		return nil, fmt.Errorf("invalid drop rule: %w", err)
	}
	return dropRule{re: re}, nil
}

func (r dropRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllString(input, "")
	return output, output != input
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseRegexRule(line string) (compiledRule, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isAlphaNumericOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	prefixFlags := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(prefixFlags, flag) {
				prefixFlags += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefixFlags + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}

	return regexRule{re: re, replacement: replacement, global: global}, nil
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}

	var expanded []byte
	expanded = r.re.ExpandString(expanded, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			if index+1 < len(line) && line[index+1] == delim {
				continue
			}
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

// wordBounded wraps quoted in \b where raw starts or ends with a word
// character.
func wordBounded(quoted, raw string) string {
	if raw == "" {
		return quoted
	}
	if isWordByte(raw[0]) {
		quoted = `\b` + quoted
	}
	if isWordByte(raw[len(raw)-1]) {
		quoted += `\b`
	}
	return quoted
}

func isWordByte(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '_'
}

func isAlphaNumericOrSpace(char byte) bool {
	return isWordByte(char) && char != '_' || char == ' ' || char == '\t'
}

func looksLikeRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isAlphaNumericOrSpace(line[1])
}
