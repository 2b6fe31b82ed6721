// Package parser encodes and decodes note files: a YAML frontmatter block
// followed by a blank line and the raw body.
package parser

import (
	"bytes"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
)

const delim = "---"

// Frontmatter is the metadata block of a note file.
type Frontmatter struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Tags      []string  `yaml:"tags"`
	Position  *int      `yaml:"position,omitempty"`
}

// Document is a decoded note file.
type Document struct {
	Meta           Frontmatter
	Body           string
	HasFrontmatter bool
}

// Encode renders a note as file content.
func Encode(n *models.Note) ([]byte, error) {
	fm := Frontmatter{
		ID:        n.ID,
		Title:     n.Title,
		CreatedAt: n.CreatedAt.UTC(),
		UpdatedAt: n.UpdatedAt.UTC(),
		Tags:      n.Tags,
		Position:  n.Position,
	}
	if fm.Tags == nil {
		fm.Tags = []string{}
	}

	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&fm); err != nil {
		return nil, apperr.EID(apperr.ErrSerialization, "encode frontmatter", n.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, apperr.EID(apperr.ErrSerialization, "encode frontmatter", n.ID, err)
	}
	buf.WriteString(delim + "\n\n")
	buf.WriteString(n.Content)
	return buf.Bytes(), nil
}

// Decode splits data into frontmatter and body. A file that does not open
// with a delimiter line, or never closes it, is returned whole as body with
// HasFrontmatter false. A block that is not valid YAML is an
// apperr.ErrSerialization.
func Decode(data []byte) (*Document, error) {
	s := string(data)
	open, ok := cutDelimLine(s)
	if !ok {
		return &Document{Body: s}, nil
	}

	block, rest, ok := splitClosing(open)
	if !ok {
		return &Document{Body: s}, nil
	}

	var fm Frontmatter
	if strings.TrimSpace(block) != "" {
		if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
			return nil, apperr.E(apperr.ErrSerialization, "decode frontmatter", err)
		}
	}
	fm.Tags = models.NormalizeTags(fm.Tags)
	fm.CreatedAt = fm.CreatedAt.UTC()
	fm.UpdatedAt = fm.UpdatedAt.UTC()

	body := rest
	switch {
	case strings.HasPrefix(body, "\r\n"):
		body = body[2:]
	case strings.HasPrefix(body, "\n"):
		body = body[1:]
	}
	return &Document{Meta: fm, Body: body, HasFrontmatter: true}, nil
}

// Note builds a note from a decoded document.
func (d *Document) Note() *models.Note {
	tags := d.Meta.Tags
	if tags == nil {
		tags = []string{}
	}
	return &models.Note{
		ID:        d.Meta.ID,
		Title:     d.Meta.Title,
		Content:   d.Body,
		CreatedAt: d.Meta.CreatedAt,
		UpdatedAt: d.Meta.UpdatedAt,
		Tags:      tags,
		Position:  d.Meta.Position,
	}
}

// LegacyTitle returns the text of the first heading in body when it is the
// first block of the document, otherwise fallback.
func LegacyTitle(body, fallback string) string {
	src := []byte(body)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	first := doc.FirstChild()
	if first == nil {
		return fallback
	}
	h, ok := first.(*ast.Heading)
	if !ok {
		return fallback
	}
	var b strings.Builder
	lines := h.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	title := strings.TrimSpace(b.String())
	if title == "" {
		return fallback
	}
	return title
}

func cutDelimLine(s string) (string, bool) {
	switch {
	case strings.HasPrefix(s, delim+"\n"):
		return s[len(delim)+1:], true
	case strings.HasPrefix(s, delim+"\r\n"):
		return s[len(delim)+2:], true
	}
	return "", false
}

// splitClosing finds the closing delimiter line in s and returns the YAML
// block before it and everything after it.
func splitClosing(s string) (block, rest string, ok bool) {
	pos := 0
	for pos <= len(s) {
		end := strings.IndexByte(s[pos:], '\n')
		var line string
		next := len(s)
		if end >= 0 {
			line = s[pos : pos+end]
			next = pos + end + 1
		} else {
			line = s[pos:]
		}
		if strings.TrimRight(line, "\r") == delim {
			return s[:pos], s[next:], true
		}
		if end < 0 {
			break
		}
		pos = next
	}
	return "", "", false
}
