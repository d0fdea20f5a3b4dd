package contacts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoCards is returned when an import contains no vCard blocks.
var ErrNoCards = errors.New("no vCards found")

// ParseVCF parses every BEGIN:VCARD...END:VCARD block in content. Cards
// without a name or phone number are skipped; cards without a UID get one.
func ParseVCF(content string) ([]Contact, error) {
	blocks := splitVCards(content)
	if len(blocks) == 0 {
		return nil, ErrNoCards
	}

	out := make([]Contact, 0, len(blocks))
	for _, block := range blocks {
		c := parseCard(block)
		if c.Name == "" && len(c.Phones) == 0 {
			continue
		}
		if c.UID == "" {
			c.UID = uuid.NewString()
		}
		if c.Name == "" {
			c.Name = c.Phones[0].Number
		}
		out = append(out, c)
	}
	return out, nil
}

// splitVCards unfolds continuation lines and returns the lines of each card.
func splitVCards(content string) [][]string {
	unfolded := strings.ReplaceAll(content, "\r\n", "\n")
	unfolded = strings.ReplaceAll(unfolded, "\n ", "")
	unfolded = strings.ReplaceAll(unfolded, "\n\t", "")

	var (
		cards   [][]string
		current []string
		inCard  bool
	)
	for _, line := range strings.Split(unfolded, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch upper := strings.ToUpper(line); {
		case upper == "BEGIN:VCARD":
			inCard = true
			current = nil
		case upper == "END:VCARD":
			if inCard {
				cards = append(cards, current)
			}
			inCard = false
		case inCard:
			current = append(current, line)
		}
	}
	return cards
}

func parseCard(lines []string) Contact {
	var (
		c          Contact
		structured string
	)
	for _, line := range lines {
		name, params, value, ok := splitProperty(line)
		if !ok {
			continue
		}
		switch name {
		case "UID":
			c.UID = strings.TrimSpace(value)
		case "FN":
			c.Name = unescapeValue(value)
		case "N":
			structured = value
		case "ORG":
			c.Org = unescapeValue(strings.Split(value, ";")[0])
		case "X-STARRED":
			c.Starred = strings.EqualFold(strings.TrimSpace(value), "TRUE")
		case "EMAIL":
			if c.Email == "" {
				c.Email = strings.TrimSpace(value)
			}
		case "TEL":
			number := strings.TrimSpace(strings.TrimPrefix(value, "tel:"))
			if normalized := NormalizeNumber(number); normalized != "" {
				c.Phones = append(c.Phones, Phone{
					Number:     number,
					Label:      phoneLabel(params),
					Normalized: normalized,
				})
			}
		}
	}
	if c.Name == "" && structured != "" {
		c.Name = nameFromStructured(structured)
	}
	return c
}

// splitProperty splits "TEL;TYPE=CELL:+1 555" into its name, parameters
// and value. Group prefixes such as "item1." are dropped.
func splitProperty(line string) (name string, params []string, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", nil, "", false
	}
	parts := strings.Split(line[:idx], ";")
	name = strings.ToUpper(parts[0])
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		name = name[dot+1:]
	}
	return name, parts[1:], line[idx+1:], true
}

func phoneLabel(params []string) string {
	for _, p := range params {
		key, val, found := strings.Cut(p, "=")
		if !found {
			// vCard 2.1 style bare type, e.g. TEL;CELL:...
			val = key
		} else if !strings.EqualFold(key, "TYPE") {
			continue
		}
		for _, t := range strings.Split(val, ",") {
			switch t = strings.ToLower(strings.Trim(t, `"`)); t {
			case "cell", "mobile", "home", "work", "main", "fax", "pager", "iphone":
				return t
			}
		}
	}
	return ""
}

func nameFromStructured(n string) string {
	parts := strings.Split(n, ";")
	var fields []string
	// N: Last;First;Middle;Prefix;Suffix
	for _, i := range []int{3, 1, 2, 0, 4} {
		if i < len(parts) {
			if v := strings.TrimSpace(unescapeValue(parts[i])); v != "" {
				fields = append(fields, v)
			}
		}
	}
	return strings.Join(fields, " ")
}

// BuildVCard renders a contact as a vCard 3.0.
func BuildVCard(c Contact) string {
	var sb strings.Builder
	sb.WriteString("BEGIN:VCARD\r\n")
	sb.WriteString("VERSION:3.0\r\n")
	fmt.Fprintf(&sb, "UID:%s\r\n", c.UID)
	fmt.Fprintf(&sb, "FN:%s\r\n", escapeValue(c.Name))
	fmt.Fprintf(&sb, "N:%s;;;;\r\n", escapeValue(c.Name))
	if c.Org != "" {
		fmt.Fprintf(&sb, "ORG:%s\r\n", escapeValue(c.Org))
	}
	if c.Email != "" {
		fmt.Fprintf(&sb, "EMAIL;TYPE=INTERNET:%s\r\n", c.Email)
	}
	for _, p := range c.Phones {
		label := strings.ToUpper(p.Label)
		if label == "" {
			label = "VOICE"
		}
		fmt.Fprintf(&sb, "TEL;TYPE=%s:%s\r\n", label, p.Number)
	}
	if c.Starred {
		sb.WriteString("X-STARRED:TRUE\r\n")
	}
	fmt.Fprintf(&sb, "REV:%s\r\n", time.Now().UTC().Format("20060102T150405Z"))
	sb.WriteString("END:VCARD\r\n")
	return sb.String()
}

func escapeValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func unescapeValue(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\;`, ";", `\,`, ",", `\\`, `\`)
	return r.Replace(s)
}
