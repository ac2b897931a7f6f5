package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The bot marks currency amounts with this glyph.
const currencyGlyph = "⏣"

var (
	valueRe   = regexp.MustCompile(`⏣\s?([\d,]+)`)
	emojiRe   = regexp.MustCompile(`<(a?):(\w+):(\d+)>`)
	numRe     = regexp.MustCompile(`[\d,]+`)
	leadQtyRe = regexp.MustCompile(`(?i)^\d+\s*x\s*`)
	digitsRe  = regexp.MustCompile(`\d+`)
)

// Corrections is the rename/alias table applied to extracted item names.
type Corrections map[string]string

// Apply maps a raw name to its canonical form. Idempotent as long as no
// correction target is itself a correction key.
func (c Corrections) Apply(name string) string {
	if fixed, ok := c[name]; ok {
		return fixed
	}
	return name
}

// ValueUpdate is a parsed item-valuation announcement.
type ValueUpdate struct {
	Name    string
	Value   int64
	IconURL string
}

// TradeOffer is a parsed marketplace buy/sell announcement.
type TradeOffer struct {
	ExternalID   string
	Item         string
	PricePerUnit int64
	Quantity     int64
	IsSell       bool
}

// IsPrivate reports whether the trade took place in a private channel,
// derived from the external-ID prefix convention.
func (t *TradeOffer) IsPrivate() bool {
	return strings.HasPrefix(t.ExternalID, "PV")
}

// Parser turns normalized message content into records.
type Parser struct {
	corrections Corrections
}

// New creates a Parser with the given name-correction table.
func New(corrections Corrections) *Parser {
	return &Parser{corrections: corrections}
}

// ExtractValue pulls the currency amount out of a value field. When several
// marked amounts appear ("⏣ 100 → ⏣ 250") the last one is the current
// valuation. Returns false when no amount is present.
func ExtractValue(input string) (int64, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(input, "`", ""))
	matches := valueRe.FindAllStringSubmatch(cleaned, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1][1]
	v, err := strconv.ParseInt(strings.ReplaceAll(last, ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractName normalizes an item title: strips emphasis markers and
// custom-emoji tokens, trims, lowercases.
func ExtractName(input string) string {
	s := strings.ReplaceAll(input, "**", "")
	s = strings.ReplaceAll(s, "*", "")
	s = emojiRe.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}

// ExtractEmojiURL derives a CDN icon URL from the first custom-emoji token,
// or "" when the input carries none.
func ExtractEmojiURL(input string) string {
	m := emojiRe.FindStringSubmatch(input)
	if m == nil {
		return ""
	}
	ext := "webp"
	if m[1] == "a" {
		ext = "webp?animated=true"
	}
	return fmt.Sprintf("https://cdn.discordapp.com/emojis/%s.%s", m[3], ext)
}

// ValueUpdate parses a value-update message from its title and value field.
// Returns nil when the message is not a parseable valuation.
func (p *Parser) ValueUpdate(title, body string) *ValueUpdate {
	name := ExtractName(title)
	if name == "" {
		return nil
	}
	name = p.corrections.Apply(name)

	value, ok := ExtractValue(body)
	if !ok {
		return nil
	}
	return &ValueUpdate{
		Name:    name,
		Value:   value,
		IconURL: ExtractEmojiURL(title),
	}
}

// itemName normalizes one side of a trade line into an item name: commas,
// a leading "<n> x " quantity, emoji tokens, emphasis, and stray digits all
// go away.
func itemName(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = leadQtyRe.ReplaceAllString(s, "")
	s = emojiRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "*", "")
	s = digitsRe.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}

// firstNumber extracts the first comma-grouped integer in s, or 0.
func firstNumber(s string) int64 {
	m := numRe.FindString(s)
	if m == "" {
		return 0
	}
	v, _ := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
	return v
}

func hasExplicitVPU(desc string) bool {
	return strings.Contains(strings.ToLower(desc), "value per unit")
}

func isPetTrade(desc string) bool {
	lower := strings.ToLower(desc)
	return strings.Contains(lower, " pet *for*") || strings.Contains(lower, " pet (")
}

// TradeOffer parses a trade-offer message. title decides the side, desc is
// the full multi-line embed description, footer carries the external trade ID
// behind a fixed 4-character prefix. Returns nil for anything that is not a
// complete, priceable item trade.
func (p *Parser) TradeOffer(title, desc, footer string) *TradeOffer {
	lowerTitle := strings.ToLower(title)
	var isSell bool
	switch {
	case strings.Contains(lowerTitle, "sell offer"):
		isSell = true
	case strings.Contains(lowerTitle, "buy offer"):
		isSell = false
	default:
		return nil
	}

	if desc == "" || isPetTrade(desc) {
		return nil
	}

	lines := strings.Split(desc, "\n")
	first := lines[0]
	segments := strings.Split(first, "*for*")
	if len(segments) < 2 {
		return nil
	}

	// Which side of *for* names the item: when the currency glyph marks one
	// side, the item is the other; otherwise the offer type decides
	// (buy offers list the item on the right, sell offers on the left).
	itemSide := 0
	if !isSell {
		itemSide = 1
	}
	currencyTrade := strings.Contains(first, currencyGlyph)
	if currencyTrade {
		if strings.Contains(segments[0], currencyGlyph) {
			itemSide = 1
		} else {
			itemSide = 0
		}
	}
	otherSide := 1 - itemSide

	item := p.corrections.Apply(itemName(segments[itemSide]))
	quantity := firstNumber(segments[itemSide])

	var pricePerUnit int64
	switch {
	case hasExplicitVPU(desc):
		if len(lines) > 2 {
			pricePerUnit = firstNumber(lines[2])
		}
	case currencyTrade:
		total := firstNumber(segments[otherSide])
		if quantity > 0 {
			pricePerUnit = int64(math.Round(float64(total) / float64(quantity)))
		}
	default:
		// Item-for-item trade without a stated value per unit: unpriceable.
		return nil
	}

	externalID := ""
	if len(footer) > 4 {
		externalID = footer[4:]
	}

	if item == "" || item == currencyGlyph || quantity <= 0 || pricePerUnit <= 0 || externalID == "" {
		return nil
	}
	return &TradeOffer{
		ExternalID:   externalID,
		Item:         item,
		PricePerUnit: pricePerUnit,
		Quantity:     quantity,
		IsSell:       isSell,
	}
}
