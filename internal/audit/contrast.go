package audit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/browser"
	"github.com/sitewarden/sitewarden/internal/scan"
)

// Contrast thresholds per WCAG: interactive elements tolerate 3.0, text on
// non-interactive elements needs 4.5.
const (
	interactiveThreshold    = 3.0
	nonInteractiveThreshold = 4.5
)

// RGB is one sRGB color.
type RGB struct {
	R, G, B uint8
}

// Hex renders the color as a 6-digit lowercase hex string.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// elementColor is the computed style sample the in-page script returns for
// one visible element.
type elementColor struct {
	Selector    string `json:"selector"`
	Tag         string `json:"tag"`
	Foreground  string `json:"fg"`
	Background  string `json:"bg"`
	Interactive bool   `json:"interactive"`
}

// ContrastIssue flags one element whose brand-colored pairing falls below
// its threshold.
type ContrastIssue struct {
	Selector    string  `json:"selector"`
	Tag         string  `json:"tag"`
	BrandColor  string  `json:"brandColor"`
	Foreground  string  `json:"foreground"`
	Background  string  `json:"background"`
	Ratio       float64 `json:"ratio"`
	Threshold   float64 `json:"threshold"`
	Interactive bool    `json:"interactive"`
}

// DualUseFlag marks a brand color used on both interactive and
// non-interactive elements, an ambiguous affordance signal.
type DualUseFlag struct {
	BrandColor          string `json:"brandColor"`
	InteractiveCount    int    `json:"interactiveCount"`
	NonInteractiveCount int    `json:"nonInteractiveCount"`
}

// ContrastResult is the brand color audit payload.
type ContrastResult struct {
	BrandColors     []string        `json:"brandColors"`
	ElementsChecked int             `json:"elementsChecked"`
	Issues          []ContrastIssue `json:"issues"`
	DualUse         []DualUseFlag   `json:"dualUse"`
}

// collectColorsScript samples computed foreground/background colors of
// visible elements inside the page's own rendering context.
const collectColorsScript = `(() => {
	const interactiveTags = new Set(["a", "button", "input", "select", "textarea", "summary"]);
	const out = [];
	const all = document.querySelectorAll("body *");
	for (let i = 0; i < all.length && out.length < 2000; i++) {
		const el = all[i];
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden" || el.offsetParent === null) {
			continue;
		}
		const tag = el.tagName.toLowerCase();
		const interactive = interactiveTags.has(tag) ||
			el.hasAttribute("onclick") ||
			el.getAttribute("role") === "button" ||
			el.getAttribute("role") === "link";
		let selector = tag;
		if (el.id) { selector += "#" + el.id; }
		else if (el.className && typeof el.className === "string") {
			selector += "." + el.className.trim().split(/\s+/).slice(0, 2).join(".");
		}
		out.push({
			selector: selector,
			tag: tag,
			fg: style.color,
			bg: style.backgroundColor,
			interactive: interactive
		});
	}
	return out;
})()`

// ContrastAuditor evaluates brand color usage against WCAG contrast.
type ContrastAuditor struct {
	logger *zap.Logger
}

// NewContrastAuditor creates a ContrastAuditor.
func NewContrastAuditor(logger *zap.Logger) *ContrastAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContrastAuditor{logger: logger}
}

// Kind returns the audit kind this auditor produces.
func (c *ContrastAuditor) Kind() scan.AuditKind { return scan.KindBrandContrast }

// Run samples the page's computed colors and evaluates them against the
// requested brand palette.
func (c *ContrastAuditor) Run(ctx context.Context, session *browser.Session, req scan.Request) (any, error) {
	runCtx, cancel := context.WithTimeout(session.Context(), 20*time.Second)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var elements []elementColor
	if err := chromedp.Run(runCtx,
		chromedp.Evaluate(collectColorsScript, &elements),
	); err != nil {
		return nil, fmt.Errorf("collect element colors: %w", err)
	}

	brand := make([]RGB, 0, len(req.BrandColors))
	for _, raw := range req.BrandColors {
		color, err := ParseHex(raw)
		if err != nil {
			return nil, err
		}
		brand = append(brand, color)
	}

	result := EvaluateContrast(elements, brand)
	return &result, nil
}

// EvaluateContrast runs the pure contrast analysis over sampled elements.
func EvaluateContrast(elements []elementColor, brand []RGB) ContrastResult {
	result := ContrastResult{
		BrandColors:     make([]string, 0, len(brand)),
		ElementsChecked: len(elements),
		Issues:          []ContrastIssue{},
		DualUse:         []DualUseFlag{},
	}
	usage := make(map[string]*DualUseFlag, len(brand))
	for _, color := range brand {
		result.BrandColors = append(result.BrandColors, color.Hex())
	}

	for _, el := range elements {
		fg, fgOK := parseCSSColor(el.Foreground)
		bg, bgOK := parseCSSColor(el.Background)
		if !fgOK || !bgOK {
			continue
		}
		for _, color := range brand {
			if fg != color && bg != color {
				continue
			}

			flag := usage[color.Hex()]
			if flag == nil {
				flag = &DualUseFlag{BrandColor: color.Hex()}
				usage[color.Hex()] = flag
			}
			if el.Interactive {
				flag.InteractiveCount++
			} else {
				flag.NonInteractiveCount++
			}

			threshold := nonInteractiveThreshold
			if el.Interactive {
				threshold = interactiveThreshold
			}
			ratio := ContrastRatio(fg, bg)
			if ratio < threshold {
				result.Issues = append(result.Issues, ContrastIssue{
					Selector:    el.Selector,
					Tag:         el.Tag,
					BrandColor:  color.Hex(),
					Foreground:  fg.Hex(),
					Background:  bg.Hex(),
					Ratio:       round2(ratio),
					Threshold:   threshold,
					Interactive: el.Interactive,
				})
			}
		}
	}

	for _, color := range brand {
		flag := usage[color.Hex()]
		if flag != nil && flag.InteractiveCount > 0 && flag.NonInteractiveCount > 0 {
			result.DualUse = append(result.DualUse, *flag)
		}
	}
	return result
}

// ParseHex parses a 3- or 6-digit hex color, with or without the leading #.
func ParseHex(s string) (RGB, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(raw) {
	case 3:
		raw = string([]byte{raw[0], raw[0], raw[1], raw[1], raw[2], raw[2]})
	case 6:
	default:
		return RGB{}, &scan.ValidationError{Field: "brandColors", Message: "invalid hex color " + s}
	}
	value, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return RGB{}, &scan.ValidationError{Field: "brandColors", Message: "invalid hex color " + s}
	}
	return RGB{
		R: uint8(value >> 16),
		G: uint8(value >> 8),
		B: uint8(value),
	}, nil
}

// parseCSSColor parses the rgb()/rgba() strings computed styles produce.
// Fully transparent colors are skipped by returning false.
func parseCSSColor(s string) (RGB, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	var body string
	switch {
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		body = s[5 : len(s)-1]
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		body = s[4 : len(s)-1]
	default:
		if color, err := ParseHex(s); err == nil {
			return color, true
		}
		return RGB{}, false
	}

	parts := strings.Split(body, ",")
	if len(parts) < 3 {
		return RGB{}, false
	}
	channels := make([]uint8, 3)
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil || n < 0 || n > 255 {
			return RGB{}, false
		}
		channels[i] = uint8(n)
	}
	if len(parts) == 4 {
		alpha, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || alpha == 0 {
			return RGB{}, false
		}
	}
	return RGB{R: channels[0], G: channels[1], B: channels[2]}, true
}

// relativeLuminance applies the standard sRGB-to-linear gamma correction
// and channel weighting.
func relativeLuminance(c RGB) float64 {
	linear := func(channel uint8) float64 {
		v := float64(channel) / 255.0
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*linear(c.R) + 0.7152*linear(c.G) + 0.0722*linear(c.B)
}

// ContrastRatio returns the WCAG luminance-based ratio in [1, 21].
func ContrastRatio(a, b RGB) float64 {
	la := relativeLuminance(a)
	lb := relativeLuminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
