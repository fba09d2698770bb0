package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Location is a region entry parsed from the booking page selector.
type Location struct {
	ID          int64
	RegionCode  string
	CountryCode string
	AreaName    string
}

// locationRe matches option text of the form "CODE-(CC) Area Name".
var locationRe = regexp.MustCompile(`^(.*)-\((.*)\) (.*)$`)

// Calendar scripts embed one pair of parallel arrays per month block.
var (
	monthArrayRe      = regexp.MustCompile(`var monthArray(\d+) = (\[.*?\]);`)
	monthPointArrayRe = regexp.MustCompile(`var monthPointArray(\d+) = (\[.*?\]);`)
)

// extractScriptVar returns the text between a variable assignment and the
// next semicolon, the way the portal embeds JSON inside inline scripts.
func extractScriptVar(text, variable string) (string, error) {
	i := strings.Index(text, variable)
	if i < 0 {
		return "", fmt.Errorf("variable %q not found", variable)
	}
	rest := text[i+len(variable):]
	j := strings.IndexByte(rest, ';')
	if j < 0 {
		return "", fmt.Errorf("unterminated assignment for %q", variable)
	}
	return rest[:j], nil
}

// extractNonce pulls the anti-forgery nonce out of the landing page's inline
// ajax_object script block. Extraction failure is a hard error; nothing else
// works without the nonce.
func extractNonce(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse landing page: %w", err)
	}

	text := doc.Find("#custom-js-extra").Text()
	if text == "" {
		return "", fmt.Errorf("security nonce script block not found")
	}

	raw, err := extractScriptVar(text, "var ajax_object =")
	if err != nil {
		return "", fmt.Errorf("security nonce: %w", err)
	}

	var ajaxObject struct {
		AjaxNonce string `json:"ajax_nonce"`
	}
	if err := json.Unmarshal([]byte(raw), &ajaxObject); err != nil {
		return "", fmt.Errorf("decode ajax_object: %w", err)
	}
	if ajaxObject.AjaxNonce == "" {
		return "", fmt.Errorf("ajax_object has empty nonce")
	}
	return ajaxObject.AjaxNonce, nil
}

// parseLocations reads the region selector options off the booking page.
// Options that do not match the expected "CODE-(CC) Name" shape are skipped.
func parseLocations(html []byte) ([]Location, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse booking page: %w", err)
	}

	var locations []Location
	doc.Find("#iris_region option").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" || text == "--Select Region--" {
			return
		}
		value, ok := sel.Attr("value")
		if !ok {
			return
		}
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return
		}
		m := locationRe.FindStringSubmatch(text)
		if m == nil {
			return
		}
		locations = append(locations, Location{
			ID:          id,
			RegionCode:  m[1],
			CountryCode: m[2],
			AreaName:    m[3],
		})
	})
	return locations, nil
}

// parseCalendarArrays scans every calendar script block for the embedded
// month arrays and concatenates them in encounter order. The variable appears
// once per rendered month, so order matters.
func parseCalendarArrays(html []byte) (avail []string, points []string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parse calendar page: %w", err)
	}

	var scanErr error
	doc.Find(".calendars script").Each(func(_ int, sel *goquery.Selection) {
		content := sel.Text()
		if content == "" {
			return
		}
		for _, m := range monthArrayRe.FindAllStringSubmatch(content, -1) {
			var block []string
			if err := json.Unmarshal([]byte(m[2]), &block); err != nil {
				scanErr = fmt.Errorf("decode monthArray%s: %w", m[1], err)
				return
			}
			avail = append(avail, block...)
		}
		for _, m := range monthPointArrayRe.FindAllStringSubmatch(content, -1) {
			var block []string
			if err := json.Unmarshal([]byte(m[2]), &block); err != nil {
				scanErr = fmt.Errorf("decode monthPointArray%s: %w", m[1], err)
				return
			}
			points = append(points, block...)
		}
	})
	if scanErr != nil {
		return nil, nil, scanErr
	}
	return avail, points, nil
}
