package injection

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SplitMarkup lifts inline <style> and <script> blocks out of a popup's HTML
// and appends them to its CSS and JS. External scripts (with src) are left in
// the markup and later removed by the container sanitizer.
func SplitMarkup(c Content) (Content, error) {
	if strings.TrimSpace(c.HTML) == "" {
		return c, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(c.HTML))
	if err != nil {
		return c, err
	}

	css := []string{}
	if s := strings.TrimSpace(c.CSS); s != "" {
		css = append(css, s)
	}
	js := []string{}
	if s := strings.TrimSpace(c.JS); s != "" {
		js = append(js, s)
	}

	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		if s := strings.TrimSpace(sel.Text()); s != "" {
			css = append(css, s)
		}
		sel.Remove()
	})
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if _, external := sel.Attr("src"); external {
			return
		}
		if s := strings.TrimSpace(sel.Text()); s != "" {
			js = append(js, s)
		}
		sel.Remove()
	})

	body, err := doc.Find("body").Html()
	if err != nil {
		return c, err
	}
	c.HTML = strings.TrimSpace(body)
	c.CSS = strings.Join(css, "\n")
	c.JS = strings.Join(js, "\n")
	return c, nil
}
