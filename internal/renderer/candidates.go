package renderer

import (
	"net/url"

	"decalpress/internal/pipeline"
)

// rawCandidate is the per-element shape returned by the extraction script.
type rawCandidate struct {
	Src     string `json:"src"`
	DataSrc string `json:"dataSrc"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// source prefers the primary attribute over the lazy-load one. Empty means
// the element carries neither and is dropped.
func (c rawCandidate) source() string {
	if c.Src != "" {
		return c.Src
	}
	return c.DataSrc
}

// resolveCandidates filters raw elements by rendered size and resolves their
// sources to absolute URLs against the page URL. Elements below the minimum
// dimension on either axis (tracking pixels, icons) and elements without a
// usable source attribute are dropped, never errors.
func resolveCandidates(pageURL string, raw []rawCandidate, minDimension int) ([]pipeline.ImageCandidate, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	out := make([]pipeline.ImageCandidate, 0, len(raw))
	for _, c := range raw {
		if c.Width <= minDimension || c.Height <= minDimension {
			continue
		}
		src := c.source()
		if src == "" {
			continue
		}
		ref, err := url.Parse(src)
		if err != nil {
			continue
		}
		out = append(out, pipeline.ImageCandidate{
			URL:    base.ResolveReference(ref).String(),
			Width:  c.Width,
			Height: c.Height,
		})
	}
	return out, nil
}
