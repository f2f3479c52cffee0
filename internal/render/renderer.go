// Package render writes telemetry records into the page document.
package render

import (
	"fmt"
	"time"

	"tankview/internal/dom"
	"tankview/internal/model"
)

type Renderer struct {
	doc *dom.Document
	loc *time.Location
}

type Option func(*Renderer)

// WithLocation sets the zone used for the HH:MM:SS timestamp. Default time.Local.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func New(doc *dom.Document, opts ...Option) *Renderer {
	r := &Renderer{doc: doc, loc: time.Local}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes every field of rec into the element with a matching id and
// the first element carrying a matching attribute. The timestamp field is
// also written as HH:MM:SS into "<prefix>-timestamp" so that several streams
// can render into one page. Fields with no target are ignored.
func (r *Renderer) Render(prefix string, rec model.TelemetryRecord) {
	for field, value := range rec {
		text := model.FormatValue(value)
		if el, ok := r.doc.ByID(field); ok {
			el.SetText(text)
		}
		if el, ok := r.doc.ByAttr(field); ok {
			el.SetAttr(field, text)
		}
		if field != model.FieldTimestamp {
			continue
		}
		secs, ok := rec.Float(field)
		if !ok {
			continue
		}
		if el, ok := r.doc.ByID(prefix + "-" + field); ok {
			el.SetText(FormatClock(secs, r.loc))
		}
	}
}

// FormatClock renders Unix seconds as zero padded HH:MM:SS in loc.
func FormatClock(unixSeconds float64, loc *time.Location) string {
	t := time.Unix(int64(unixSeconds), 0).In(loc)
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}
