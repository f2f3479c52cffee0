// Package forms binds the device configuration to the page's inputs and
// turns form submissions into RPC calls.
package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"

	"tankview/internal/dom"
	"tankview/internal/model"
)

var (
	ErrFormNotFound     = errors.New("form not found")
	ErrSubmitterInvalid = errors.New("submitter does not belong to form")
	ErrFieldNotNumeric  = errors.New("form field is not numeric")
	ErrNoSubmitHandler  = errors.New("form has no submit handler")
)

// PrefixAttr overrides the field name prefix stripped before posting.
const PrefixAttr = "data-field-prefix"

// Caller posts a JSON body to a form action.
type Caller interface {
	Call(ctx context.Context, method, action string, body any) (any, error)
}

type Binder struct {
	doc    *dom.Document
	rpc    Caller
	logger *slog.Logger

	mu       sync.Mutex
	mirrored map[string]bool

	// submitMu serializes edit, serialize and post over the shared document.
	submitMu sync.Mutex
}

func NewBinder(doc *dom.Document, rpc Caller, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{doc: doc, rpc: rpc, logger: logger, mirrored: map[string]bool{}}
}

// Bind loads cfg into every input whose id is a config path, mirrors input
// values into their labels and registers submit handlers on every form.
// A nil cfg means the config has not arrived yet and nothing happens.
// Inputs whose path does not resolve are left untouched and reported in the
// returned error; all other inputs are still bound.
func (b *Binder) Bind(cfg *model.DeviceConfig) error {
	if cfg == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, input := range b.doc.All("input") {
		id := input.ID()
		if id == "" || isSubmitControl(input) {
			continue
		}
		value, err := cfg.Lookup(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("input %q: %w", id, err))
			continue
		}
		if !b.mirrored[id] {
			b.mirrored[id] = true
			b.doc.AddChangeListener(input, mirrorToLabels)
		}
		input.SetValue(model.FormatValue(value))
		b.doc.DispatchChange(input)
	}
	for _, form := range b.doc.All("form") {
		if b.doc.HasSubmitHandler(form) {
			continue
		}
		b.doc.AddSubmitHandler(form, b.handleSubmit)
	}
	return errors.Join(errs...)
}

// mirrorToLabels writes the control value into the first span of each label.
func mirrorToLabels(el *dom.Element) {
	value := el.Value()
	for _, label := range el.Labels() {
		if span, ok := label.Find("span"); ok {
			span.SetText(value)
		}
	}
}

// Submission is the outcome of one form post.
type Submission struct {
	FormID string
	Action string
	Body   map[string]float64
	Reply  any
}

// Submit applies edits to the named fields of the form, then posts it as if
// submitter had been clicked. An empty submitterID picks the form's first
// submit control. On error the submitter stays marked busy.
func (b *Binder) Submit(ctx context.Context, formID, submitterID string, edits map[string]string) (*Submission, error) {
	form, ok := b.doc.ByID(formID)
	if !ok || form.Tag() != "form" {
		return nil, fmt.Errorf("%w: %q", ErrFormNotFound, formID)
	}
	return b.submit(ctx, form, submitterID, edits)
}

// SubmitAction is Submit for the form whose action resolves to action.
func (b *Binder) SubmitAction(ctx context.Context, action, submitterID string, edits map[string]string) (*Submission, error) {
	for _, form := range b.doc.All("form") {
		if a, _ := form.Attr("action"); samePath(a, action) {
			return b.submit(ctx, form, submitterID, edits)
		}
	}
	return nil, fmt.Errorf("%w: action %q", ErrFormNotFound, action)
}

type submitCtxKey struct{}

func (b *Binder) submit(ctx context.Context, form *dom.Element, submitterID string, edits map[string]string) (*Submission, error) {
	if !b.doc.HasSubmitHandler(form) {
		return nil, fmt.Errorf("%w: %q", ErrNoSubmitHandler, form.ID())
	}
	submitter, err := findSubmitter(form, submitterID)
	if err != nil {
		return nil, err
	}

	b.submitMu.Lock()
	defer b.submitMu.Unlock()
	applyEdits(form, edits)

	var sub Submission
	ctx = context.WithValue(ctx, submitCtxKey{}, &sub)
	if err := b.doc.DispatchSubmit(ctx, form, submitter); err != nil {
		return nil, err
	}
	return &sub, nil
}

// handleSubmit is the registered submit handler: mark busy, serialize,
// post, decode, clear busy.
func (b *Binder) handleSubmit(ctx context.Context, form, submitter *dom.Element) error {
	if submitter != nil {
		submitter.SetAttr("aria-busy", "true")
	}

	body, err := Serialize(form)
	if err != nil {
		return err
	}
	action, _ := form.Attr("action")
	method, _ := form.Attr("method")
	b.logger.Info("submitting form", "form", form.ID(), "action", action, "fields", len(body))

	reply, err := b.rpc.Call(ctx, method, action, body)
	if err != nil {
		return fmt.Errorf("submit form %q: %w", form.ID(), err)
	}
	if submitter != nil {
		submitter.SetAttr("aria-busy", "false")
	}
	if sub, ok := ctx.Value(submitCtxKey{}).(*Submission); ok {
		*sub = Submission{FormID: form.ID(), Action: action, Body: body, Reply: reply}
	}
	return nil
}

// Serialize collects the form's named controls into the flat JSON object the
// device expects: prefix stripped, hyphens turned into underscores, values
// parsed as numbers. Submit controls are never included.
func Serialize(form *dom.Element) (map[string]float64, error) {
	prefix := fieldPrefix(form)
	out := map[string]float64{}
	for _, ctl := range controls(form) {
		name, _ := ctl.Attr("name")
		if name == "" {
			continue
		}
		if _, disabled := ctl.Attr("disabled"); disabled {
			continue
		}
		if isSubmitControl(ctl) {
			continue
		}
		typ, _ := ctl.Attr("type")
		if (typ == "checkbox" || typ == "radio") && !hasAttr(ctl, "checked") {
			continue
		}
		raw := strings.TrimSpace(ctl.Value())
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrFieldNotNumeric, name, raw)
		}
		out[FieldName(name, prefix)] = v
	}
	return out, nil
}

// FieldName maps a form control name onto the RPC argument name.
func FieldName(name, prefix string) string {
	name = strings.TrimPrefix(name, prefix)
	return strings.ReplaceAll(name, "-", "_")
}

// fieldPrefix is PrefixAttr when set, otherwise the namespace of the action:
// "/rpc/tank.setlimits" gives "tank-".
func fieldPrefix(form *dom.Element) string {
	if p, ok := form.Attr(PrefixAttr); ok {
		return p
	}
	action, _ := form.Attr("action")
	u, err := url.Parse(action)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	ns, _, ok := strings.Cut(base, ".")
	if !ok || ns == "" {
		return ""
	}
	return ns + "-"
}

// controls returns the form-associated controls, honouring the form attribute.
func controls(form *dom.Element) []*dom.Element {
	var out []*dom.Element
	doc := form.Document()
	for _, tag := range []string{"input", "select", "textarea", "button"} {
		for _, el := range doc.All(tag) {
			if owner, ok := el.Form(); ok && owner.Same(form) {
				out = append(out, el)
			}
		}
	}
	return out
}

func findSubmitter(form *dom.Element, id string) (*dom.Element, error) {
	if id != "" {
		el, ok := form.Document().ByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSubmitterInvalid, id)
		}
		owner, ok := el.Form()
		if !ok || !owner.Same(form) || !isSubmitControl(el) {
			return nil, fmt.Errorf("%w: %q", ErrSubmitterInvalid, id)
		}
		return el, nil
	}
	for _, ctl := range controls(form) {
		if isSubmitControl(ctl) {
			return ctl, nil
		}
	}
	return nil, nil
}

func applyEdits(form *dom.Element, edits map[string]string) {
	if len(edits) == 0 {
		return
	}
	byName := map[string]*dom.Element{}
	for _, ctl := range controls(form) {
		if name, _ := ctl.Attr("name"); name != "" && !isSubmitControl(ctl) {
			byName[name] = ctl
		}
	}
	for name, value := range edits {
		ctl, ok := byName[name]
		if !ok {
			continue
		}
		ctl.SetValue(value)
		form.Document().DispatchChange(ctl)
	}
}

func isSubmitControl(el *dom.Element) bool {
	typ, ok := el.Attr("type")
	switch el.Tag() {
	case "button":
		return !ok || typ == "" || strings.EqualFold(typ, "submit")
	case "input":
		return strings.EqualFold(typ, "submit") || strings.EqualFold(typ, "image")
	}
	return false
}

func hasAttr(el *dom.Element, name string) bool {
	_, ok := el.Attr(name)
	return ok
}

func samePath(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Path != "" && ua.Path == ub.Path
}
