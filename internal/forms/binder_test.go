package forms

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"tankview/internal/dom"
	"tankview/internal/model"
)

const page = `<html><body>
<form id="tank-limits" action="/rpc/tank.setlimits" method="post">
  <label for="tank.liters.low_threshold">Low: <span>-</span></label>
  <input id="tank.liters.low_threshold" name="tank-low-thr" type="range" min="0" max="197">
  <label for="tank.liters.high_threshold">High: <span>-</span></label>
  <input id="tank.liters.high_threshold" name="tank-high-thr" type="range" min="0" max="197">
  <button id="tank-save" type="submit">Save</button>
</form>
<form id="counter-limits" action="/rpc/counter.setlimits" method="post" data-field-prefix="cnt-">
  <label>Frequency <span></span><input id="tank.frequency.high_threshold" name="cnt-freq-thr" type="number"></label>
  <button id="counter-save">Save</button>
</form>
<form id="pressure-limits" action="/rpc/pressure.setlimits" method="post">
  <input id="tank.adc_pressure.low_threshold" name="pressure-low-thr">
  <input id="mqtt.unknown" name="pressure-high-thr">
  <input type="submit" id="pressure-save" value="Save">
</form>
</body></html>`

type recordedCall struct {
	method string
	action string
	body   map[string]float64
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []recordedCall
	reply any
	err   error
}

func (f *fakeCaller) Call(ctx context.Context, method, action string, body any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{method: method, action: action, body: body.(map[string]float64)})
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func deviceConfig() *model.DeviceConfig {
	return model.NewDeviceConfig(map[string]any{
		"tank": map[string]any{
			"liters":       map[string]any{"low_threshold": float64(10), "high_threshold": float64(90)},
			"frequency":    map[string]any{"high_threshold": float64(120)},
			"adc_pressure": map[string]any{"low_threshold": float64(300)},
		},
	})
}

func newBinder(t *testing.T, caller Caller) (*Binder, *dom.Document) {
	t.Helper()
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return NewBinder(doc, caller, slog.New(slog.NewTextHandler(io.Discard, nil))), doc
}

func labelSpan(t *testing.T, doc *dom.Document, inputID string) string {
	t.Helper()
	in, ok := doc.ByID(inputID)
	if !ok {
		t.Fatalf("missing input %s", inputID)
	}
	labels := in.Labels()
	if len(labels) == 0 {
		t.Fatalf("input %s has no label", inputID)
	}
	span, ok := labels[0].Find("span")
	if !ok {
		t.Fatalf("label of %s has no span", inputID)
	}
	return span.Text()
}

func TestBindPopulatesInputsAndLabels(t *testing.T) {
	b, doc := newBinder(t, &fakeCaller{})

	err := b.Bind(deviceConfig())
	if !errors.Is(err, model.ErrConfigPathNotFound) {
		t.Fatalf("bind error = %v, want unresolved mqtt.unknown reported", err)
	}

	low, _ := doc.ByID("tank.liters.low_threshold")
	if low.Value() != "10" {
		t.Fatalf("low value = %q, want 10", low.Value())
	}
	if got := labelSpan(t, doc, "tank.liters.low_threshold"); got != "10" {
		t.Fatalf("low label mirror = %q, want 10", got)
	}
	if got := labelSpan(t, doc, "tank.liters.high_threshold"); got != "90" {
		t.Fatalf("high label mirror = %q, want 90", got)
	}
	if got := labelSpan(t, doc, "tank.frequency.high_threshold"); got != "120" {
		t.Fatalf("enclosing label mirror = %q, want 120", got)
	}

	unknown, _ := doc.ByID("mqtt.unknown")
	if v, ok := unknown.Attr("value"); ok {
		t.Fatalf("unresolved input should stay untouched, got value %q", v)
	}
}

func TestBindNilConfigIsNoop(t *testing.T) {
	b, doc := newBinder(t, &fakeCaller{})
	before := doc.String()
	if err := b.Bind(nil); err != nil {
		t.Fatalf("bind nil: %v", err)
	}
	if doc.String() != before {
		t.Fatal("nil config must not touch the document")
	}
	form, _ := doc.ByID("tank-limits")
	if doc.HasSubmitHandler(form) {
		t.Fatal("nil config must not register submit handlers")
	}
}

func TestChangeMirrorsNewValue(t *testing.T) {
	b, doc := newBinder(t, &fakeCaller{})
	_ = b.Bind(deviceConfig())
	_ = b.Bind(deviceConfig())

	low, _ := doc.ByID("tank.liters.low_threshold")
	low.SetValue("33")
	doc.DispatchChange(low)
	if got := labelSpan(t, doc, "tank.liters.low_threshold"); got != "33" {
		t.Fatalf("mirror = %q, want 33", got)
	}
}

func TestSubmitTransformsFieldNames(t *testing.T) {
	caller := &fakeCaller{reply: map[string]any{"status": true}}
	b, doc := newBinder(t, caller)
	_ = b.Bind(deviceConfig())

	sub, err := b.Submit(context.Background(), "tank-limits", "tank-save", map[string]string{
		"tank-low-thr":  "5",
		"tank-high-thr": "95",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(caller.calls) != 1 {
		t.Fatalf("calls = %d", len(caller.calls))
	}
	call := caller.calls[0]
	if call.action != "/rpc/tank.setlimits" || call.method != "post" {
		t.Fatalf("call = %+v", call)
	}
	want := map[string]float64{"low_thr": 5, "high_thr": 95}
	if len(call.body) != len(want) {
		t.Fatalf("body = %v, want %v", call.body, want)
	}
	for k, v := range want {
		if call.body[k] != v {
			t.Fatalf("body = %v, want %v", call.body, want)
		}
	}
	if sub.Reply.(map[string]any)["status"] != true {
		t.Fatalf("reply = %v", sub.Reply)
	}

	btn, _ := doc.ByID("tank-save")
	if v, _ := btn.Attr("aria-busy"); v != "false" {
		t.Fatalf("aria-busy = %q after success", v)
	}
	if got := labelSpan(t, doc, "tank.liters.high_threshold"); got != "95" {
		t.Fatalf("edit should update the label mirror, got %q", got)
	}
}

func TestSubmitUsesPrefixAttribute(t *testing.T) {
	caller := &fakeCaller{reply: map[string]any{"status": true}}
	b, _ := newBinder(t, caller)
	_ = b.Bind(deviceConfig())

	if _, err := b.SubmitAction(context.Background(), "/rpc/counter.setlimits", "", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := caller.calls[0].body; len(got) != 1 || got["freq_thr"] != 120 {
		t.Fatalf("body = %v", got)
	}
}

func TestSubmitErrorLeavesBusy(t *testing.T) {
	caller := &fakeCaller{err: errors.New("device unreachable")}
	b, doc := newBinder(t, caller)
	_ = b.Bind(deviceConfig())

	_, err := b.Submit(context.Background(), "tank-limits", "", nil)
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	btn, _ := doc.ByID("tank-save")
	if v, _ := btn.Attr("aria-busy"); v != "true" {
		t.Fatalf("aria-busy = %q, want true after a failed post", v)
	}
}

func TestSubmitRejectsNonNumeric(t *testing.T) {
	caller := &fakeCaller{}
	b, _ := newBinder(t, caller)
	_ = b.Bind(deviceConfig())

	_, err := b.Submit(context.Background(), "tank-limits", "", map[string]string{"tank-low-thr": "abc"})
	if !errors.Is(err, ErrFieldNotNumeric) {
		t.Fatalf("error = %v, want ErrFieldNotNumeric", err)
	}
	if len(caller.calls) != 0 {
		t.Fatal("nothing should be posted")
	}
}

func TestSubmitLookupErrors(t *testing.T) {
	b, _ := newBinder(t, &fakeCaller{})

	if _, err := b.Submit(context.Background(), "tank-limits", "", nil); !errors.Is(err, ErrNoSubmitHandler) {
		t.Fatalf("error before bind = %v", err)
	}
	_ = b.Bind(deviceConfig())
	if _, err := b.Submit(context.Background(), "nope", "", nil); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("error = %v, want ErrFormNotFound", err)
	}
	if _, err := b.Submit(context.Background(), "tank-limits", "counter-save", nil); !errors.Is(err, ErrSubmitterInvalid) {
		t.Fatalf("error = %v, want ErrSubmitterInvalid", err)
	}
	if _, err := b.SubmitAction(context.Background(), "/rpc/none.setlimits", "", nil); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("error = %v, want ErrFormNotFound", err)
	}
}

func TestFieldName(t *testing.T) {
	cases := []struct{ name, prefix, want string }{
		{"tank-low-thr", "tank-", "low_thr"},
		{"pressure-high-thr", "pressure-", "high_thr"},
		{"freq-thr", "counter-", "freq_thr"},
		{"low_thr", "", "low_thr"},
	}
	for _, tc := range cases {
		if got := FieldName(tc.name, tc.prefix); got != tc.want {
			t.Fatalf("FieldName(%q, %q) = %q, want %q", tc.name, tc.prefix, got, tc.want)
		}
	}
}
