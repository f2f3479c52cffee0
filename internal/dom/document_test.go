package dom

import (
	"context"
	"strings"
	"sync"
	"testing"
)

const testPage = `<!DOCTYPE html>
<html><body>
<span id="tank_liters">0</span>
<canvas id="tank-visualization" tank_percentage="0" width="400" height="300"></canvas>
<form id="tank-limits" action="/rpc/tank.setlimits" method="post">
  <label for="tank.liters.low_threshold">Low <span>-</span></label>
  <input id="tank.liters.low_threshold" name="tank-low-thr" type="range">
  <label>High <span>-</span><input id="tank.liters.high_threshold" name="tank-high-thr" type="number"></label>
  <textarea name="note">hello</textarea>
  <button id="tank-save" type="submit">Save</button>
</form>
<input id="outside" form="tank-limits" name="extra" value="1">
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseString(testPage)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestByIDAndByAttr(t *testing.T) {
	doc := mustParse(t)

	el, ok := doc.ByID("tank_liters")
	if !ok {
		t.Fatal("expected #tank_liters")
	}
	el.SetText("42.5")
	if got := el.Text(); got != "42.5" {
		t.Fatalf("text = %q", got)
	}

	canvas, ok := doc.ByAttr("tank_percentage")
	if !ok {
		t.Fatal("expected element with tank_percentage attribute")
	}
	if canvas.ID() != "tank-visualization" {
		t.Fatalf("unexpected element %q", canvas.ID())
	}
	canvas.SetAttr("tank_percentage", "55")
	if v, _ := canvas.Attr("tank_percentage"); v != "55" {
		t.Fatalf("attr = %q", v)
	}

	if _, ok := doc.ByID("missing"); ok {
		t.Fatal("unexpected match for missing id")
	}
	if _, ok := doc.ByAttr("missing"); ok {
		t.Fatal("unexpected match for missing attribute")
	}
}

func TestLabelsAndForm(t *testing.T) {
	doc := mustParse(t)

	low, _ := doc.ByID("tank.liters.low_threshold")
	if n := len(low.Labels()); n != 1 {
		t.Fatalf("low labels = %d, want 1", n)
	}
	high, _ := doc.ByID("tank.liters.high_threshold")
	labels := high.Labels()
	if len(labels) != 1 {
		t.Fatalf("high labels = %d, want 1", len(labels))
	}
	if _, ok := labels[0].Find("span"); !ok {
		t.Fatal("expected span inside enclosing label")
	}

	form, ok := low.Form()
	if !ok || form.ID() != "tank-limits" {
		t.Fatalf("low form = %v, %v", form, ok)
	}
	outside, _ := doc.ByID("outside")
	form2, ok := outside.Form()
	if !ok || !form2.Same(form) {
		t.Fatal("form attribute should resolve to tank-limits")
	}
}

func TestValueAndTextarea(t *testing.T) {
	doc := mustParse(t)
	form, _ := doc.ByID("tank-limits")
	ta, ok := form.Find("textarea")
	if !ok {
		t.Fatal("expected textarea")
	}
	if ta.Value() != "hello" {
		t.Fatalf("textarea value = %q", ta.Value())
	}
	ta.SetValue("bye")
	if ta.Value() != "bye" {
		t.Fatalf("textarea value = %q", ta.Value())
	}

	in, _ := doc.ByID("tank.liters.low_threshold")
	in.SetValue("10")
	if !strings.Contains(doc.String(), `value="10"`) {
		t.Fatal("rendered document should carry the new value")
	}
}

func TestChangeAndSubmitDispatch(t *testing.T) {
	doc := mustParse(t)
	in, _ := doc.ByID("tank.liters.low_threshold")

	var calls []string
	doc.AddChangeListener(in, func(el *Element) { calls = append(calls, "a:"+el.Value()) })
	doc.AddChangeListener(in, func(el *Element) { calls = append(calls, "b:"+el.Value()) })
	in.SetValue("7")
	doc.DispatchChange(in)
	if strings.Join(calls, ",") != "a:7,b:7" {
		t.Fatalf("calls = %v", calls)
	}

	form, _ := doc.ByID("tank-limits")
	if doc.HasSubmitHandler(form) {
		t.Fatal("no handler registered yet")
	}
	submitted := 0
	doc.AddSubmitHandler(form, func(ctx context.Context, f, s *Element) error {
		submitted++
		return nil
	})
	btn, _ := doc.ByID("tank-save")
	if err := doc.DispatchSubmit(context.Background(), form, btn); err != nil {
		t.Fatalf("dispatch submit: %v", err)
	}
	if submitted != 1 {
		t.Fatalf("submitted = %d", submitted)
	}
}

func TestConcurrentWrites(t *testing.T) {
	doc := mustParse(t)
	el, _ := doc.ByID("tank_liters")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				el.SetText("x")
				_ = doc.String()
			}
		}()
	}
	wg.Wait()
	if el.Text() != "x" {
		t.Fatalf("text = %q", el.Text())
	}
}
