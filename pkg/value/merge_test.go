package value

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func parse(t *testing.T, s string) Value {
	t.Helper()
	v, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(%s) error = %v", s, err)
	}
	return v
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		base string
		over string
		want string
	}{
		{
			name: "scalar overwrites",
			base: `{"a": 1, "b": "x"}`,
			over: `{"a": 2}`,
			want: `{"a": 2, "b": "x"}`,
		},
		{
			name: "nested mappings merge",
			base: `{"a": {"x": 1, "y": 2}}`,
			over: `{"a": {"y": 3, "z": 4}}`,
			want: `{"a": {"x": 1, "y": 3, "z": 4}}`,
		},
		{
			name: "replace sentinel",
			base: `{"a": {"x": 1, "y": 2}}`,
			over: `{"a": {"__replace__": true, "z": 3}}`,
			want: `{"a": {"z": 3}}`,
		},
		{
			name: "sequences replace",
			base: `{"a": [1, 2, 3]}`,
			over: `{"a": [4]}`,
			want: `{"a": [4]}`,
		},
		{
			name: "null overwrites",
			base: `{"a": {"x": 1}}`,
			over: `{"a": null}`,
			want: `{"a": null}`,
		},
		{
			name: "mapping over scalar",
			base: `{"a": 1}`,
			over: `{"a": {"x": 1}}`,
			want: `{"a": {"x": 1}}`,
		},
		{
			name: "replace false merges",
			base: `{"a": {"x": 1}}`,
			over: `{"a": {"__replace__": false, "y": 2}}`,
			want: `{"a": {"x": 1, "y": 2}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(parse(t, tt.base), parse(t, tt.over))
			want := parse(t, tt.want)
			if diff := cmp.Diff(want.Interface(), got.Interface()); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge_OrderSensitive(t *testing.T) {
	a := parse(t, `{"k": "a", "only_a": 1}`)
	b := parse(t, `{"k": "b", "only_b": 1}`)
	cur := parse(t, `{"c": 1}`)

	ab := MergeAll(a, b, cur)
	ba := MergeAll(b, a, cur)

	if ab.Equal(ba) {
		t.Fatal("MergeAll(a, b) and MergeAll(b, a) should differ on overlapping scalars")
	}
	if k, _ := ab.Get("k"); !k.Equal(NewString("b")) {
		t.Errorf("k = %v, want b", k)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	a := parse(t, `{"x": {"y": [1, 2], "z": {"__replace__": true, "w": 1}}, "s": "v"}`)

	once := MergeAll(a)
	twice := MergeAll(a, a)
	if !once.Equal(twice) {
		t.Errorf("MergeAll(a, a) = %v, want %v", twice, once)
	}
}

func TestMerge_ReplaceFlagSurvivesForLaterLayers(t *testing.T) {
	// definition args that replace their parent's args, extended by a later document
	own := parse(t, `{"__replace__": true, "a": 1}`)
	patch := parse(t, `{"b": 2}`)
	merged := Merge(own, patch)
	if !merged.Replace() {
		t.Fatal("Replace() = false after merging a patch into a replacing mapping")
	}

	inherited := parse(t, `{"old": true}`)
	final := Settle(Merge(inherited, merged))
	if diff := cmp.Diff(map[string]interface{}{"a": int64(1), "b": int64(2)}, final.Interface()); diff != "" {
		t.Errorf("final mismatch (-want +got):\n%s", diff)
	}
	if final.Replace() {
		t.Error("Settle() left the replace flag set")
	}
}

func TestParse_Numbers(t *testing.T) {
	v := parse(t, `{"i": 3, "f": 1.5, "big": 1e3}`)

	if i, ok := mustGet(t, v, "i").Int(); !ok || i != 3 {
		t.Errorf("i = %v, want 3", i)
	}
	if f, ok := mustGet(t, v, "f").Float(); !ok || f != 1.5 {
		t.Errorf("f = %v, want 1.5", f)
	}
	if i, ok := mustGet(t, v, "big").Int(); !ok || i != 1000 {
		t.Errorf("big = %v, want 1000", i)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, s := range []string{`{`, `{"a": 1} {"b": 2}`, `{"__replace__": "yes"}`} {
		if _, err := Parse([]byte(s)); err == nil {
			t.Errorf("Parse(%s) expected error", s)
		}
	}
}

func mustGet(t *testing.T, v Value, key string) Value {
	t.Helper()
	got, ok := v.Get(key)
	if !ok {
		t.Fatalf("missing key %q in %v", key, v)
	}
	return got
}
