package fingerprint

import "testing"

func TestCompute_IdenticalNormalizedContentSameKey(t *testing.T) {
	a, ok := Compute(Request{Prompt: "  A Cat   In Space ", Params: map[string]string{"size": "512", "model": "v2"}})
	if !ok {
		t.Fatalf("expected keyable request")
	}
	b, ok := Compute(Request{Prompt: "a cat in space", Params: map[string]string{"model": "v2", "size": "512"}})
	if !ok {
		t.Fatalf("expected keyable request")
	}
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
}

func TestCompute_DistinctContentDistinctKey(t *testing.T) {
	a, _ := Compute(Request{Prompt: "a cat in space"})
	b, _ := Compute(Request{Prompt: "a dog in space"})
	if a == b {
		t.Fatalf("distinct prompts collided")
	}

	c, _ := Compute(Request{Prompt: "a cat in space", Params: map[string]string{"size": "512"}})
	if a == c {
		t.Fatalf("param change did not change fingerprint")
	}
}

func TestCompute_ParamBoundariesUnambiguous(t *testing.T) {
	// "ab"+"c" vs "a"+"bc" must not hash identically.
	a, _ := Compute(Request{Prompt: "p", Params: map[string]string{"ab": "c"}})
	b, _ := Compute(Request{Prompt: "p", Params: map[string]string{"a": "bc"}})
	if a == b {
		t.Fatalf("ambiguous param encoding")
	}
}

func TestCompute_EmptyPromptUnkeyable(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\t\n"} {
		fp, ok := Compute(Request{Prompt: prompt, Params: map[string]string{"size": "512"}})
		if ok {
			t.Fatalf("prompt %q: expected unkeyable", prompt)
		}
		if !fp.IsZero() {
			t.Fatalf("prompt %q: expected zero fingerprint, got %s", prompt, fp)
		}
	}
}
