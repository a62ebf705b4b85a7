package generator

import (
	"strings"
	"testing"
)

func TestIsSupportedAPIType(t *testing.T) {
	if !IsSupportedAPIType(APITypeGemini) || !IsSupportedAPIType(APITypeDoubao) {
		t.Fatal("known api types not supported")
	}
	if IsSupportedAPIType("openai") || IsSupportedAPIType("") {
		t.Fatal("unknown api type reported as supported")
	}
}

func TestNewDispatchesByAPIType(t *testing.T) {
	g, err := New(APITypeGemini, Options{APIKey: "k"})
	if err != nil {
		t.Fatalf("New(gemini): %v", err)
	}
	if _, ok := g.(*geminiGenerator); !ok {
		t.Fatalf("New(gemini) = %T", g)
	}

	g, err = New(APITypeDoubao, Options{APIKey: "k"})
	if err != nil {
		t.Fatalf("New(doubao): %v", err)
	}
	if _, ok := g.(*doubaoGenerator); !ok {
		t.Fatalf("New(doubao) = %T", g)
	}
}

func TestNewRejectsUnknownType(t *testing.T) {
	if _, err := New("midjourney", Options{}); err == nil {
		t.Fatal("unknown api type accepted")
	}
}

func TestNewAppliesOptionOverrides(t *testing.T) {
	g, err := New(APITypeGemini, Options{APIKey: "key-1", Model: "gemini-3-pro-image-preview"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	gg := g.(*geminiGenerator)
	if gg.model != "gemini-3-pro-image-preview" {
		t.Fatalf("model = %q", gg.model)
	}

	g, err = New(APITypeGemini, Options{APIKey: "key-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.(*geminiGenerator).model != defaultGeminiModel {
		t.Fatalf("default model not applied: %q", g.(*geminiGenerator).model)
	}
}

func TestGeminiPrompt(t *testing.T) {
	if got := geminiPrompt(nil, "画一只猫"); got != "画一只猫" {
		t.Fatalf("text-to-image prompt = %q", got)
	}

	got := geminiPrompt([]byte{0x89, 0x50}, "把背景换成海边")
	if !strings.Contains(got, "把背景换成海边") {
		t.Fatalf("edit prompt lost user text: %q", got)
	}
	if !strings.HasPrefix(got, "Create a picture of my image") {
		t.Fatalf("edit prompt missing instruction prefix: %q", got)
	}
}
