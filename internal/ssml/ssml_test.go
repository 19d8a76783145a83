package ssml

import "testing"

func TestEncode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain text", "plain text"},
		{"Tom & Jerry", "Tom &amp; Jerry"},
		{`<b>"hi"</b>`, "&lt;b&gt;&quot;hi&quot;&lt;/b&gt;"},
		{"it's", "it&apos;s"},
		{"&amp;", "&amp;amp;"},
		{"a && b", "a &amp;&amp; b"},
	}
	for _, tt := range tests {
		if got := Encode(tt.in); got != tt.want {
			t.Errorf("Encode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	if got := Wrap("hi"); got != "<speak>hi</speak>" {
		t.Fatalf("Wrap = %q", got)
	}
	in := ` <speak version="1.0">hi</speak>`
	if got := Wrap(in); got != in {
		t.Fatalf("Wrap should leave existing root untouched, got %q", got)
	}
}

func TestWrapKeepsXMLProlog(t *testing.T) {
	in := "\n<?xml version=\"1.0\" encoding=\"UTF-8\"?><speak>hi</speak>"
	if got := Wrap(in); got != in {
		t.Fatalf("Wrap should not wrap a document with an XML declaration, got %q", got)
	}
}
