package search

import "testing"

func TestExtractPassagesTracksHeadings(t *testing.T) {
	content := `<h1>Quarterly plan</h1>
<p>Revenue grew in every region during the second quarter.</p>
<h2>Risks</h2>
<ul><li>Hiring in the platform team is behind schedule.</li><li>Short</li></ul>
<p>Vendor contracts &amp; renewals are due before the end of the year.</p>`

	records := ExtractPassages("doc-1", "Plan", content)
	if len(records) != 3 {
		t.Fatalf("expected 3 passages, got %d: %+v", len(records), records)
	}

	first := records[0]
	if first.ID != "doc-1-p0" || first.Position != 0 || first.DocumentID != "doc-1" || first.Title != "Plan" {
		t.Fatalf("unexpected first passage: %+v", first)
	}
	if first.Heading != "Quarterly plan" {
		t.Fatalf("expected first heading, got %q", first.Heading)
	}
	if records[1].Heading != "Risks" || records[1].Body != "Hiring in the platform team is behind schedule." {
		t.Fatalf("unexpected second passage: %+v", records[1])
	}
	if records[2].Body != "Vendor contracts & renewals are due before the end of the year." {
		t.Fatalf("entities should be unescaped, got %q", records[2].Body)
	}
	if records[2].ID != "doc-1-p2" {
		t.Fatalf("ids should follow kept passages, got %q", records[2].ID)
	}
}

func TestExtractPassagesEmpty(t *testing.T) {
	if got := ExtractPassages("doc-1", "Plan", ""); len(got) != 0 {
		t.Fatalf("expected no passages, got %+v", got)
	}
	if got := ExtractPassages("doc-1", "Plan", "<p>tiny</p>"); len(got) != 0 {
		t.Fatalf("expected short fragments to be dropped, got %+v", got)
	}
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"<p>Hello <strong>world</strong></p>": "Hello world",
		"  a\n\n b  ":                          "a b",
		"<script>alert(1)</script>ok":          "ok",
		"":                                     "",
	}
	for in, want := range cases {
		if got := PlainText(in); got != want {
			t.Fatalf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}
