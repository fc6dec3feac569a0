package csvrows

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestParse_HeaderRows(t *testing.T) {
	text := "knowby_id,knowby_name,member_id,member_name,date\n" +
		"k1,Onboarding,m1,Ana,01/01/2024\n" +
		"k2,Safety,m2,Ben,02/01/2024\n"

	rows, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if rows[0].Get("knowby_name") != "Onboarding" {
		t.Errorf("knowby_name: got %q", rows[0].Get("knowby_name"))
	}
	if rows[1].Get("date") != "02/01/2024" {
		t.Errorf("date: got %q", rows[1].Get("date"))
	}
}

func TestParse_SkipsBlankAndEmptyFieldLines(t *testing.T) {
	text := "date,knowby_name\n" +
		"01/01/2024,A\n" +
		"\n" +
		",\n" +
		"   \n" +
		"02/01/2024,B\n"

	rows, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2 (blank and all-empty lines excluded)", len(rows))
	}
	if rows[1].Get("knowby_name") != "B" {
		t.Errorf("order: got %q, want B", rows[1].Get("knowby_name"))
	}
}

func TestParse_ShortAndLongRecords(t *testing.T) {
	text := "a,b,c\n1,2\n4,5,6,7\n"
	rows, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if _, ok := rows[0]["c"]; ok {
		t.Error("short record should leave c absent")
	}
	if rows[0].Get("c") != "" {
		t.Error("Get on missing column should be empty")
	}
	if len(rows[1]) != 3 {
		t.Errorf("long record: got %d fields, want 3", len(rows[1]))
	}
}

func TestParse_BOMAndQuoted(t *testing.T) {
	text := "\ufeffdate,title\n01/02/2024,\"Hello, world\"\n"
	rows, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rows[0].Get("date") != "01/02/2024" {
		t.Errorf("BOM not stripped: %v", rows[0])
	}
	if rows[0].Get("title") != "Hello, world" {
		t.Errorf("title: got %q", rows[0].Get("title"))
	}
}

func TestParse_Empty(t *testing.T) {
	for _, text := range []string{"", "\n\n", "a,b\n"} {
		rows, err := Parse(text)
		if err != nil {
			t.Fatalf("parse %q: %v", text, err)
		}
		if rows == nil || len(rows) != 0 {
			t.Errorf("parse %q: got %v, want empty non-nil", text, rows)
		}
	}
}

func TestParse_BareQuote(t *testing.T) {
	text := "date,knowby_name,member_id\n" +
		"01/01/2024,My \"best\" guide,m1\n" +
		"02/01/2024,Other,m2\n"

	rows, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if got := rows[0].Get("knowby_name"); got != `My "best" guide` {
		t.Errorf("knowby_name: got %q", got)
	}
	if got := rows[1].Get("member_id"); got != "m2" {
		t.Errorf("member_id: got %q", got)
	}
}

func TestParse_UnterminatedQuote(t *testing.T) {
	rows, err := Parse("a,b\n1,2\n\"x,1\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if got := rows[1].Get("a"); !strings.HasPrefix(got, "x,1") {
		t.Errorf("unterminated field: got %q", got)
	}
}

func TestParseReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ParseReader(io.MultiReader(strings.NewReader("a,b\n1,2\n"), iotest.ErrReader(boom)))
	if !errors.Is(err, boom) {
		t.Fatalf("error: got %v, want boom", err)
	}
}

func TestRow_Blank(t *testing.T) {
	if !(Row{"a": " ", "b": ""}).Blank() {
		t.Error("whitespace-only row should be blank")
	}
	if (Row{"a": "x"}).Blank() {
		t.Error("row with value should not be blank")
	}
}
