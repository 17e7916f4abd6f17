package search

import (
	"reflect"
	"strings"
	"testing"
)

func TestParagraphs_BlankLines(t *testing.T) {
	got := Paragraphs("first line\nstill first\n\n\n  second  \n")
	want := []string{"first line\nstill first", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Paragraphs = %q, want %q", got, want)
	}
	if Paragraphs("") != nil {
		t.Fatalf("empty text should have no paragraphs")
	}
}

func TestParagraphs_TableRows(t *testing.T) {
	text := strings.Join([]string{
		"Prices",
		"| item | cost |",
		"|:-----|-----:|",
		"| tea  | 3    |",
		"|  |  |",
		"after",
	}, "\n")
	got := Paragraphs(text)
	want := []string{"Prices", "item cost", "tea 3", "after"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Paragraphs = %q, want %q", got, want)
	}
}

func TestTableRow(t *testing.T) {
	cases := []struct {
		in   string
		row  string
		isTb bool
	}{
		{"| a | b |", "a b", true},
		{"|---|:-:|", "", true},
		{"not | a row", "", false},
		{"|", "", false},
	}
	for _, c := range cases {
		row, ok := tableRow(c.in)
		if row != c.row || ok != c.isTb {
			t.Fatalf("tableRow(%q) = %q,%v", c.in, row, ok)
		}
	}
}
