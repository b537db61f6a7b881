package lsp

import (
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"

	"github.com/dshills/scame/internal/lsp/protocol"
)

func kindPtr(k CompletionKind) *CompletionKind { return &k }
func strPtr(s string) *string                 { return &s }

func TestCompletionKindFromLSP(t *testing.T) {
	tests := []struct {
		in   protocol.CompletionItemKind
		want CompletionKind
	}{
		{protocol.CompletionItemKindFunction, CompletionKindFunction},
		{protocol.CompletionItemKindMethod, CompletionKindMethod},
		{protocol.CompletionItemKindVariable, CompletionKindVariable},
		{protocol.CompletionItemKindField, CompletionKindField},
		{protocol.CompletionItemKindKeyword, CompletionKindKeyword},
		{protocol.CompletionItemKindModule, CompletionKindModule},
		{protocol.CompletionItemKindStruct, CompletionKindStruct},
		{protocol.CompletionItemKindEnum, CompletionKindEnum},
		{protocol.CompletionItemKindInterface, CompletionKindInterface},
		{protocol.CompletionItemKindConstant, CompletionKindConstant},
		{protocol.CompletionItemKindClass, CompletionKindOther},
		{protocol.CompletionItemKindSnippet, CompletionKindOther},
		{99, CompletionKindOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, completionKindFromLSP(tt.in), "kind %d", tt.in)
	}
}

func TestCompletionKind_Icon(t *testing.T) {
	assert.Equal(t, "ƒ", CompletionKindFunction.Icon())
	assert.Equal(t, "C", CompletionKindConstant.Icon())
	assert.Equal(t, "•", CompletionKindOther.Icon())
	assert.Equal(t, "Struct", CompletionKindStruct.String())
}

func TestFormatCompletionItem(t *testing.T) {
	tests := []struct {
		name  string
		item  CompletionItem
		width int
		want  string
	}{
		{
			name:  "pads",
			item:  CompletionItem{Label: "foo", Kind: kindPtr(CompletionKindVariable)},
			width: 10,
			want:  "v foo     ",
		},
		{
			name:  "no kind",
			item:  CompletionItem{Label: "foo"},
			width: 6,
			want:  "• foo ",
		},
		{
			name:  "detail fits",
			item:  CompletionItem{Label: "len", Kind: kindPtr(CompletionKindFunction), Detail: strPtr("int")},
			width: 20,
			want:  "ƒ len : int         ",
		},
		{
			name:  "detail dropped",
			item:  CompletionItem{Label: "len", Kind: kindPtr(CompletionKindFunction), Detail: strPtr("func(v Type) int")},
			width: 12,
			want:  "ƒ len       ",
		},
		{
			name:  "truncated",
			item:  CompletionItem{Label: "averyveryverylongname", Kind: kindPtr(CompletionKindMethod)},
			width: 10,
			want:  "m avery...",
		},
		{
			name:  "wide label",
			item:  CompletionItem{Label: "日本語の識別子", Kind: kindPtr(CompletionKindVariable)},
			width: 10,
			want:  "v 日本... ",
		},
		{
			name:  "zero width",
			item:  CompletionItem{Label: "foo"},
			width: 0,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatCompletionItem(tt.item, tt.width)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.width, cells.StringWidth(got))
		})
	}
}

func TestFormatCompletionItem_IgnoresLocale(t *testing.T) {
	old := runewidth.DefaultCondition.EastAsianWidth
	runewidth.DefaultCondition.EastAsianWidth = true
	defer func() { runewidth.DefaultCondition.EastAsianWidth = old }()

	got := FormatCompletionItem(CompletionItem{Label: "x"}, 4)
	assert.Equal(t, "• x ", got)
}
