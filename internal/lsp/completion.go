package lsp

import (
	"github.com/mattn/go-runewidth"

	"github.com/dshills/scame/internal/lsp/protocol"
)

// CompletionKind is the symbol category of a completion item.
type CompletionKind int

const (
	CompletionKindOther CompletionKind = iota
	CompletionKindFunction
	CompletionKindMethod
	CompletionKindVariable
	CompletionKindField
	CompletionKindKeyword
	CompletionKindModule
	CompletionKindStruct
	CompletionKindEnum
	CompletionKindInterface
	CompletionKindConstant
)

// completionKindFromLSP maps a protocol kind; unmapped kinds become Other.
func completionKindFromLSP(k protocol.CompletionItemKind) CompletionKind {
	switch k {
	case protocol.CompletionItemKindFunction:
		return CompletionKindFunction
	case protocol.CompletionItemKindMethod:
		return CompletionKindMethod
	case protocol.CompletionItemKindVariable:
		return CompletionKindVariable
	case protocol.CompletionItemKindField:
		return CompletionKindField
	case protocol.CompletionItemKindKeyword:
		return CompletionKindKeyword
	case protocol.CompletionItemKindModule:
		return CompletionKindModule
	case protocol.CompletionItemKindStruct:
		return CompletionKindStruct
	case protocol.CompletionItemKindEnum:
		return CompletionKindEnum
	case protocol.CompletionItemKindInterface:
		return CompletionKindInterface
	case protocol.CompletionItemKindConstant:
		return CompletionKindConstant
	default:
		return CompletionKindOther
	}
}

// String returns a human-readable name for the kind.
func (k CompletionKind) String() string {
	switch k {
	case CompletionKindFunction:
		return "Function"
	case CompletionKindMethod:
		return "Method"
	case CompletionKindVariable:
		return "Variable"
	case CompletionKindField:
		return "Field"
	case CompletionKindKeyword:
		return "Keyword"
	case CompletionKindModule:
		return "Module"
	case CompletionKindStruct:
		return "Struct"
	case CompletionKindEnum:
		return "Enum"
	case CompletionKindInterface:
		return "Interface"
	case CompletionKindConstant:
		return "Constant"
	default:
		return "Other"
	}
}

// Icon returns the single glyph shown in the completion popup.
func (k CompletionKind) Icon() string {
	switch k {
	case CompletionKindFunction:
		return "ƒ"
	case CompletionKindMethod:
		return "m"
	case CompletionKindVariable:
		return "v"
	case CompletionKindField:
		return "f"
	case CompletionKindKeyword:
		return "k"
	case CompletionKindModule:
		return "M"
	case CompletionKindStruct:
		return "S"
	case CompletionKindEnum:
		return "E"
	case CompletionKindInterface:
		return "I"
	case CompletionKindConstant:
		return "C"
	default:
		return "•"
	}
}

// cells measures display width independent of the user's locale.
var cells = &runewidth.Condition{EastAsianWidth: false}

// FormatCompletionItem renders item as "icon label : detail" in exactly
// width terminal cells. The detail is dropped when it does not fit, and an
// overlong label is cut with "...".
func FormatCompletionItem(item CompletionItem, width int) string {
	if width <= 0 {
		return ""
	}

	icon := CompletionKindOther.Icon()
	if item.Kind != nil {
		icon = item.Kind.Icon()
	}

	display := icon + " " + item.Label
	if item.Detail != nil {
		detail := " : " + *item.Detail
		if cells.StringWidth(display)+cells.StringWidth(detail) < width {
			display += detail
		}
	}

	if cells.StringWidth(display) > width {
		return cells.FillRight(cells.Truncate(display, width, "..."), width)
	}
	return cells.FillRight(display, width)
}
