package lsp

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/dshills/scame/internal/lsp/protocol"
)

// dispatch reads frames until the server's stdout ends and emits the events
// they classify to. Termination is silent; the client becomes defunct.
func (c *Client) dispatch() {
	defer func() {
		c.defunct.Store(true)
		close(c.done)
	}()

	for {
		body, err := ReadMessage(c.reader)
		if err != nil {
			if errors.Is(err, errInvalidUTF8) {
				c.log.WithError(err).Debug("skipping frame")
				continue
			}
			if IsFrameError(err) {
				c.log.WithError(err).Warn("malformed frame from server, dispatcher stopped")
				return
			}
			c.log.WithError(err).Debug("dispatcher stopped")
			return
		}
		c.metrics.frameRead(c.language)
		c.log.WithField("bytes", len(body)).Debug("frame read")
		if c.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
			c.log.WithField("body", string(body)).Trace("frame body")
		}

		ev := classify(body, c.buffer, c.takePending)
		if ev == nil {
			c.metrics.dropped(dropUnclassified)
			continue
		}
		c.emit(ev)
	}
}

// classify turns one inbound frame into an event, or nil when the frame
// carries nothing for the editor.
//
// Responses whose id has a recorded kind are decoded as that kind first.
// Otherwise, or if that decode fails, the result is sniffed by shape:
// initialize echo, null, list with items, bare array of items, single
// location, location array, then location link array.
func classify(body []byte, buffer BufferID, lookup func(id int64) responseKind) Event {
	if !gjson.ValidBytes(body) {
		return nil
	}
	msg := gjson.ParseBytes(body)
	if !msg.IsObject() {
		return nil
	}

	if method := msg.Get("method"); method.Type == gjson.String {
		if method.String() != methodDiagnostics {
			return nil
		}
		ev, ok := decodeDiagnostics(msg.Get("params"), buffer)
		if !ok {
			return nil
		}
		return ev
	}

	id := msg.Get("id")
	if !id.Exists() {
		return nil
	}
	kind := kindUnknown
	if id.Type == gjson.Number && lookup != nil {
		kind = lookup(id.Int())
	}

	if e := msg.Get("error"); e.Exists() {
		message := e.Get("message")
		if message.Type != gjson.String {
			return nil
		}
		return ErrorEvent{
			Message: "LSP error: " + message.String(),
			Err:     &ProtocolError{Code: int(e.Get("code").Int()), Message: message.String()},
		}
	}

	result := msg.Get("result")
	if !result.Exists() {
		return nil
	}

	switch kind {
	case kindCompletion:
		if items, ok := decodeCompletion(result); ok {
			return CompletionEvent{Items: items}
		}
	case kindDefinition:
		if loc, ok := decodeDefinition(result); ok {
			if loc == nil {
				return nil
			}
			return GotoDefinitionEvent{Location: *loc}
		}
	}
	return sniffResult(result)
}

// sniffResult classifies a response result purely by its JSON shape.
func sniffResult(result gjson.Result) Event {
	if result.IsObject() && result.Get("capabilities").Exists() {
		return nil
	}
	if result.Type == gjson.Null {
		return nil
	}

	if result.IsObject() && result.Get("items").Exists() {
		if items, ok := decodeCompletionList(result); ok {
			return CompletionEvent{Items: items}
		}
	} else if result.IsArray() {
		if items, ok := decodeCompletionItems(result); ok {
			return CompletionEvent{Items: items}
		}
	}

	if loc, ok := decodeDefinition(result); ok {
		if loc == nil {
			return nil
		}
		return GotoDefinitionEvent{Location: *loc}
	}
	return nil
}

// decodeCompletion accepts either completion result form.
func decodeCompletion(result gjson.Result) ([]CompletionItem, bool) {
	if result.IsObject() {
		return decodeCompletionList(result)
	}
	return decodeCompletionItems(result)
}

func decodeCompletionList(result gjson.Result) ([]CompletionItem, bool) {
	if !result.IsObject() {
		return nil, false
	}
	if inc := result.Get("isIncomplete"); inc.Exists() && !isBool(inc) {
		return nil, false
	}
	return decodeCompletionItems(result.Get("items"))
}

func decodeCompletionItems(arr gjson.Result) ([]CompletionItem, bool) {
	if !arr.IsArray() {
		return nil, false
	}
	raw := arr.Array()
	items := make([]CompletionItem, 0, len(raw))
	for _, r := range raw {
		item, ok := decodeCompletionItem(r)
		if !ok {
			return nil, false
		}
		items = append(items, convertCompletionItem(item))
	}
	return items, true
}

func decodeCompletionItem(r gjson.Result) (protocol.CompletionItem, bool) {
	var item protocol.CompletionItem
	if !r.IsObject() {
		return item, false
	}

	label := r.Get("label")
	if label.Type != gjson.String {
		return item, false
	}
	item.Label = label.String()

	switch kind := r.Get("kind"); kind.Type {
	case gjson.Number:
		item.Kind = protocol.CompletionItemKind(kind.Int())
	case gjson.Null:
	default:
		if kind.Exists() {
			return item, false
		}
	}

	var ok bool
	if item.Detail, ok = optionalString(r.Get("detail")); !ok {
		return item, false
	}
	if item.InsertText, ok = optionalString(r.Get("insertText")); !ok {
		return item, false
	}
	return item, true
}

func convertCompletionItem(item protocol.CompletionItem) CompletionItem {
	out := CompletionItem{
		Label:      item.Label,
		Detail:     item.Detail,
		InsertText: item.Label,
	}
	if item.InsertText != nil {
		out.InsertText = *item.InsertText
	}
	if item.Kind != 0 {
		k := completionKindFromLSP(item.Kind)
		out.Kind = &k
	}
	return out
}

// decodeDefinition tries a single location, a location array, then a link
// array. ok reports whether any form decoded; loc is nil when the decoded
// form names no local file.
func decodeDefinition(result gjson.Result) (loc *Location, ok bool) {
	if l, ok := decodeLocation(result); ok {
		return toLocation(l.URI, l.Range.Start), true
	}

	if locs, ok := decodeArray(result, decodeLocation); ok {
		if len(locs) == 0 {
			return nil, true
		}
		return toLocation(locs[0].URI, locs[0].Range.Start), true
	}

	if links, ok := decodeArray(result, decodeLocationLink); ok {
		if len(links) == 0 {
			return nil, true
		}
		return toLocation(links[0].TargetURI, links[0].TargetSelectionRange.Start), true
	}
	return nil, false
}

func toLocation(uri protocol.DocumentURI, pos protocol.Position) *Location {
	path, ok := protocol.URIToFilePath(uri)
	if !ok {
		return nil
	}
	return &Location{Path: path, Position: Position{Line: pos.Line, Column: pos.Character}}
}

func decodeArray[T any](arr gjson.Result, decode func(gjson.Result) (T, bool)) ([]T, bool) {
	if !arr.IsArray() {
		return nil, false
	}
	raw := arr.Array()
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		v, ok := decode(r)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func decodeLocation(r gjson.Result) (protocol.Location, bool) {
	var loc protocol.Location
	if !r.IsObject() {
		return loc, false
	}
	uri := r.Get("uri")
	if uri.Type != gjson.String {
		return loc, false
	}
	rng, ok := decodeRange(r.Get("range"))
	if !ok {
		return loc, false
	}
	loc.URI = protocol.DocumentURI(uri.String())
	loc.Range = rng
	return loc, true
}

func decodeLocationLink(r gjson.Result) (protocol.LocationLink, bool) {
	var link protocol.LocationLink
	if !r.IsObject() {
		return link, false
	}
	uri := r.Get("targetUri")
	if uri.Type != gjson.String {
		return link, false
	}

	var ok bool
	if link.TargetRange, ok = decodeRange(r.Get("targetRange")); !ok {
		return link, false
	}
	if link.TargetSelectionRange, ok = decodeRange(r.Get("targetSelectionRange")); !ok {
		return link, false
	}
	if origin := r.Get("originSelectionRange"); origin.Exists() && origin.Type != gjson.Null {
		rng, ok := decodeRange(origin)
		if !ok {
			return link, false
		}
		link.OriginSelectionRange = &rng
	}
	link.TargetURI = protocol.DocumentURI(uri.String())
	return link, true
}

func decodeRange(r gjson.Result) (protocol.Range, bool) {
	var rng protocol.Range
	if !r.IsObject() {
		return rng, false
	}
	var ok bool
	if rng.Start, ok = decodePosition(r.Get("start")); !ok {
		return rng, false
	}
	if rng.End, ok = decodePosition(r.Get("end")); !ok {
		return rng, false
	}
	return rng, true
}

func decodePosition(r gjson.Result) (protocol.Position, bool) {
	var pos protocol.Position
	if !r.IsObject() {
		return pos, false
	}
	line, ok := unsigned(r.Get("line"))
	if !ok {
		return pos, false
	}
	char, ok := unsigned(r.Get("character"))
	if !ok {
		return pos, false
	}
	pos.Line, pos.Character = line, char
	return pos, true
}

// decodeDiagnostics converts publishDiagnostics params. Diagnostics are
// tagged with buffer; the path is empty for non-file URIs.
func decodeDiagnostics(params gjson.Result, buffer BufferID) (DiagnosticsEvent, bool) {
	ev := DiagnosticsEvent{Buffer: buffer}
	if !params.IsObject() {
		return ev, false
	}
	uri := params.Get("uri")
	if uri.Type != gjson.String {
		return ev, false
	}
	ev.Path, _ = protocol.URIToFilePath(protocol.DocumentURI(uri.String()))

	list := params.Get("diagnostics")
	if !list.IsArray() {
		return ev, false
	}
	raw := list.Array()
	ev.Diagnostics = make([]Diagnostic, 0, len(raw))
	for _, r := range raw {
		if !r.IsObject() {
			return ev, false
		}
		rng, ok := decodeRange(r.Get("range"))
		if !ok {
			return ev, false
		}
		msg := r.Get("message")
		if msg.Type != gjson.String {
			return ev, false
		}
		sev := r.Get("severity")
		if sev.Exists() && sev.Type != gjson.Number && sev.Type != gjson.Null {
			return ev, false
		}
		ev.Diagnostics = append(ev.Diagnostics, Diagnostic{
			Start:    Position{Line: rng.Start.Line, Column: rng.Start.Character},
			End:      Position{Line: rng.End.Line, Column: rng.End.Character},
			Severity: severityFromLSP(protocol.DiagnosticSeverity(sev.Int())),
			Message:  msg.String(),
		})
	}
	return ev, true
}

func severityFromLSP(s protocol.DiagnosticSeverity) Severity {
	switch s {
	case protocol.DiagnosticSeverityError:
		return SeverityError
	case protocol.DiagnosticSeverityWarning:
		return SeverityWarning
	case protocol.DiagnosticSeverityHint:
		return SeverityHint
	default:
		return SeverityInformation
	}
}

func unsigned(r gjson.Result) (int, bool) {
	if r.Type != gjson.Number {
		return 0, false
	}
	f := r.Float()
	if f < 0 || f != float64(int64(f)) {
		return 0, false
	}
	return int(f), true
}

func optionalString(r gjson.Result) (*string, bool) {
	switch r.Type {
	case gjson.String:
		s := r.String()
		return &s, true
	case gjson.Null:
		return nil, true
	default:
		return nil, false
	}
}

func isBool(r gjson.Result) bool {
	return r.Type == gjson.True || r.Type == gjson.False
}
