// Package server implements the Rill language server.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/rill-lang/rill/pkg/parser"
	"github.com/rill-lang/rill/pkg/token"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "rill-lsp"

var lspLog = commonlog.GetLogger("rill.lsp")

// LspServer serves editor features for Rill source files over stdio.
// Diagnostics come from the real lexer and parser; hover and completion
// cover the keywords and builtins, which need no program state.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new language server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			text := whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	uri := params.TextDocument.URI
	pos := params.Position

	s.mu.Lock()
	text, ok := s.docs[string(uri)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, pos)
	if prefix == "" {
		return nil, nil
	}

	return complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	uri := params.TextDocument.URI
	pos := params.Position

	s.mu.Lock()
	text, ok := s.docs[string(uri)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	word := extractWord(text, pos)
	if word == "" {
		return nil, nil
	}

	return hover(word), nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	lspLog.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose parses the document and turns each parse error into a
// diagnostic. The slice is non-nil even when empty so a fixed document
// clears its old squiggles.
func diagnose(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}

	_, err := parser.Parse(text)
	if err == nil {
		return diagnostics
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	for _, e := range unjoin(err) {
		rng := protocol.Range{}
		msg := e.Error()

		var pe *parser.Error
		if errors.As(e, &pe) {
			rng = rangeAt(pe.Pos)
			msg = pe.Msg
		}

		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    rng,
			Severity: &severity,
			Source:   &source,
			Message:  msg,
		})
	}
	return diagnostics
}

// unjoin flattens the joined error a failed parse returns.
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// rangeAt converts a 1-based source position to a 0-based LSP range
// covering a single character.
func rangeAt(pos token.Position) protocol.Range {
	line := uint32(max(pos.Line-1, 0))
	ch := uint32(max(pos.Column-1, 0))
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: ch},
		End:   protocol.Position{Line: line, Character: ch + 1},
	}
}

// --- Hover and completion tables ---

// builtinDoc describes one builtin function for hover and completion.
type builtinDoc struct {
	signature string
	detail    string
}

var builtinDocs = map[string]builtinDoc{
	"clock":     {"clock()", "Seconds since the Unix epoch, as a float."},
	"len":       {"len(x)", "Length of a string, array or object."},
	"str":       {"str(x)", "The display string of any value."},
	"int":       {"int(x)", "Convert a number to an integer, truncating."},
	"float":     {"float(x)", "Convert a number to a float."},
	"type":      {"type(x)", "The type name of a value, as a string."},
	"arange":    {"arange(start, stop, step)", "Array of integers from start up to stop, exclusive."},
	"abs":       {"abs(x)", "Absolute value."},
	"round":     {"round(x)", "Round to the nearest integer, as a float."},
	"sqrt":      {"sqrt(x)", "Square root."},
	"sin":       {"sin(x)", "Sine of x radians."},
	"cos":       {"cos(x)", "Cosine of x radians."},
	"tan":       {"tan(x)", "Tangent of x radians."},
	"asin":      {"asin(x)", "Arcsine, in radians."},
	"acos":      {"acos(x)", "Arccosine, in radians."},
	"atan":      {"atan(x)", "Arctangent, in radians."},
	"floor":     {"floor(x)", "Largest integer value not greater than x."},
	"ceil":      {"ceil(x)", "Smallest integer value not less than x."},
	"log2":      {"log2(x)", "Base-2 logarithm."},
	"log10":     {"log10(x)", "Base-10 logarithm."},
	"ln":        {"ln(x)", "Natural logarithm."},
	"exp":       {"exp(x)", "e raised to x."},
	"pow":       {"pow(x, y)", "x raised to y."},
	"min":       {"min(a, b)", "Smaller of two numbers."},
	"max":       {"max(a, b)", "Larger of two numbers."},
	"rand":      {"rand()", "Random float in [0, 1)."},
	"randint":   {"randint(lo, hi)", "Random integer in [lo, hi]."},
	"sleep":     {"sleep(ms)", "Park the current thread for ms milliseconds."},
	"thread_id": {"thread_id()", "ID of the current thread. The main thread is 0."},
	"pipe":      {"pipe(capacity)", "New bounded pipe with the given buffer capacity."},
	"pi":        {"pi", "The circle constant, 3.14159…"},
}

// methodDocs covers the builtin pseudo-methods, keyed by method name.
var methodDocs = map[string]builtinDoc{
	"join":    {"h.join()", "Wait for the thread behind handle h and return its result."},
	"close":   {"p.close()", "Close pipe p. Readers drain the buffer then receive null; parked writers fault."},
	"upper":   {"s.upper()", "Uppercase copy of s."},
	"lower":   {"s.lower()", "Lowercase copy of s."},
	"trim":    {"s.trim()", "Copy of s with surrounding whitespace removed."},
	"split":   {"s.split(sep)", "Array of the substrings of s between separators."},
	"push":    {"a.push(v)", "Append v to array a."},
	"pop":     {"a.pop()", "Remove and return the last element of a."},
	"shift":   {"a.shift()", "Remove and return the first element of a."},
	"unshift": {"a.unshift(v)", "Prepend v to array a."},
	"slice":   {"a.slice(start, end)", "Copy of a[start:end]."},
	"sum":     {"a.sum()", "Sum of the elements of a, as a float."},
}

var keywordDocs = map[string]string{
	"let":     "Declare a variable: `let x = expr`",
	"struct":  "Declare a struct type: `struct Point { x y }`",
	"fn":      "Declare a function: `fn add(a, b) { return a + b }`",
	"true":    "Boolean true.",
	"false":   "Boolean false.",
	"null":    "The absent value. Truthy, unlike false, 0, 0.0 and \"\".",
	"for":     "Loop: `for init; cond; step { }` or `for x in seq { }`",
	"in":      "Iteration clause of a for loop.",
	"while":   "Loop while a condition holds.",
	"if":      "Conditional statement.",
	"else":    "Alternative branch of an if.",
	"return":  "Return from the enclosing function.",
	"self":    "The receiver inside a struct method.",
	"disp":    "Print a value followed by a newline: `disp expr`",
	"spawn":   "Run a block on new green threads: `spawn { }` or `spawn n { }`. Yields a handle (or array of handles).",
	"select":  "Wait on several pipe operations; runs one ready case, chosen uniformly at random.",
	"default": "Select case taken when no pipe case is ready.",
	"close":   "Close a pipe: `close(p)`",
}

// hover renders documentation for the identifier under the cursor.
// Keywords win over the builtin tables so `close p` shows the statement
// form, not the pipe method.
func hover(word string) *protocol.Hover {
	var b strings.Builder

	if doc, ok := keywordDocs[word]; ok {
		fmt.Fprintf(&b, "**%s** (keyword)\n\n%s", word, doc)
	} else if doc, ok := builtinDocs[word]; ok {
		fmt.Fprintf(&b, "```rill\n%s\n```\n\n%s", doc.signature, doc.detail)
	} else if doc, ok := methodDocs[word]; ok {
		fmt.Fprintf(&b, "```rill\n%s\n```\n\n%s", doc.signature, doc.detail)
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// complete lists the keywords, builtins and methods matching a prefix.
func complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(strings.ToLower(label), lowerPrefix) {
			return
		}
		labelCopy := label
		detailCopy := detail
		kindCopy := kind
		items = append(items, protocol.CompletionItem{
			Label:      labelCopy,
			Kind:       &kindCopy,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	for word := range token.Keywords {
		add(word, protocol.CompletionItemKindKeyword, "keyword")
	}
	for name, doc := range builtinDocs {
		kind := protocol.CompletionItemKindFunction
		if name == "pi" {
			kind = protocol.CompletionItemKindConstant
		}
		add(name, kind, doc.signature)
	}
	for name, doc := range methodDocs {
		add(name, protocol.CompletionItemKindMethod, doc.signature)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}

	// Find end
	end := col
	for end < len(line) {
		ch := rune(line[end])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			end++
		} else {
			break
		}
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
