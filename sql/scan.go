package sql

import "strings"

// Scanner steps through SQL text one byte at a time, tracking enough
// lexical state to find statement boundaries without parsing: string
// literals, quoted identifiers and comments.
type Scanner struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

func NewScanner(input string) *Scanner {
	scanner := &Scanner{input: input}
	scanner.readChar()
	return scanner
}

func (scanner *Scanner) readChar() {
	if scanner.readPosition >= len(scanner.input) {
		scanner.ch = 0
	} else {
		scanner.ch = scanner.input[scanner.readPosition]
	}
	scanner.position = scanner.readPosition
	scanner.readPosition++
}

func (scanner *Scanner) peekChar() byte {
	if scanner.readPosition >= len(scanner.input) {
		return 0
	}
	return scanner.input[scanner.readPosition]
}

// scanStatement consumes input up to and including the next semicolon
// that sits outside strings, quoted identifiers and comments. It
// returns the statement text without its terminator, trimmed, and
// whether the terminator was found before the input ran out. Text that
// is only whitespace and comments comes back empty.
func (scanner *Scanner) scanStatement() (string, bool) {
	start := scanner.position
	content := false

	for {
		switch {
		case scanner.ch == 0:
			stmt := strings.TrimSpace(scanner.input[start:scanner.position])
			if !content {
				stmt = ""
			}
			return stmt, false
		case scanner.ch == ';':
			stmt := strings.TrimSpace(scanner.input[start:scanner.position])
			if !content {
				stmt = ""
			}
			scanner.readChar()
			return stmt, true
		case scanner.ch == '\'', scanner.ch == '"', scanner.ch == '`':
			scanner.readQuoted(scanner.ch)
			content = true
		case scanner.ch == '[':
			scanner.readBracketed()
			content = true
		case scanner.ch == '-' && scanner.peekChar() == '-':
			scanner.skipLineComment()
		case scanner.ch == '/' && scanner.peekChar() == '*':
			scanner.skipBlockComment()
		default:
			if !isSpace(scanner.ch) {
				content = true
			}
			scanner.readChar()
		}
	}
}

// readQuoted consumes a quoted region. Doubling the quote character
// escapes it, as in 'it''s'. An unclosed region runs to the end of
// the input.
func (scanner *Scanner) readQuoted(quote byte) {
	scanner.readChar()
	for {
		switch {
		case scanner.ch == 0:
			return
		case scanner.ch == quote && scanner.peekChar() == quote:
			scanner.readChar()
			scanner.readChar()
		case scanner.ch == quote:
			scanner.readChar()
			return
		default:
			scanner.readChar()
		}
	}
}

// readBracketed consumes a [bracketed] identifier. There is no escape
// for ] inside brackets.
func (scanner *Scanner) readBracketed() {
	scanner.readChar()
	for scanner.ch != ']' && scanner.ch != 0 {
		scanner.readChar()
	}
	if scanner.ch == ']' {
		scanner.readChar()
	}
}

func (scanner *Scanner) skipLineComment() {
	for scanner.ch != '\n' && scanner.ch != 0 {
		scanner.readChar()
	}
}

// skipBlockComment consumes a /* */ comment. An unclosed comment runs
// to the end of the input, as in SQLite's own tokenizer.
func (scanner *Scanner) skipBlockComment() {
	scanner.readChar()
	scanner.readChar()
	for scanner.ch != 0 {
		if scanner.ch == '*' && scanner.peekChar() == '/' {
			scanner.readChar()
			scanner.readChar()
			return
		}
		scanner.readChar()
	}
}

// Split breaks a script into statements at top-level semicolons.
// Terminators are dropped, statements are trimmed, and statements
// that hold nothing but whitespace and comments are omitted. Comments
// inside a statement stay in place. The final statement does not need
// a terminator.
func Split(script string) []string {
	scanner := NewScanner(script)

	var statements []string
	for {
		stmt, terminated := scanner.scanStatement()
		if stmt != "" {
			statements = append(statements, stmt)
		}
		if !terminated {
			return statements
		}
	}
}

// Terminated reports whether input ends with a statement terminator,
// meaning a semicolon outside strings, quoted identifiers and
// comments. Interactive input is ready to execute when this returns
// true.
func Terminated(input string) bool {
	scanner := NewScanner(input)

	complete := false
	for {
		stmt, terminated := scanner.scanStatement()
		if !terminated {
			return complete && stmt == ""
		}
		complete = true
	}
}

// IsQuery reports whether a statement's leading keyword begins a
// row-returning statement.
func IsQuery(stmt string) bool {
	switch LeadingKeyword(stmt) {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN":
		return true
	}
	return false
}

// LeadingKeyword returns the first word of a statement in upper case,
// skipping leading whitespace and comments.
func LeadingKeyword(stmt string) string {
	scanner := NewScanner(stmt)
	for {
		switch {
		case scanner.ch == '-' && scanner.peekChar() == '-':
			scanner.skipLineComment()
		case scanner.ch == '/' && scanner.peekChar() == '*':
			scanner.skipBlockComment()
		case isSpace(scanner.ch):
			scanner.readChar()
		default:
			start := scanner.position
			for isWordByte(scanner.ch) {
				scanner.readChar()
			}
			return toUpper(scanner.input[start:scanner.position])
		}
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isWordByte(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9') || ch == '_'
}

// toUpper converts a string to uppercase without allocating for ASCII strings
func toUpper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			// Need to convert, allocate a new string
			b := make([]byte, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] >= 'a' && s[j] <= 'z' {
					b[j] = s[j] - 32
				} else {
					b[j] = s[j]
				}
			}
			return string(b)
		}
	}
	return s
}
