package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8
	tkString                  // "hello" or 'hello'
	tkIdent                   // variable name, true/false/nil, function name
	tkOp                      // + - * / % == != > < >= <= && || !
	tkLParen                  // (
	tkRParen                  // )
	tkLBracket                // [
	tkRBracket                // ]
	tkLBrace                  // {
	tkRBrace                  // }
	tkComma                   // ,
	tkColon                   // :
	tkDot                     // .
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func tokenize(expression string) ([]token, error) {
	var tokens []token
	runes := []rune(expression)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{tkLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tkRParen, ")", i})
			i++
			continue
		case '[':
			tokens = append(tokens, token{tkLBracket, "[", i})
			i++
			continue
		case ']':
			tokens = append(tokens, token{tkRBracket, "]", i})
			i++
			continue
		case '{':
			tokens = append(tokens, token{tkLBrace, "{", i})
			i++
			continue
		case '}':
			tokens = append(tokens, token{tkRBrace, "}", i})
			i++
			continue
		case ',':
			tokens = append(tokens, token{tkComma, ",", i})
			i++
			continue
		case ':':
			tokens = append(tokens, token{tkColon, ":", i})
			i++
			continue
		}

		if ch == '"' || ch == '\'' {
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s, i})
			i = n
			continue
		}

		// Two-character operators
		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tkOp, two, i})
				i += 2
				continue
			}
		}

		// Single-character operators
		if strings.ContainsRune("+-*/%><!", ch) {
			tokens = append(tokens, token{tkOp, string(ch), i})
			i++
			continue
		}

		// A dot starts either a field access or a fractional number.
		if ch == '.' {
			if i+1 < len(runes) && isDigit(runes[i+1]) {
				num, n := readNumber(runes, i)
				tokens = append(tokens, token{tkNumber, num, i})
				i = n
				continue
			}
			tokens = append(tokens, token{tkDot, ".", i})
			i++
			continue
		}

		if isDigit(ch) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num, i})
			i = n
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident, i})
			i = n
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool  { return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' }
