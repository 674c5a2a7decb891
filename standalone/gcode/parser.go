// Package gcode parses g-code lines and executes them on the motion
// controller
package gcode

import (
	"errors"
	"fmt"
)

var (
	// ErrBadNumber is returned when a word has no valid value
	ErrBadNumber = errors.New("gcode: bad number format")

	// ErrRepeatedWord is returned when a parameter letter appears twice
	ErrRepeatedWord = errors.New("gcode: repeated word")
)

// Code is a G or M word. Sub holds the first decimal (G38.2 -> 38, 2).
type Code struct {
	Letter byte
	Number int
	Sub    int
}

func (c Code) String() string {
	if c.Sub != 0 {
		return fmt.Sprintf("%c%d.%d", c.Letter, c.Number, c.Sub)
	}
	return fmt.Sprintf("%c%d", c.Letter, c.Number)
}

// Command is one parsed line
type Command struct {
	Codes      []Code           // G and M words in line order
	Parameters map[byte]float64 // X, Y, Z, F, S, I, J, K, R, P...
	Line       int              // N word, -1 when absent
	Comment    string
}

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. It returns nil for a blank line.
func (p *Parser) ParseLine(line string) (*Command, error) {
	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil, nil
	}

	cmd := &Command{
		Parameters: make(map[byte]float64),
		Line:       -1,
	}

	for i < len(line) {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}

		c := line[i]
		if c == ';' || c == '(' {
			cmd.Comment = line[i:]
			break
		}
		if !isLetter(c) {
			return nil, fmt.Errorf("%w: unexpected '%c'", ErrBadNumber, c)
		}
		letter := toUpper(c)
		i = skipSpace(line, i+1)

		switch letter {
		case 'G', 'M':
			num, next := parseInt(line, i)
			if next <= i {
				return nil, fmt.Errorf("%w: %c", ErrBadNumber, letter)
			}
			code := Code{Letter: letter, Number: num}
			i = next
			if i < len(line) && line[i] == '.' {
				sub, next := parseInt(line, i+1)
				if next > i+1 {
					code.Sub = sub
					i = next
				} else {
					i++
				}
			}
			cmd.Codes = append(cmd.Codes, code)
		case 'N':
			num, next := parseInt(line, i)
			if next <= i || num < 0 {
				return nil, fmt.Errorf("%w: N", ErrBadNumber)
			}
			cmd.Line = num
			i = next
		default:
			value, next := parseFloat(line, i)
			if next <= i {
				return nil, fmt.Errorf("%w: %c", ErrBadNumber, letter)
			}
			if _, dup := cmd.Parameters[letter]; dup {
				return nil, fmt.Errorf("%w: %c", ErrRepeatedWord, letter)
			}
			cmd.Parameters[letter] = value
			i = next
		}
	}

	return cmd, nil
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\r' || s[pos] == '\n') {
		pos++
	}
	return pos
}

// parseInt parses an integer from the string starting at pos
func parseInt(s string, pos int) (int, int) {
	if pos >= len(s) {
		return 0, pos
	}

	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	value := 0

	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}

	if pos == start {
		return 0, start - 1 // No digits found
	}

	if negative {
		value = -value
	}

	return value, pos
}

// parseFloat parses a floating-point number from the string starting at pos
func parseFloat(s string, pos int) (float64, int) {
	if pos >= len(s) {
		return 0, pos
	}

	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	intPart := 0.0
	fracPart := 0.0
	divisor := 1.0

	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		intPart = intPart*10 + float64(s[pos]-'0')
		pos++
	}

	if pos < len(s) && s[pos] == '.' {
		pos++
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			fracPart = fracPart*10 + float64(s[pos]-'0')
			divisor *= 10
			pos++
		}
	}

	if pos == start || (pos == start+1 && s[start] == '.') {
		return 0, start - 1 // No valid number found
	}

	value := intPart + fracPart/divisor
	if negative {
		value = -value
	}

	return value, pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// HasCode reports whether the line carries the given G or M word
func (cmd *Command) HasCode(letter byte, number int) bool {
	for _, c := range cmd.Codes {
		if c.Letter == letter && c.Number == number {
			return true
		}
	}
	return false
}
