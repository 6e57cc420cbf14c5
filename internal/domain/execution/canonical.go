package execution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Canonical re-encodes a JSON document into the form used for equality checks.
//
// The canonical form is compact JSON where object members keep their source
// order, numbers are printed the way ECMAScript Number::toString prints them
// and strings are escaped the way JSON.stringify escapes them. Two values are
// equal for grading purposes iff their canonical forms are byte-identical, so
// {"a":1,"b":2} and {"b":2,"a":1} differ, 2 and "2" differ, and 1.0 and 1 are
// equal. Lone surrogate escapes such as "\ud800" are kept as written.
func Canonical(raw []byte) ([]byte, error) {
	c := &canonicalizer{raw: raw, dec: json.NewDecoder(bytes.NewReader(raw))}
	c.dec.UseNumber()

	if err := c.value(); err != nil {
		return nil, err
	}
	if _, err := c.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("canonical: trailing data after JSON value")
	}
	return c.buf.Bytes(), nil
}

// SameValue reports whether two JSON documents have identical canonical forms.
func SameValue(a, b []byte) (bool, error) {
	ca, err := Canonical(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

// canonicalizer walks the decoder's tokens for structure but reads strings
// from the raw input: the decoder folds lone surrogates into U+FFFD.
type canonicalizer struct {
	raw []byte
	dec *json.Decoder
	buf bytes.Buffer
}

func (c *canonicalizer) value() error {
	tok, err := c.dec.Token()
	if err != nil {
		return fmt.Errorf("canonical: %w", err)
	}
	return c.token(tok)
}

func (c *canonicalizer) token(tok json.Token) error {
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '[':
			return c.array()
		case '{':
			return c.object()
		default:
			return fmt.Errorf("canonical: unexpected delimiter %q", v)
		}
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return fmt.Errorf("canonical: number %q: %w", v, err)
		}
		if math.IsInf(f, 0) {
			// JSON.stringify renders non-finite numbers as null.
			c.buf.WriteString("null")
			return nil
		}
		c.buf.WriteString(FormatNumber(f))
	case string:
		return c.string()
	case bool:
		c.buf.WriteString(strconv.FormatBool(v))
	case nil:
		c.buf.WriteString("null")
	default:
		return fmt.Errorf("canonical: unexpected token %T", tok)
	}
	return nil
}

func (c *canonicalizer) array() error {
	c.buf.WriteByte('[')
	first := true
	for {
		tok, err := c.dec.Token()
		if err != nil {
			return fmt.Errorf("canonical: %w", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == ']' {
			c.buf.WriteByte(']')
			return nil
		}
		if !first {
			c.buf.WriteByte(',')
		}
		first = false
		if err := c.token(tok); err != nil {
			return err
		}
	}
}

func (c *canonicalizer) object() error {
	c.buf.WriteByte('{')
	first := true
	for {
		tok, err := c.dec.Token()
		if err != nil {
			return fmt.Errorf("canonical: %w", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == '}' {
			c.buf.WriteByte('}')
			return nil
		}
		if _, ok := tok.(string); !ok {
			return fmt.Errorf("canonical: object key is %T", tok)
		}
		if !first {
			c.buf.WriteByte(',')
		}
		first = false
		if err := c.string(); err != nil {
			return err
		}
		c.buf.WriteByte(':')
		if err := c.value(); err != nil {
			return err
		}
	}
}

// string re-encodes the string token the decoder just consumed, which ends
// right before InputOffset with its closing quote.
func (c *canonicalizer) string() error {
	end := int(c.dec.InputOffset()) - 1
	if end <= 0 || end > len(c.raw) || c.raw[end] != '"' {
		return fmt.Errorf("canonical: string token not found at offset %d", end+1)
	}
	start := end - 1
	for ; start >= 0; start-- {
		if c.raw[start] == '"' && !escaped(c.raw, start) {
			break
		}
	}
	if start < 0 {
		return fmt.Errorf("canonical: unterminated string ending at offset %d", end+1)
	}
	return writeRawString(&c.buf, c.raw[start+1:end])
}

// escaped reports whether the byte at idx is preceded by an odd run of backslashes.
func escaped(raw []byte, idx int) bool {
	n := 0
	for i := idx - 1; i >= 0 && raw[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// writeRawString decodes the body of a JSON string literal as UTF-16 code
// units and writes it back quoted.
func writeRawString(buf *bytes.Buffer, body []byte) error {
	units := make([]uint16, 0, len(body))
	for i := 0; i < len(body); {
		b := body[i]
		if b != '\\' {
			r, size := utf8.DecodeRune(body[i:])
			units = utf16.AppendRune(units, r)
			i += size
			continue
		}
		if i+1 >= len(body) {
			return errors.New("canonical: truncated escape")
		}
		switch esc := body[i+1]; esc {
		case '"', '\\', '/':
			units = append(units, uint16(esc))
		case 'b':
			units = append(units, '\b')
		case 'f':
			units = append(units, '\f')
		case 'n':
			units = append(units, '\n')
		case 'r':
			units = append(units, '\r')
		case 't':
			units = append(units, '\t')
		case 'u':
			if i+6 > len(body) {
				return errors.New("canonical: truncated unicode escape")
			}
			v, err := strconv.ParseUint(string(body[i+2:i+6]), 16, 16)
			if err != nil {
				return fmt.Errorf("canonical: unicode escape: %w", err)
			}
			units = append(units, uint16(v))
			i += 6
			continue
		default:
			return fmt.Errorf("canonical: invalid escape %q", esc)
		}
		i += 2
	}
	writeUnits(buf, units)
	return nil
}

// writeUnits quotes a UTF-16 string the way JSON.stringify does: short
// escapes for the usual control characters, \u00xx for the rest and \udxxx
// for unpaired surrogates.
func writeUnits(buf *bytes.Buffer, units []uint16) {
	const hex = "0123456789abcdef"
	buf.WriteByte('"')
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u == '"':
			buf.WriteString(`\"`)
		case u == '\\':
			buf.WriteString(`\\`)
		case u == '\b':
			buf.WriteString(`\b`)
		case u == '\f':
			buf.WriteString(`\f`)
		case u == '\n':
			buf.WriteString(`\n`)
		case u == '\r':
			buf.WriteString(`\r`)
		case u == '\t':
			buf.WriteString(`\t`)
		case u < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hex[u>>4])
			buf.WriteByte(hex[u&0xf])
		case utf16.IsSurrogate(rune(u)):
			if u < 0xdc00 && i+1 < len(units) && units[i+1] >= 0xdc00 && units[i+1] <= 0xdfff {
				buf.WriteRune(utf16.DecodeRune(rune(u), rune(units[i+1])))
				i++
				continue
			}
			buf.WriteString(`\u`)
			buf.WriteByte(hex[u>>12])
			buf.WriteByte(hex[(u>>8)&0xf])
			buf.WriteByte(hex[(u>>4)&0xf])
			buf.WriteByte(hex[u&0xf])
		default:
			buf.WriteRune(rune(u))
		}
	}
	buf.WriteByte('"')
}

// FormatNumber renders f the way ECMAScript Number::toString does.
func FormatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	if f < 0 {
		return "-" + FormatNumber(-f)
	}

	// Shortest round-trip digits and decimal exponent.
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(sci, "e")
	digits := strings.Replace(mantissa, ".", "", 1)
	exp, _ := strconv.Atoi(expPart)

	k := len(digits)
	n := exp + 1

	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}

	sign := "+"
	if n-1 < 0 {
		sign = "-"
	}
	e := n - 1
	if e < 0 {
		e = -e
	}
	if k == 1 {
		return digits + "e" + sign + strconv.Itoa(e)
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + strconv.Itoa(e)
}
