package predict

import (
	"math"
	"strconv"
	"unicode/utf8"
)

// JSON serializes the result. Non-finite numbers are written as the bare
// literals NaN, Infinity, and -Infinity. Text is emitted as UTF-8 without
// \u escapes or HTML escaping.
func (r Result) JSON() string {
	buf := make([]byte, 0, 256+len(r.Segments)*128)
	buf = append(buf, `{"segments":[`...)
	for i, seg := range r.Segments {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, `{"start":`...)
		buf = appendFloat(buf, seg.Start)
		buf = append(buf, `,"end":`...)
		buf = appendFloat(buf, seg.End)
		buf = append(buf, `,"text":`...)
		buf = appendString(buf, seg.Text)
		buf = append(buf, `,"words":`...)
		buf = appendWords(buf, seg.Words)
		buf = append(buf, '}')
	}
	buf = append(buf, `],"word_segments":`...)
	buf = appendWords(buf, r.WordSegments)
	buf = append(buf, `,"language":`...)
	buf = appendString(buf, r.Language)
	buf = append(buf, '}')
	return string(buf)
}

func appendWords(buf []byte, words []Word) []byte {
	buf = append(buf, '[')
	for i, w := range words {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, `{"word":`...)
		buf = appendString(buf, w.Word)
		buf = appendOptional(buf, "start", w.Start)
		buf = appendOptional(buf, "end", w.End)
		buf = appendOptional(buf, "score", w.Score)
		buf = append(buf, '}')
	}
	return append(buf, ']')
}

func appendOptional(buf []byte, key string, value *float64) []byte {
	if value == nil {
		return buf
	}
	buf = append(buf, ',', '"')
	buf = append(buf, key...)
	buf = append(buf, '"', ':')
	return appendFloat(buf, *value)
}

// appendFloat follows encoding/json number formatting for finite values.
func appendFloat(buf []byte, f float64) []byte {
	switch {
	case math.IsNaN(f):
		return append(buf, "NaN"...)
	case math.IsInf(f, 1):
		return append(buf, "Infinity"...)
	case math.IsInf(f, -1):
		return append(buf, "-Infinity"...)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	buf = strconv.AppendFloat(buf, f, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(buf)
		if n >= 4 && buf[n-4] == 'e' && buf[n-3] == '-' && buf[n-2] == '0' {
			buf[n-2] = buf[n-1]
			buf = buf[:n-1]
		}
	}
	return buf
}

const hexDigits = "0123456789abcdef"

func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	start := 0
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			if b >= 0x20 && b != '"' && b != '\\' {
				i++
				continue
			}
			buf = append(buf, s[start:i]...)
			switch b {
			case '"', '\\':
				buf = append(buf, '\\', b)
			case '\n':
				buf = append(buf, '\\', 'n')
			case '\r':
				buf = append(buf, '\\', 'r')
			case '\t':
				buf = append(buf, '\\', 't')
			case '\b':
				buf = append(buf, '\\', 'b')
			case '\f':
				buf = append(buf, '\\', 'f')
			default:
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[b>>4], hexDigits[b&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, s[start:i]...)
			buf = append(buf, "\ufffd"...)
			i += size
			start = i
			continue
		}
		i += size
	}
	buf = append(buf, s[start:]...)
	return append(buf, '"')
}
