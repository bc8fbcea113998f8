package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Field is a single key/value pair inside a record. Keys and values are
// free-form UTF-8 strings; reserved separator bytes are escaped on the wire.
type Field struct {
	Key   string
	Value string
}

// Record is an ordered group of fields, one [k:v|k:v] unit on the wire.
type Record []Field

// Payload is an ordered list of records. The zero value is the empty
// payload and encodes to zero bytes.
type Payload []Record

// AddRecord appends a new empty record.
func (p *Payload) AddRecord() {
	*p = append(*p, Record{})
}

// Add appends a key/value pair to the last record, creating the record if
// the payload has none yet.
func (p *Payload) Add(key, value string) {
	if len(*p) == 0 {
		p.AddRecord()
	}
	last := len(*p) - 1
	(*p)[last] = append((*p)[last], Field{Key: key, Value: value})
}

// AddInt appends a key with a decimal integer value to the last record.
func (p *Payload) AddInt(key string, value int) {
	p.Add(key, strconv.Itoa(value))
}

// Value returns the value of the first field named key in record rec.
func (p Payload) Value(rec int, key string) (string, bool) {
	if rec < 0 || rec >= len(p) {
		return "", false
	}
	for _, f := range p[rec] {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Int reads the field named key in record rec as a signed decimal integer.
func (p Payload) Int(rec int, key string) (int, error) {
	v, ok := p.Value(rec, key)
	if !ok {
		return 0, fmt.Errorf("record %d: missing key %q", rec, key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("record %d: key %q: %w", rec, key, err)
	}
	return n, nil
}

// Encode serialises the payload to its wire form: records as [k:v|k:v]
// groups joined by commas. Zero records encode to zero bytes.
func (p Payload) Encode() []byte {
	if len(p) == 0 {
		return nil
	}
	var b []byte
	for i, rec := range p {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '[')
		for j, f := range rec {
			if j > 0 {
				b = append(b, '|')
			}
			b = appendEscaped(b, f.Key)
			b = append(b, ':')
			b = appendEscaped(b, f.Value)
		}
		b = append(b, ']')
	}
	return b
}

// ParsePayload decodes wire payload text. Parsing is deliberately tolerant:
// a field with no ':' separator is skipped, and a malformed bracket ends
// parsing at that point. Adversarial input yields a shorter payload, never
// an error, so a worker cannot be crashed through the codec.
func ParsePayload(data []byte) Payload {
	var p Payload
	s := string(data)
	i := 0
	for i < len(s) {
		if s[i] != '[' {
			break
		}
		end := strings.IndexByte(s[i:], ']')
		if end < 0 {
			break
		}
		p = append(p, parseRecord(s[i+1:i+end]))
		i += end + 1
		if i < len(s) {
			if s[i] != ',' {
				break
			}
			i++
		}
	}
	return p
}

func parseRecord(s string) Record {
	rec := Record{}
	for _, field := range strings.Split(s, "|") {
		colon := strings.IndexByte(field, ':')
		if colon < 0 {
			continue
		}
		rec = append(rec, Field{
			Key:   Unescape(field[:colon]),
			Value: Unescape(field[colon+1:]),
		})
	}
	return rec
}

const (
	escapeMark = '\\'
	escapeXor  = 0x7F
)

// reservedByte reports whether b collides with the payload syntax.
func reservedByte(b byte) bool {
	switch b {
	case '|', ':', '[', ']', ',', escapeMark:
		return true
	}
	return false
}

// Escape replaces every reserved byte with the escape mark followed by the
// byte XOR 0x7F. No reserved byte survives except as the mark itself.
func Escape(s string) string {
	return string(appendEscaped(nil, s))
}

// Unescape inverts Escape: drops each escape mark and XORs the byte that
// follows it. A trailing lone mark is kept as-is.
func Unescape(s string) string {
	if strings.IndexByte(s, escapeMark) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == escapeMark && i+1 < len(s) {
			i++
			b.WriteByte(s[i] ^ escapeXor)
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if reservedByte(s[i]) {
			dst = append(dst, escapeMark, s[i]^escapeXor)
		} else {
			dst = append(dst, s[i])
		}
	}
	return dst
}
