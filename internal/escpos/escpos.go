// Package escpos builds byte streams for ESC/POS thermal printers.
//
// Only the small command set a text receipt needs is covered: initialize,
// code page selection, alignment, print mode and cut. A Document in
// text mode silently drops every command so the same layout code can emit
// a plain-text receipt.
package escpos

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	ESC = 0x1B
	GS  = 0x1D
)

type Align byte

const (
	AlignLeft   Align = 0
	AlignCenter Align = 1
	AlignRight  Align = 2
)

// PrintMode is the ESC ! bit field.
type PrintMode byte

const (
	ModeNormal       PrintMode = 0x00
	ModeEmphasized   PrintMode = 0x08
	ModeDoubleHeight PrintMode = 0x10
	ModeDoubleWidth  PrintMode = 0x20
)

// codePage858 is the ESC t table number for PC858 (Latin-1 with euro sign).
const codePage858 = 19

func Initialize() []byte { return []byte{ESC, '@'} }
func SetAlign(a Align) []byte { return []byte{ESC, 'a', byte(a)} }
func SelectMode(m PrintMode) []byte { return []byte{ESC, '!', byte(m)} }
func SelectCodePage(table byte) []byte { return []byte{ESC, 't', table} }
func FullCut() []byte { return []byte{GS, 'V', 0x00} }

// Mode selects whether control directives are emitted.
type Mode string

const (
	ModeESCPOS Mode = "escpos"
	ModeText   Mode = "text"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "escpos", "esc/pos", "raw":
		return ModeESCPOS, nil
	case "text", "plain":
		return ModeText, nil
	}
	return "", fmt.Errorf("unknown print mode %q", s)
}

// Encoding is the character set text is sent in.
type Encoding string

const (
	EncodingUTF8  Encoding = "utf-8"
	EncodingCP858 Encoding = "cp858"
)

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "cp858", "pc858", "ibm858":
		return EncodingCP858, nil
	}
	return "", fmt.Errorf("unknown printer encoding %q", s)
}

// Document accumulates commands and text. The zero value is not usable;
// call New.
type Document struct {
	mode    Mode
	charset Encoding
	enc     *encoding.Encoder
	buf     bytes.Buffer
}

func New(mode Mode, charset Encoding) *Document {
	d := &Document{mode: mode, charset: charset}
	if charset == EncodingCP858 {
		d.enc = encoding.ReplaceUnsupported(charmap.CodePage858.NewEncoder())
	}
	return d
}

// Command appends raw control bytes. Dropped in text mode.
func (d *Document) Command(cmds ...[]byte) *Document {
	if d.mode == ModeText {
		return d
	}
	for _, c := range cmds {
		d.buf.Write(c)
	}
	return d
}

// Init resets the printer and selects the code page matching the document
// encoding.
func (d *Document) Init() *Document {
	d.Command(Initialize())
	if d.charset == EncodingCP858 {
		d.Command(SelectCodePage(codePage858))
	}
	return d
}

func (d *Document) Align(a Align) *Document { return d.Command(SetAlign(a)) }
func (d *Document) Style(m PrintMode) *Document { return d.Command(SelectMode(m)) }
func (d *Document) Cut() *Document { return d.Command(FullCut()) }
func (d *Document) Line(s string) *Document { return d.Text(s + "\n") }
func (d *Document) Rule(ch byte, n int) *Document { return d.Line(strings.Repeat(string(ch), n)) }
func (d *Document) StyledLine(m PrintMode, s string) *Document {
	return d.Style(m).Line(s).Style(ModeNormal)
}

// Blank appends n empty lines, kept in text mode too.
func (d *Document) Blank(n int) *Document {
	d.buf.WriteString(strings.Repeat("\n", n))
	return d
}

// Text appends s transcoded to the document encoding.
func (d *Document) Text(s string) *Document {
	if d.enc == nil {
		d.buf.WriteString(s)
		return d
	}
	out, err := d.enc.String(s)
	if err != nil {
		out = asciiOnly(s)
	}
	d.buf.WriteString(out)
	return d
}

// Bytes returns a copy of the document so far.
func (d *Document) Bytes() []byte {
	return bytes.Clone(d.buf.Bytes())
}

func (d *Document) Len() int { return d.buf.Len() }

func asciiOnly(s string) string {
	var b strings.Builder
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}
