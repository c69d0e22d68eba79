package responder

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Render formats a message for display. Auto prints printable UTF-8 as
// text and anything else, control bytes included, as space separated hex.
func Render(msg []byte, mode string) string {
	switch mode {
	case "hex":
		return fmt.Sprintf("% x", msg)
	case "text":
		return strings.ToValidUTF8(string(trimEOL(msg)), "�")
	default:
		if text := trimEOL(msg); printable(text) {
			return string(text)
		}
		return fmt.Sprintf("% x", msg)
	}
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r != '\t' && !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func trimEOL(msg []byte) []byte {
	return bytes.TrimRight(msg, "\r\n")
}
