package jingle_sdp

import (
	"strings"
)

// ParsedSDP — разобранный SDP-документ: сессионная часть и медиаблоки.
// Каждый блок хранится текстом со строками, завершёнными \r\n; первый
// элемент каждого медиаблока — его m-линия. Порядок строк внутри блока
// сохраняется байт-в-байт.
type ParsedSDP struct {
	// Session — сессионная часть документа (всё до первой m-линии),
	// включая завершающий \r\n.
	Session string
	// Media — медиаблоки, каждый начинается с "m=".
	Media []string
}

// Parse разбирает SDP-текст. Переводы строк нормализуются к \r\n.
// Документ без единой m-линии считается некорректным.
func Parse(text string) (*ParsedSDP, error) {
	norm := strings.ReplaceAll(text, "\r\n", "\n")
	norm = strings.TrimRight(norm, "\n")
	norm = strings.ReplaceAll(norm, "\n", "\r\n")

	parts := strings.Split(norm, "\r\nm=")
	if len(parts) < 2 {
		return nil, malformedSDP("no m-lines found")
	}
	doc := &ParsedSDP{Session: parts[0] + "\r\n"}
	for _, p := range parts[1:] {
		doc.Media = append(doc.Media, "m="+p+"\r\n")
	}
	return doc, nil
}

// String собирает документ обратно в текст.
func (s *ParsedSDP) String() string {
	var b strings.Builder
	b.WriteString(s.Session)
	for _, m := range s.Media {
		b.WriteString(m)
	}
	return b.String()
}

// MediaAttr возвращает значение первой строки медиаблока index с данным
// префиксом (например "a=ice-ufrag:"). Если в блоке строки нет, поиск
// продолжается в сессионной части.
func (s *ParsedSDP) MediaAttr(index int, prefix string) (string, bool) {
	if index < 0 || index >= len(s.Media) {
		return "", false
	}
	return findLineFallback(s.Media[index], s.Session, prefix)
}

// MidIndex возвращает индекс медиаблока с данным a=mid. Если такого mid
// нет, возвращается -1.
func (s *ParsedSDP) MidIndex(mid string) int {
	for i, m := range s.Media {
		if v, ok := findLine(m, "a=mid:"); ok && v == mid {
			return i
		}
	}
	return -1
}

// mLine — разобранная m-линия.
type mLine struct {
	media   string
	port    string
	proto   string
	formats []string
}

func parseMLine(block string) (*mLine, error) {
	line := firstLine(block)
	if !strings.HasPrefix(line, "m=") {
		return nil, malformedSDP("media block does not start with m-line: %q", line)
	}
	fields := strings.Fields(line[2:])
	if len(fields) < 3 {
		return nil, malformedSDP("m-line has too few tokens: %q", line)
	}
	return &mLine{
		media:   fields[0],
		port:    fields[1],
		proto:   fields[2],
		formats: fields[3:],
	}, nil
}

func (m *mLine) String() string {
	parts := append([]string{m.media, m.port, m.proto}, m.formats...)
	return "m=" + strings.Join(parts, " ")
}

func firstLine(block string) string {
	if idx := strings.Index(block, "\r\n"); idx >= 0 {
		return block[:idx]
	}
	return block
}

// findLine возвращает первую строку блока, начинающуюся с prefix,
// без префикса, и признак того, что строка найдена.
func findLine(block, prefix string) (string, bool) {
	for _, line := range strings.Split(block, "\r\n") {
		if strings.HasPrefix(line, prefix) {
			return line[len(prefix):], true
		}
	}
	return "", false
}

// findLineFallback ищет строку сначала в медиаблоке, затем в сессионной
// части — ICE-параметры и отпечатки в SDP могут жить на любом уровне.
func findLineFallback(block, session, prefix string) (string, bool) {
	if v, ok := findLine(block, prefix); ok {
		return v, true
	}
	return findLine(session, prefix)
}

// findLines возвращает все строки блока с данным префиксом, без префикса.
func findLines(block, prefix string) []string {
	var out []string
	for _, line := range strings.Split(block, "\r\n") {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line[len(prefix):])
		}
	}
	return out
}

// findLinesFallback — как findLines, но при пустом результате ищет в
// сессионной части.
func findLinesFallback(block, session, prefix string) []string {
	if lines := findLines(block, prefix); len(lines) > 0 {
		return lines
	}
	return findLines(session, prefix)
}

func hasLine(block, prefix string) bool {
	_, ok := findLine(block, prefix)
	return ok
}

func hasLineFallback(block, session, prefix string) bool {
	_, ok := findLineFallback(block, session, prefix)
	return ok
}
