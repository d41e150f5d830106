package jingle_sdp

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// candidateID — локально-монотонный счётчик для атрибута id элемента
// <candidate>. Идентификатор не переносится в текстовую форму и не
// разбирается обратно.
var candidateID atomic.Uint64

const candidatePrefix = "a=candidate:"

// CandidateToJingle разбирает строку "a=candidate:..." (RFC 5245 §15.1)
// в элемент <candidate>. Раскладка позиционная: foundation, component,
// protocol, priority, ip, port, литерал "typ", type, затем опциональные
// пары raddr/rport и generation.
func CandidateToJingle(line string) (*stanza.Candidate, error) {
	if !strings.HasPrefix(line, candidatePrefix) {
		return nil, malformedCandidate("line is not a candidate line: %q", line)
	}
	line = strings.TrimRight(line, "\r\n")
	elems := strings.Fields(line[len(candidatePrefix):])
	// минимум: foundation component proto priority ip port typ type
	if len(elems) < 8 {
		return nil, malformedCandidate("too few tokens: %q", line)
	}
	if elems[6] != "typ" {
		return nil, malformedCandidate("expected \"typ\" at position 7: %q", line)
	}
	cand := &stanza.Candidate{
		Foundation: elems[0],
		Component:  elems[1],
		Protocol:   strings.ToLower(elems[2]),
		Priority:   elems[3],
		IP:         elems[4],
		Port:       elems[5],
		Type:       elems[7],
		// Исходная реализация не переносила сетевой идентификатор:
		// network всегда "1".
		Network: "1",
	}
	for i := 8; i+1 < len(elems); i += 2 {
		switch elems[i] {
		case "raddr":
			cand.RelAddr = elems[i+1]
		case "rport":
			cand.RelPort = elems[i+1]
		case "generation":
			cand.Generation = elems[i+1]
		}
	}
	cand.ID = strconv.FormatUint(candidateID.Add(1), 10)
	return cand, nil
}

// CandidateFromJingle собирает строку "a=candidate:..." из элемента
// <candidate>, включая завершающий \r\n. generation по умолчанию "0".
func CandidateFromJingle(cand *stanza.Candidate) string {
	var b strings.Builder
	b.WriteString(candidatePrefix)
	b.WriteString(cand.Foundation)
	b.WriteByte(' ')
	b.WriteString(cand.Component)
	b.WriteByte(' ')
	b.WriteString(cand.Protocol)
	b.WriteByte(' ')
	b.WriteString(cand.Priority)
	b.WriteByte(' ')
	b.WriteString(cand.IP)
	b.WriteByte(' ')
	b.WriteString(cand.Port)
	b.WriteString(" typ ")
	b.WriteString(cand.Type)
	b.WriteByte(' ')
	switch cand.Type {
	case stanza.CandidateSrflx, stanza.CandidatePrflx, stanza.CandidateRelay:
		if cand.RelAddr != "" && cand.RelPort != "" {
			b.WriteString("raddr ")
			b.WriteString(cand.RelAddr)
			b.WriteString(" rport ")
			b.WriteString(cand.RelPort)
			b.WriteByte(' ')
		}
	}
	b.WriteString("generation ")
	if cand.Generation != "" {
		b.WriteString(cand.Generation)
	} else {
		b.WriteByte('0')
	}
	b.WriteString("\r\n")
	return b.String()
}
