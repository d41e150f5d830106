package jingle_sdp

import (
	"strings"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// ToJingle переводит каждый медиаблок документа в элемент <content>.
// creator — "initiator" либо "responder". Медиаблоки, не являющиеся
// audio/video, пропускаются.
func (s *ParsedSDP) ToJingle(creator string) ([]stanza.Content, error) {
	var contents []stanza.Content
	for _, m := range s.Media {
		ml, err := parseMLine(m)
		if err != nil {
			return nil, err
		}
		if ml.media != "audio" && ml.media != "video" {
			continue
		}

		content := stanza.Content{Creator: creator, Name: ml.media}
		// предпочитаем идентификатор из a=mid, если он есть
		if mid, ok := findLine(m, "a=mid:"); ok {
			content.Name = mid
		}
		content.Senders = sendersOf(m, s.Session, ml.port)

		if hasLine(m, "a=rtpmap:") {
			desc, err := s.descriptionToJingle(m, ml)
			if err != nil {
				return nil, err
			}
			content.Description = desc
		}

		transport, err := s.transportToJingle(m)
		if err != nil {
			return nil, err
		}
		content.Transport = transport
		contents = append(contents, content)
	}
	return contents, nil
}

// GroupsToJingle переводит сессионные строки a=group (BUNDLE и прочие
// семантики) в элементы <group>.
func (s *ParsedSDP) GroupsToJingle() []stanza.Group {
	var groups []stanza.Group
	for _, line := range findLines(s.Session, "a=group:") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		g := stanza.Group{
			XMLNS:     stanza.NSJingleGroup,
			Semantics: parts[0],
		}
		g.Type = g.Semantics
		for _, name := range parts[1:] {
			g.Contents = append(g.Contents, stanza.GroupContent{Name: name})
		}
		groups = append(groups, g)
	}
	return groups
}

// sendersOf выводит атрибут senders из направления медиаблока.
// port == "0" — отклонённая m-линия.
func sendersOf(m, session, port string) string {
	switch {
	case port == "0":
		return stanza.SendersRejected
	case hasLineFallback(m, session, "a=sendrecv"):
		return stanza.SendersBoth
	case hasLineFallback(m, session, "a=sendonly"):
		return stanza.SendersInitiator
	case hasLineFallback(m, session, "a=recvonly"):
		return stanza.SendersResponder
	default:
		return stanza.SendersNone
	}
}

func (s *ParsedSDP) descriptionToJingle(m string, ml *mLine) (*stanza.RtpDescription, error) {
	desc := stanza.NewRtpDescription(ml.media)

	ssrcLines := findLines(m, "a=ssrc:")
	if len(ssrcLines) > 0 {
		first := ssrcLines[0]
		if idx := strings.IndexByte(first, ' '); idx >= 0 {
			desc.Ssrc = first[:idx]
		}
	}

	for _, fmtID := range ml.formats {
		pt := stanza.PayloadType{ID: fmtID}
		if rtpmap, ok := findLine(m, "a=rtpmap:"+fmtID+" "); ok {
			name, clockrate, channels := parseRtpmap(rtpmap)
			pt.Name, pt.Clockrate, pt.Channels = name, clockrate, channels
		}
		if fmtp, ok := findLine(m, "a=fmtp:"+fmtID+" "); ok {
			pt.Parameters = parseFmtp(fmtp)
		}
		fb, trrInt := rtcpFbToJingle(m, fmtID)
		pt.RtcpFb, pt.RtcpFbTrrInt = fb, trrInt
		desc.PayloadTypes = append(desc.PayloadTypes, pt)
	}

	if cryptoLines := findLinesFallback(m, s.Session, "a=crypto:"); len(cryptoLines) > 0 {
		enc := &stanza.Encryption{Required: "1"}
		for _, line := range cryptoLines {
			cs, err := parseCrypto(line)
			if err != nil {
				return nil, err
			}
			enc.Cryptos = append(enc.Cryptos, *cs)
		}
		desc.Encryption = enc
	}

	desc.Sources = ssrcSourcesToJingle(ssrcLines)

	if hasLine(m, "a=rtcp-mux") {
		desc.RtcpMux = &stanza.Empty{}
	}

	// wildcard feedback относится ко всему описанию
	fb, trrInt := rtcpFbToJingle(m, "*")
	desc.RtcpFb, desc.RtcpFbTrrInt = fb, trrInt

	for _, em := range findLines(m, "a=extmap:") {
		hdrext, err := parseExtmap(em)
		if err != nil {
			return nil, err
		}
		desc.HdrExts = append(desc.HdrExts, *hdrext)
	}
	return desc, nil
}

func (s *ParsedSDP) transportToJingle(m string) (*stanza.IceUdpTransport, error) {
	transport := stanza.NewIceUdpTransport()

	ufrag, okU := findLineFallback(m, s.Session, "a=ice-ufrag:")
	pwd, okP := findLineFallback(m, s.Session, "a=ice-pwd:")
	if okU && okP {
		transport.Ufrag, transport.Pwd = ufrag, pwd

		for _, line := range findLines(m, "a=candidate:") {
			cand, err := CandidateToJingle("a=candidate:" + line)
			if err != nil {
				return nil, err
			}
			transport.Candidates = append(transport.Candidates, *cand)
		}
	}

	setup, _ := findLineFallback(m, s.Session, "a=setup:")
	for _, line := range findLinesFallback(m, s.Session, "a=fingerprint:") {
		fp, err := parseFingerprint(line)
		if err != nil {
			return nil, err
		}
		fp.Setup = setup
		transport.Fingerprints = append(transport.Fingerprints, *fp)
	}
	return transport, nil
}

// rtcpFbToJingle собирает XEP-0293 feedback-элементы для payload-типа
// (или "*" — wildcard уровня описания).
func rtcpFbToJingle(m, payloadType string) ([]stanza.RtcpFb, []stanza.RtcpFbTrrInt) {
	var fbs []stanza.RtcpFb
	var trrInts []stanza.RtcpFbTrrInt
	for _, line := range findLines(m, "a=rtcp-fb:"+payloadType+" ") {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if parts[0] == "trr-int" {
			value := "0"
			if len(parts) >= 2 {
				value = parts[1]
			}
			trrInts = append(trrInts, stanza.RtcpFbTrrInt{XMLNS: stanza.NSJingleRTPFb, Value: value})
			continue
		}
		fb := stanza.RtcpFb{XMLNS: stanza.NSJingleRTPFb, Type: parts[0]}
		if len(parts) >= 2 {
			fb.Subtype = parts[1]
		}
		fbs = append(fbs, fb)
	}
	return fbs, trrInts
}

// ssrcSourcesToJingle группирует строки a=ssrc по идентификатору источника,
// сохраняя порядок появления.
func ssrcSourcesToJingle(ssrcLines []string) []stanza.SsrcSource {
	var sources []stanza.SsrcSource
	var cur *stanza.SsrcSource
	for _, line := range ssrcLines {
		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			continue
		}
		ssrc, kv := line[:idx], line[idx+1:]
		if cur == nil || cur.Ssrc != ssrc {
			sources = append(sources, stanza.SsrcSource{XMLNS: stanza.NSJingleSSMA, Ssrc: ssrc})
			cur = &sources[len(sources)-1]
		}
		var param stanza.Parameter
		if colon := strings.IndexByte(kv, ':'); colon >= 0 {
			param.Name, param.Value = kv[:colon], kv[colon+1:]
		} else {
			param.Name = kv
		}
		cur.Parameters = append(cur.Parameters, param)
	}
	return sources
}

// parseRtpmap разбирает значение "name/clockrate[/channels]" после номера
// формата. channels по умолчанию "1".
func parseRtpmap(value string) (name, clockrate, channels string) {
	parts := strings.Split(strings.TrimSpace(value), "/")
	name = parts[0]
	if len(parts) >= 2 {
		clockrate = parts[1]
	}
	channels = "1"
	if len(parts) >= 3 {
		channels = parts[2]
	}
	return name, clockrate, channels
}

// parseFmtp разбирает параметры "a=fmtp": пары "name=value" через точку с
// запятой либо одиночные токены (rfc4733-стиль), у которых имя пустое.
func parseFmtp(value string) []stanza.Parameter {
	var params []stanza.Parameter
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			key := strings.TrimSpace(part[:eq])
			if key == "" {
				continue
			}
			params = append(params, stanza.Parameter{Name: key, Value: part[eq+1:]})
		} else {
			params = append(params, stanza.Parameter{Value: part})
		}
	}
	return params
}

// parseCrypto разбирает "tag crypto-suite key-params [session-params...]".
func parseCrypto(value string) (*stanza.CryptoSuite, error) {
	parts := strings.Fields(value)
	if len(parts) < 3 {
		return nil, malformedSDP("crypto line has too few tokens: %q", value)
	}
	cs := &stanza.CryptoSuite{
		Tag:         parts[0],
		CryptoSuite: parts[1],
		KeyParams:   parts[2],
	}
	if len(parts) > 3 {
		cs.SessionParams = strings.Join(parts[3:], " ")
	}
	return cs, nil
}

// parseFingerprint разбирает "hash value" (RFC 4572).
func parseFingerprint(value string) (*stanza.Fingerprint, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return nil, malformedFingerprint("a=fingerprint:" + value)
	}
	return &stanza.Fingerprint{Hash: parts[0], Value: parts[1]}, nil
}

// parseExtmap разбирает "id[/direction] uri" (RFC 5285 / XEP-0294).
func parseExtmap(value string) (*stanza.RtpHdrExt, error) {
	parts := strings.Fields(value)
	if len(parts) < 2 {
		return nil, malformedSDP("extmap line has too few tokens: %q", value)
	}
	hdrext := &stanza.RtpHdrExt{XMLNS: stanza.NSJingleHdrExt, ID: parts[0], URI: parts[1]}
	if slash := strings.IndexByte(parts[0], '/'); slash >= 0 {
		hdrext.ID = parts[0][:slash]
		if dir := parts[0][slash+1:]; dir != "both" {
			hdrext.Senders = dir
		}
	}
	return hdrext, nil
}
