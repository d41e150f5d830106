package jingle_sdp

import (
	"strings"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// sessionHeader — фиксированная сессионная часть реконструированного SDP.
// Реальные адреса и временные метки для согласования не нужны: медиадвижок
// берёт их из транспортных атрибутов.
const sessionHeader = "v=0\r\n" +
	"o=- 1923518516 2 IN IP4 0.0.0.0\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n"

// FromJingle — точная обратная конструкция к ToJingle: собирает SDP-документ
// из списка элементов <content> и сессионных групп (a=group).
func FromJingle(contents []stanza.Content, groups []stanza.Group) (*ParsedSDP, error) {
	doc := &ParsedSDP{Session: sessionHeader + groupLines(groups)}
	for i := range contents {
		m, err := jingleToMedia(&contents[i])
		if err != nil {
			return nil, err
		}
		doc.Media = append(doc.Media, m)
	}
	return doc, nil
}

// groupLines восстанавливает строки a=group из элементов <group>.
// Семантика берётся из атрибута semantics, при его отсутствии — из type.
func groupLines(groups []stanza.Group) string {
	var b strings.Builder
	for _, g := range groups {
		if len(g.Contents) == 0 {
			continue
		}
		semantics := g.Semantics
		if semantics == "" {
			semantics = g.Type
		}
		if semantics == "" {
			continue
		}
		b.WriteString("a=group:" + semantics)
		for _, c := range g.Contents {
			b.WriteString(" " + c.Name)
		}
		b.WriteString("\r\n")
	}
	return b.String()
}

// jingleToMedia переводит один элемент <content> в медиаблок SDP.
// Порядок строк фиксирован и согласован с descriptionToJingle, чтобы
// обеспечить контракт обратимости.
func jingleToMedia(content *stanza.Content) (string, error) {
	desc := content.Description
	transport := content.Transport

	var b strings.Builder
	b.WriteString(buildMLine(content))
	b.WriteString("\r\n")
	b.WriteString("c=IN IP4 0.0.0.0\r\n")
	b.WriteString("a=rtcp:1 IN IP4 0.0.0.0\r\n")

	if transport != nil {
		if transport.Ufrag != "" {
			b.WriteString("a=ice-ufrag:" + transport.Ufrag + "\r\n")
		}
		if transport.Pwd != "" {
			b.WriteString("a=ice-pwd:" + transport.Pwd + "\r\n")
		}
		for _, fp := range transport.Fingerprints {
			b.WriteString("a=fingerprint:" + fp.Hash + " " + strings.TrimSpace(fp.Value) + "\r\n")
			if fp.Setup != "" {
				b.WriteString("a=setup:" + fp.Setup + "\r\n")
			}
		}
	}

	switch content.Senders {
	case stanza.SendersInitiator:
		b.WriteString("a=sendonly\r\n")
	case stanza.SendersResponder:
		b.WriteString("a=recvonly\r\n")
	case stanza.SendersNone:
		b.WriteString("a=inactive\r\n")
	case stanza.SendersBoth:
		b.WriteString("a=sendrecv\r\n")
	}

	b.WriteString("a=mid:" + content.Name + "\r\n")

	if desc != nil {
		if desc.RtcpMux != nil {
			b.WriteString("a=rtcp-mux\r\n")
		}
		if desc.Encryption != nil {
			for _, c := range desc.Encryption.Cryptos {
				b.WriteString("a=crypto:" + c.Tag + " " + c.CryptoSuite + " " + c.KeyParams)
				if c.SessionParams != "" {
					b.WriteString(" " + c.SessionParams)
				}
				b.WriteString("\r\n")
			}
		}
		for i := range desc.PayloadTypes {
			writePayloadType(&b, &desc.PayloadTypes[i])
		}
		writeRtcpFb(&b, "*", desc.RtcpFb, desc.RtcpFbTrrInt)
		for _, ext := range desc.HdrExts {
			b.WriteString("a=extmap:" + ext.ID)
			if ext.Senders != "" {
				b.WriteString("/" + ext.Senders)
			}
			b.WriteString(" " + ext.URI + "\r\n")
		}
	}

	if transport != nil {
		for i := range transport.Candidates {
			b.WriteString(CandidateFromJingle(&transport.Candidates[i]))
		}
	}

	if desc != nil {
		for _, src := range desc.Sources {
			for _, p := range src.Parameters {
				b.WriteString("a=ssrc:" + src.Ssrc + " " + p.Name)
				if p.Value != "" {
					b.WriteString(":" + p.Value)
				}
				b.WriteString("\r\n")
			}
		}
	}
	return b.String(), nil
}

// buildMLine строит m-линию: port=0 для отклонённого содержимого,
// RTP/SAVPF при наличии шифрования или отпечатка DTLS.
func buildMLine(content *stanza.Content) string {
	media := "application"
	var formats []string
	if content.Description != nil {
		media = content.Description.Media
		for _, pt := range content.Description.PayloadTypes {
			formats = append(formats, pt.ID)
		}
	}
	port := "1"
	if content.Senders == stanza.SendersRejected {
		port = "0"
	}
	proto := "RTP/AVPF"
	hasFingerprint := content.Transport != nil && len(content.Transport.Fingerprints) > 0
	hasEncryption := content.Description != nil && content.Description.Encryption != nil
	if hasFingerprint || hasEncryption {
		proto = "RTP/SAVPF"
	}
	ml := mLine{media: media, port: port, proto: proto, formats: formats}
	return ml.String()
}

func writePayloadType(b *strings.Builder, pt *stanza.PayloadType) {
	// payload-type без имени означает формат, у которого в исходном SDP
	// не было строки a=rtpmap; реконструировать её не из чего
	if pt.Name != "" {
		b.WriteString("a=rtpmap:" + pt.ID + " " + pt.Name + "/" + pt.Clockrate)
		if pt.Channels != "" && pt.Channels != "1" {
			b.WriteString("/" + pt.Channels)
		}
		b.WriteString("\r\n")
	}

	if len(pt.Parameters) > 0 {
		b.WriteString("a=fmtp:" + pt.ID + " ")
		for i, p := range pt.Parameters {
			if i > 0 {
				b.WriteString(";")
			}
			if p.Name != "" {
				b.WriteString(p.Name + "=")
			}
			b.WriteString(p.Value)
		}
		b.WriteString("\r\n")
	}
	writeRtcpFb(b, pt.ID, pt.RtcpFb, pt.RtcpFbTrrInt)
}

func writeRtcpFb(b *strings.Builder, payloadType string, fbs []stanza.RtcpFb, trrInts []stanza.RtcpFbTrrInt) {
	for _, trr := range trrInts {
		value := trr.Value
		if value == "" {
			value = "0"
		}
		b.WriteString("a=rtcp-fb:" + payloadType + " trr-int " + value + "\r\n")
	}
	for _, fb := range fbs {
		b.WriteString("a=rtcp-fb:" + payloadType + " " + fb.Type)
		if fb.Subtype != "" {
			b.WriteString(" " + fb.Subtype)
		}
		b.WriteString("\r\n")
	}
}
