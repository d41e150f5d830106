package jingle_sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// testSDP — типичный offer в стиле Chrome: два медиаблока, DTLS
// отпечатки, SDES crypto, feedback, extmap, ssrc и кандидаты.
const testSDP = "v=0\r\n" +
	"o=- 1923518516 2 IN IP4 0.0.0.0\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE audio video\r\n" +
	"m=audio 9 RTP/SAVPF 111 103 126\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtcp:1 IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:Yby7Ab2q\r\n" +
	"a=ice-pwd:7GsDfA3nJkR0pQmXw2vZt5Cd\r\n" +
	"a=fingerprint:sha-256 D2:2F:1B:52:6A:3C:C5:F1:78:9B:4A:D1:C8:30:7E:A2:50:41:6D:8E:72:19:F0:B3:C4:55:E6:97:08:1A:2B:3C\r\n" +
	"a=setup:actpass\r\n" +
	"a=sendrecv\r\n" +
	"a=mid:audio\r\n" +
	"a=rtcp-mux\r\n" +
	"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:NzB4d1BINUAvLEw6UzF3WSJ+PSdFcGdUJShpX1Zj\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
	"a=rtcp-fb:111 transport-cc\r\n" +
	"a=rtpmap:103 ISAC/16000\r\n" +
	"a=rtpmap:126 telephone-event/8000\r\n" +
	"a=fmtp:126 0-15\r\n" +
	"a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level\r\n" +
	"a=candidate:2979166662 1 udp 2113937151 192.168.2.100 57698 typ host generation 0\r\n" +
	"a=candidate:1016425438 1 udp 1677729535 8.8.4.4 46219 typ srflx raddr 192.168.2.100 rport 57698 generation 0\r\n" +
	"a=ssrc:3735928559 cname:u8kJs9fLq2\r\n" +
	"a=ssrc:3735928559 msid:streamA trackA\r\n" +
	"m=video 9 RTP/SAVPF 100 116\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtcp:1 IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:Yby7Ab2q\r\n" +
	"a=ice-pwd:7GsDfA3nJkR0pQmXw2vZt5Cd\r\n" +
	"a=fingerprint:sha-256 D2:2F:1B:52:6A:3C:C5:F1:78:9B:4A:D1:C8:30:7E:A2:50:41:6D:8E:72:19:F0:B3:C4:55:E6:97:08:1A:2B:3C\r\n" +
	"a=setup:actpass\r\n" +
	"a=sendrecv\r\n" +
	"a=mid:video\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:100 VP8/90000\r\n" +
	"a=rtcp-fb:100 ccm fir\r\n" +
	"a=rtcp-fb:100 nack\r\n" +
	"a=rtcp-fb:100 trr-int 100\r\n" +
	"a=rtpmap:116 red/90000\r\n" +
	"a=rtcp-fb:* nack pli\r\n" +
	"a=candidate:2979166662 1 udp 2113937151 192.168.2.100 57700 typ host generation 0\r\n" +
	"a=ssrc:1122334455 cname:u8kJs9fLq2\r\n"

func TestParse(t *testing.T) {
	doc, err := Parse(testSDP)
	require.NoError(t, err)
	require.Len(t, doc.Media, 2)
	assert.True(t, strings.HasPrefix(doc.Media[0], "m=audio "))
	assert.True(t, strings.HasPrefix(doc.Media[1], "m=video "))
	assert.True(t, strings.HasPrefix(doc.Session, "v=0\r\n"))

	// восстановленный текст совпадает с исходным байт-в-байт
	assert.Equal(t, testSDP, doc.String())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		sdp  string
	}{
		{"пустой документ", ""},
		{"нет m-линий", "v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.sdp)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedSDP)
		})
	}
}

func TestToJingleMalformedMLine(t *testing.T) {
	_, err := Parse("v=0\r\ns=-\r\nm=audio 9\r\n")
	// сам Parse m-линию не валидирует, ошибка всплывает при конвертации
	doc := &ParsedSDP{Session: "v=0\r\n", Media: []string{"m=audio 9\r\n"}}
	contents, convErr := doc.ToJingle(stanza.CreatorInitiator)
	assert.Nil(t, contents)
	assert.ErrorIs(t, convErr, ErrMalformedSDP)
	_ = err
}

func TestToJingleContents(t *testing.T) {
	doc, err := Parse(testSDP)
	require.NoError(t, err)

	contents, err := doc.ToJingle(stanza.CreatorInitiator)
	require.NoError(t, err)
	require.Len(t, contents, 2)

	audio := contents[0]
	assert.Equal(t, "audio", audio.Name)
	assert.Equal(t, stanza.SendersBoth, audio.Senders)
	require.NotNil(t, audio.Description)
	assert.Equal(t, "audio", audio.Description.Media)
	assert.Equal(t, "3735928559", audio.Description.Ssrc)
	assert.NotNil(t, audio.Description.RtcpMux)

	require.Len(t, audio.Description.PayloadTypes, 3)
	opus := audio.Description.PayloadTypes[0]
	assert.Equal(t, "111", opus.ID)
	assert.Equal(t, "opus", opus.Name)
	assert.Equal(t, "48000", opus.Clockrate)
	assert.Equal(t, "2", opus.Channels)
	require.Len(t, opus.Parameters, 2)
	assert.Equal(t, stanza.Parameter{Name: "minptime", Value: "10"}, opus.Parameters[0])
	require.Len(t, opus.RtcpFb, 1)
	assert.Equal(t, "transport-cc", opus.RtcpFb[0].Type)

	// одиночный токен fmtp без имени (rfc4733)
	dtmf := audio.Description.PayloadTypes[2]
	require.Len(t, dtmf.Parameters, 1)
	assert.Equal(t, stanza.Parameter{Value: "0-15"}, dtmf.Parameters[0])

	require.NotNil(t, audio.Description.Encryption)
	assert.Equal(t, "1", audio.Description.Encryption.Required)
	require.Len(t, audio.Description.Encryption.Cryptos, 1)
	assert.Equal(t, "AES_CM_128_HMAC_SHA1_80", audio.Description.Encryption.Cryptos[0].CryptoSuite)

	require.Len(t, audio.Description.Sources, 1)
	assert.Equal(t, "3735928559", audio.Description.Sources[0].Ssrc)
	require.Len(t, audio.Description.Sources[0].Parameters, 2)
	assert.Equal(t, stanza.Parameter{Name: "cname", Value: "u8kJs9fLq2"}, audio.Description.Sources[0].Parameters[0])

	require.Len(t, audio.Description.HdrExts, 1)
	assert.Equal(t, "1", audio.Description.HdrExts[0].ID)

	require.NotNil(t, audio.Transport)
	assert.Equal(t, "Yby7Ab2q", audio.Transport.Ufrag)
	require.Len(t, audio.Transport.Fingerprints, 1)
	assert.Equal(t, "sha-256", audio.Transport.Fingerprints[0].Hash)
	assert.Equal(t, "actpass", audio.Transport.Fingerprints[0].Setup)
	require.Len(t, audio.Transport.Candidates, 2)
	srflx := audio.Transport.Candidates[1]
	assert.Equal(t, stanza.CandidateSrflx, srflx.Type)
	assert.Equal(t, "192.168.2.100", srflx.RelAddr)
	assert.Equal(t, "57698", srflx.RelPort)

	video := contents[1]
	require.NotNil(t, video.Description)
	vp8 := video.Description.PayloadTypes[0]
	require.Len(t, vp8.RtcpFb, 2)
	assert.Equal(t, "ccm", vp8.RtcpFb[0].Type)
	assert.Equal(t, "fir", vp8.RtcpFb[0].Subtype)
	require.Len(t, vp8.RtcpFbTrrInt, 1)
	assert.Equal(t, "100", vp8.RtcpFbTrrInt[0].Value)
	require.Len(t, video.Description.RtcpFb, 1)
	assert.Equal(t, "nack", video.Description.RtcpFb[0].Type)
	assert.Equal(t, "pli", video.Description.RtcpFb[0].Subtype)
}

// TestRoundTrip проверяет контракт обратимости: после полного цикла
// SDP -> Jingle -> SDP -> Jingle оба Jingle-представления совпадают по
// всем полям, кроме локально назначаемых идентификаторов кандидатов.
func TestRoundTrip(t *testing.T) {
	doc, err := Parse(testSDP)
	require.NoError(t, err)

	first, err := doc.ToJingle(stanza.CreatorInitiator)
	require.NoError(t, err)
	groups := doc.GroupsToJingle()
	require.Len(t, groups, 1)
	assert.Equal(t, "BUNDLE", groups[0].Semantics)
	require.Len(t, groups[0].Contents, 2)
	assert.Equal(t, "audio", groups[0].Contents[0].Name)

	rebuilt, err := FromJingle(first, groups)
	require.NoError(t, err)
	assert.Contains(t, rebuilt.Session, "a=group:BUNDLE audio video\r\n")

	second, err := rebuilt.ToJingle(stanza.CreatorInitiator)
	require.NoError(t, err)
	assert.Equal(t, groups, rebuilt.GroupsToJingle())

	stripCandidateIDs(first)
	stripCandidateIDs(second)
	assert.Equal(t, first, second)
}

// TestGroupSemanticsFallback проверяет восстановление a=group из
// элемента <group> без атрибута semantics (только type).
func TestGroupSemanticsFallback(t *testing.T) {
	groups := []stanza.Group{{
		XMLNS:    stanza.NSJingleGroup,
		Type:     "BUNDLE",
		Contents: []stanza.GroupContent{{Name: "audio"}},
	}}
	doc, err := FromJingle(nil, groups)
	require.NoError(t, err)
	assert.Contains(t, doc.Session, "a=group:BUNDLE audio\r\n")

	// группа без контента или семантики не порождает строку
	doc, err = FromJingle(nil, []stanza.Group{{XMLNS: stanza.NSJingleGroup}})
	require.NoError(t, err)
	assert.NotContains(t, doc.Session, "a=group:")
}

// TestRoundTripRejected проверяет кодирование отклонённой m-линии
// (port=0 <-> senders="rejected").
func TestRoundTripRejected(t *testing.T) {
	sdp := "v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n" +
		"a=ice-ufrag:abcd\r\na=ice-pwd:efgh123456789012345678\r\n" +
		"m=video 0 RTP/AVPF 100\r\n" +
		"a=mid:video\r\n" +
		"a=rtpmap:100 VP8/90000\r\n"
	doc, err := Parse(sdp)
	require.NoError(t, err)

	contents, err := doc.ToJingle(stanza.CreatorResponder)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, stanza.SendersRejected, contents[0].Senders)

	rebuilt, err := FromJingle(contents, nil)
	require.NoError(t, err)
	assert.Contains(t, rebuilt.Media[0], "m=video 0 ")
}

// TestCandidateCodec проверяет обратимость кодека кандидатов: для любой
// корректной строки разбор и обратная сборка совпадают пополево, кроме
// локально назначаемого id; отсутствующий generation получает "0".
func TestCandidateCodec(t *testing.T) {
	lines := []string{
		"a=candidate:2979166662 1 udp 2113937151 192.168.2.100 57698 typ host generation 0\r\n",
		"a=candidate:1016425438 1 udp 1677729535 8.8.4.4 46219 typ srflx raddr 192.168.2.100 rport 57698 generation 2\r\n",
		"a=candidate:842163049 2 udp 1686052606 203.0.113.7 9901 typ relay raddr 10.0.0.1 rport 40000 generation 0\r\n",
	}
	for _, line := range lines {
		cand, err := CandidateToJingle(line)
		require.NoError(t, err, line)
		assert.Equal(t, line, CandidateFromJingle(cand))
	}

	// generation опущен — по умолчанию "0"
	cand, err := CandidateToJingle("a=candidate:1 1 udp 100 10.0.0.1 5000 typ host")
	require.NoError(t, err)
	assert.Equal(t, "", cand.Generation)
	assert.Equal(t,
		"a=candidate:1 1 udp 100 10.0.0.1 5000 typ host generation 0\r\n",
		CandidateFromJingle(cand))

	// id назначается локально и монотонно
	other, err := CandidateToJingle("a=candidate:1 1 udp 100 10.0.0.1 5000 typ host")
	require.NoError(t, err)
	assert.NotEqual(t, cand.ID, other.ID)
}

func TestCandidateErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"не candidate-строка", "a=mid:audio"},
		{"мало токенов", "a=candidate:1 1 udp 100 10.0.0.1 5000 typ"},
		{"седьмой токен не typ", "a=candidate:1 1 udp 100 10.0.0.1 5000 type host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CandidateToJingle(tt.line)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedCandidate)
		})
	}
}

func TestSessionLevelFallback(t *testing.T) {
	// ice-параметры и отпечаток только на уровне сессии
	sdp := "v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n" +
		"a=ice-ufrag:sessU\r\n" +
		"a=ice-pwd:sessP123456789012345678\r\n" +
		"a=fingerprint:sha-1 AB:CD:EF:01:23:45:67:89:AB:CD:EF:01:23:45:67:89:AB:CD:EF:01\r\n" +
		"a=setup:active\r\n" +
		"m=audio 9 RTP/SAVPF 0\r\n" +
		"a=mid:audio\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=sendrecv\r\n"
	doc, err := Parse(sdp)
	require.NoError(t, err)

	contents, err := doc.ToJingle(stanza.CreatorInitiator)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	tr := contents[0].Transport
	require.NotNil(t, tr)
	assert.Equal(t, "sessU", tr.Ufrag)
	require.Len(t, tr.Fingerprints, 1)
	assert.Equal(t, "sha-1", tr.Fingerprints[0].Hash)
	assert.Equal(t, "active", tr.Fingerprints[0].Setup)
}

func TestMalformedFingerprint(t *testing.T) {
	sdp := "v=0\r\ns=-\r\n" +
		"m=audio 9 RTP/SAVPF 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"a=fingerprint:sha-256\r\n"
	doc, err := Parse(sdp)
	require.NoError(t, err)

	_, err = doc.ToJingle(stanza.CreatorInitiator)
	assert.ErrorIs(t, err, ErrMalformedFingerprint)
}

func stripCandidateIDs(contents []stanza.Content) {
	for i := range contents {
		if contents[i].Transport == nil {
			continue
		}
		for j := range contents[i].Transport.Candidates {
			contents[i].Transport.Candidates[j].ID = ""
		}
	}
}
