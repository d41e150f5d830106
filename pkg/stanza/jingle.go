package stanza

// Значения атрибута creator элемента <content>.
const (
	CreatorInitiator = "initiator"
	CreatorResponder = "responder"
)

// Значения атрибута senders элемента <content>.
const (
	SendersBoth      = "both"
	SendersInitiator = "initiator"
	SendersResponder = "responder"
	SendersNone      = "none"
	// SendersRejected — нестандартное значение, которым кодируется
	// отклонённая m-линия (port=0 в SDP).
	SendersRejected = "rejected"
)

// Content — элемент <content> Jingle-строфы: одна медиасекция SDP.
type Content struct {
	Creator string `xml:"creator,attr"`
	Name    string `xml:"name,attr"`
	Senders string `xml:"senders,attr,omitempty"`

	Description *RtpDescription  `xml:"description,omitempty"`
	Transport   *IceUdpTransport `xml:"transport,omitempty"`
}

// RtpDescription — элемент <description xmlns="urn:xmpp:jingle:apps:rtp:1">,
// XEP-0167.
type RtpDescription struct {
	XMLNS string `xml:"xmlns,attr"`
	Media string `xml:"media,attr"`
	Ssrc  string `xml:"ssrc,attr,omitempty"`

	PayloadTypes []PayloadType `xml:"payload-type"`
	Encryption   *Encryption   `xml:"encryption,omitempty"`
	RtcpMux      *Empty        `xml:"rtcp-mux,omitempty"`

	// RtcpFb и RtcpFbTrrInt на уровне description относятся ко всем
	// payload-типам (wildcard "a=rtcp-fb:*").
	RtcpFb       []RtcpFb       `xml:"rtcp-fb"`
	RtcpFbTrrInt []RtcpFbTrrInt `xml:"rtcp-fb-trr-int"`

	HdrExts []RtpHdrExt  `xml:"rtp-hdrext"`
	Sources []SsrcSource `xml:"source"`
}

// NewRtpDescription создает описание с проставленным namespace.
func NewRtpDescription(media string) *RtpDescription {
	return &RtpDescription{XMLNS: NSJingleRTP, Media: media}
}

// PayloadType — элемент <payload-type>: один формат из m-линии SDP вместе
// с его a=rtpmap/a=fmtp/a=rtcp-fb атрибутами.
type PayloadType struct {
	ID        string `xml:"id,attr"`
	Name      string `xml:"name,attr,omitempty"`
	Clockrate string `xml:"clockrate,attr,omitempty"`
	Channels  string `xml:"channels,attr,omitempty"`

	Parameters   []Parameter    `xml:"parameter"`
	RtcpFb       []RtcpFb       `xml:"rtcp-fb"`
	RtcpFbTrrInt []RtcpFbTrrInt `xml:"rtcp-fb-trr-int"`
}

// Parameter — пара имя/значение из a=fmtp либо a=ssrc. Для значений без
// имени (rfc4733-стиль "a=fmtp:101 0-15") Name пуст.
type Parameter struct {
	Name  string `xml:"name,attr,omitempty"`
	Value string `xml:"value,attr,omitempty"`
}

// RtcpFb — элемент <rtcp-fb>, XEP-0293.
type RtcpFb struct {
	XMLNS   string `xml:"xmlns,attr"`
	Type    string `xml:"type,attr"`
	Subtype string `xml:"subtype,attr,omitempty"`
}

// RtcpFbTrrInt — элемент <rtcp-fb-trr-int>, XEP-0293.
type RtcpFbTrrInt struct {
	XMLNS string `xml:"xmlns,attr"`
	Value string `xml:"value,attr"`
}

// Encryption — элемент <encryption> с SDES crypto-атрибутами.
type Encryption struct {
	Required string        `xml:"required,attr,omitempty"`
	Cryptos  []CryptoSuite `xml:"crypto"`
}

// CryptoSuite — элемент <crypto>: одна a=crypto строка SDP.
type CryptoSuite struct {
	Tag           string `xml:"tag,attr"`
	CryptoSuite   string `xml:"crypto-suite,attr"`
	KeyParams     string `xml:"key-params,attr"`
	SessionParams string `xml:"session-params,attr,omitempty"`
}

// RtpHdrExt — элемент <rtp-hdrext>, XEP-0294 (a=extmap).
type RtpHdrExt struct {
	XMLNS string `xml:"xmlns,attr"`
	ID    string `xml:"id,attr"`
	URI   string `xml:"uri,attr"`
	// Senders — направление ("both" по умолчанию и тогда опускается).
	Senders string `xml:"senders,attr,omitempty"`
}

// SsrcSource — элемент <source>, XEP-0339-стиль описание ssrc
// (a=ssrc:<id> name[:value]).
type SsrcSource struct {
	XMLNS      string      `xml:"xmlns,attr"`
	Ssrc       string      `xml:"ssrc,attr"`
	Parameters []Parameter `xml:"parameter"`
}

// IceUdpTransport — элемент <transport xmlns="...ice-udp:1">, XEP-0176.
type IceUdpTransport struct {
	XMLNS string `xml:"xmlns,attr"`
	Ufrag string `xml:"ufrag,attr,omitempty"`
	Pwd   string `xml:"pwd,attr,omitempty"`

	Fingerprints []Fingerprint `xml:"fingerprint"`
	Candidates   []Candidate   `xml:"candidate"`
}

// NewIceUdpTransport создает транспортный элемент с namespace.
func NewIceUdpTransport() *IceUdpTransport {
	return &IceUdpTransport{XMLNS: NSIceUdp}
}

// Fingerprint — элемент <fingerprint>, XEP-0320: отпечаток DTLS-сертификата.
type Fingerprint struct {
	Hash  string `xml:"hash,attr"`
	Setup string `xml:"setup,attr,omitempty"`
	// Required ставится на fingerprint внутри transport-info.
	Required string `xml:"required,attr,omitempty"`
	Value    string `xml:",chardata"`
}

// Типы ICE-кандидатов.
const (
	CandidateHost  = "host"
	CandidateSrflx = "srflx"
	CandidatePrflx = "prflx"
	CandidateRelay = "relay"
)

// Candidate — элемент <candidate>: один ICE-кандидат. Все поля строковые,
// как они идут на проводе; позиционный разбор и сборка строки
// a=candidate живут в пакете jingle_sdp.
type Candidate struct {
	Foundation string `xml:"foundation,attr"`
	Component  string `xml:"component,attr"`
	Protocol   string `xml:"protocol,attr"`
	Priority   string `xml:"priority,attr"`
	IP         string `xml:"ip,attr"`
	Port       string `xml:"port,attr"`
	Type       string `xml:"type,attr"`
	RelAddr    string `xml:"rel-addr,attr,omitempty"`
	RelPort    string `xml:"rel-port,attr,omitempty"`
	Generation string `xml:"generation,attr,omitempty"`
	// Network всегда "1": исходная реализация не переносила сетевой
	// идентификатор через Jingle, поведение сохранено сознательно.
	Network string `xml:"network,attr,omitempty"`
	// ID назначается локально при конвертации и не разбирается обратно.
	ID string `xml:"id,attr,omitempty"`
}
