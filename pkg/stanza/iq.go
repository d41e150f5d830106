package stanza

import "encoding/xml"

// Jingle actions, XEP-0166 §7.2.
const (
	ActionSessionInitiate  = "session-initiate"
	ActionSessionAccept    = "session-accept"
	ActionSessionTerminate = "session-terminate"
	ActionTransportInfo    = "transport-info"
	ActionSessionInfo      = "session-info"
)

// XML namespaces Jingle-строф.
const (
	NSJingle       = "urn:xmpp:jingle:1"
	NSJingleRTP    = "urn:xmpp:jingle:apps:rtp:1"
	NSJingleRTPFb  = "urn:xmpp:jingle:apps:rtp:rtcp-fb:0"
	NSJingleHdrExt = "urn:xmpp:jingle:apps:rtp:rtp-hdrext:0"
	NSJingleSSMA   = "urn:xmpp:jingle:apps:rtp:ssma:0"
	NSJingleInfo   = "urn:xmpp:jingle:apps:rtp:info:1"
	NSJingleGroup  = "urn:xmpp:jingle:apps:grouping:0"
	NSIceUdp       = "urn:xmpp:jingle:transports:ice-udp:1"
	NSStanzas      = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSJingleErrors = "urn:xmpp:jingle:errors:1"
)

// IQ — строфа <iq>. Для Jingle используется type="set" с дочерним <jingle>;
// подтверждения имеют type="result", ошибки — type="error" с <error>.
type IQ struct {
	XMLName xml.Name `xml:"iq"`

	Type string `xml:"type,attr"`
	ID   string `xml:"id,attr,omitempty"`
	To   string `xml:"to,attr,omitempty"`
	From string `xml:"from,attr,omitempty"`

	Jingle *Jingle  `xml:"jingle,omitempty"`
	Error  *IQError `xml:"error,omitempty"`
}

// Jingle — элемент <jingle xmlns="urn:xmpp:jingle:1">.
type Jingle struct {
	XMLName xml.Name `xml:"jingle"`
	XMLNS   string   `xml:"xmlns,attr"`

	Action    string `xml:"action,attr"`
	Initiator string `xml:"initiator,attr,omitempty"`
	Sid       string `xml:"sid,attr"`
	// FprMac — HMAC по отпечаткам DTLS-сертификатов, ставится на
	// session-initiate и session-accept.
	FprMac string `xml:"fprmac,attr,omitempty"`

	Contents []Content `xml:"content"`
	Groups   []Group   `xml:"group,omitempty"`
	Reason   *Reason   `xml:"reason,omitempty"`

	// session-info payload: ровно один из элементов ниже.
	Mute    *MuteInfo `xml:"mute,omitempty"`
	Unmute  *MuteInfo `xml:"unmute,omitempty"`
	Ringing *Empty    `xml:"ringing,omitempty"`
}

// NewJingle создает элемент <jingle> с проставленным namespace.
func NewJingle(action, initiator, sid string) *Jingle {
	return &Jingle{
		XMLNS:     NSJingle,
		Action:    action,
		Initiator: initiator,
		Sid:       sid,
	}
}

// Group — элемент <group xmlns="urn:xmpp:jingle:apps:grouping:0"> (XEP-0338),
// переносящий сессионную строку a=group (BUNDLE и т.п.). Атрибут type
// дублирует semantics для совместимости со старыми реализациями.
type Group struct {
	XMLNS     string `xml:"xmlns,attr"`
	Semantics string `xml:"semantics,attr,omitempty"`
	Type      string `xml:"type,attr,omitempty"`

	Contents []GroupContent `xml:"content"`
}

// GroupContent — ссылка <content name="..."/> внутри <group>.
type GroupContent struct {
	Name string `xml:"name,attr"`
}

// Empty — пустой XML-элемент-маркер (<rtcp-mux/>, <ringing/> и т.п.).
type Empty struct{}

// MuteInfo — элемент <mute/> или <unmute/> из namespace
// urn:xmpp:jingle:apps:rtp:info:1. Name — "voice" либо "video".
type MuteInfo struct {
	XMLNS string `xml:"xmlns,attr"`
	Name  string `xml:"name,attr"`
}

// Имена каналов в mute/unmute session-info.
const (
	MuteChannelVoice = "voice"
	MuteChannelVideo = "video"
)

// Reason — элемент <reason> строфы session-terminate. Condition
// сериализуется как имя дочернего элемента (<hangup/>, <success/>, ...),
// поэтому нужен ручной маршалинг.
type Reason struct {
	Condition string
	Text      string
}

// MarshalXML сериализует <reason><условие/><text>..</text></reason>.
func (r *Reason) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "reason"
	start.Attr = nil
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	cond := r.Condition
	if cond == "" {
		cond = "unknown"
	}
	condEl := xml.StartElement{Name: xml.Name{Local: cond}}
	if err := e.EncodeToken(condEl); err != nil {
		return err
	}
	if err := e.EncodeToken(condEl.End()); err != nil {
		return err
	}
	if r.Text != "" {
		textEl := xml.StartElement{Name: xml.Name{Local: "text"}}
		if err := e.EncodeElement(r.Text, textEl); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML читает первый дочерний элемент как условие, <text> — как
// пояснение.
func (r *Reason) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				var text string
				if err := d.DecodeElement(&text, &t); err != nil {
					return err
				}
				r.Text = text
				continue
			}
			if r.Condition == "" {
				r.Condition = t.Name.Local
			}
			if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

// IQError — элемент <error> в ответной IQ-строфе.
type IQError struct {
	Type string `xml:"type,attr"`
	// Condition — стандартное условие из urn:ietf:params:xml:ns:xmpp-stanzas.
	Condition ErrorCondition `xml:",any"`
	// UnknownSession выставляется для неизвестной Jingle-сессии.
	UnknownSession *NamespacedEmpty `xml:"unknown-session,omitempty"`
}

// ErrorCondition — условие ошибки, сериализуется именем элемента.
type ErrorCondition struct {
	XMLName xml.Name
	XMLNS   string `xml:"xmlns,attr"`
}

// NamespacedEmpty — пустой элемент с namespace.
type NamespacedEmpty struct {
	XMLNS string `xml:"xmlns,attr"`
}

// NewResultIQ строит подтверждение (type="result") для полученной IQ.
func NewResultIQ(req *IQ) *IQ {
	return &IQ{Type: "result", To: req.From, ID: req.ID}
}

// NewErrorIQ строит ответ type="error" со стандартным условием condition
// ("item-not-found", "service-unavailable", ...). unknownSession добавляет
// Jingle-специфичный маркер <unknown-session/>.
func NewErrorIQ(req *IQ, condition string, unknownSession bool) *IQ {
	iq := &IQ{
		Type: "error",
		To:   req.From,
		ID:   req.ID,
		Error: &IQError{
			Type: "cancel",
			Condition: ErrorCondition{
				XMLName: xml.Name{Local: condition},
				XMLNS:   NSStanzas,
			},
		},
	}
	if unknownSession {
		iq.Error.UnknownSession = &NamespacedEmpty{XMLNS: NSJingleErrors}
	}
	return iq
}
