package stanza

import "encoding/xml"

// Типы message-строф, участвующих в установлении звонка.
// Обмен идёт вне Jingle: запрос звонка и ответ/отказ на него доставляются
// обычными message-строфами, и только после согласия вызываемой стороны
// инициатор начинает Jingle-сессию.
const (
	// MsgMegaCall — запрос звонка от звонящего к вызываемому.
	MsgMegaCall = "megaCall"
	// MsgMegaCallAnswer — согласие вызываемого принять звонок.
	MsgMegaCallAnswer = "megaCallAnswer"
	// MsgMegaCallDecline — отказ вызываемого.
	MsgMegaCallDecline = "megaCallDecline"
	// MsgMegaCallCancel — отзыв запроса самим звонящим.
	MsgMegaCallCancel = "megaCallCancel"
	// MsgMegaNotifyCallHandled — уведомление остальных ресурсов bare JID,
	// что звонок уже принят или отклонён одним из них.
	MsgMegaNotifyCallHandled = "megaNotifyCallHandled"
)

// Message — строфа <message> с атрибутами, используемыми при установлении
// звонка. Неиспользуемые для конкретного типа атрибуты остаются пустыми и
// не сериализуются.
type Message struct {
	XMLName xml.Name `xml:"message"`

	To   string `xml:"to,attr,omitempty"`
	From string `xml:"from,attr,omitempty"`
	// Type — один из Msg* типов выше.
	Type string `xml:"type,attr"`

	// Sid — идентификатор звонка, генерируется инициатором.
	Sid string `xml:"sid,attr,omitempty"`
	// FprMacKey — ключ HMAC для проверки fingerprint, зашифрованный для
	// получателя (megaCall, megaCallAnswer).
	FprMacKey string `xml:"fprmackey,attr,omitempty"`
	// AnonID — псевдонимный идентификатор отправителя, только для
	// корреляции статистики.
	AnonID string `xml:"anonid,attr,omitempty"`
	// Media — "a", "v", "av" или "_" (megaCall).
	Media string `xml:"media,attr,omitempty"`
	// Reason — причина отказа (megaCallDecline).
	Reason string `xml:"reason,attr,omitempty"`
	// By — полный JID ресурса, обработавшего звонок (megaNotifyCallHandled).
	By string `xml:"by,attr,omitempty"`
	// Accepted — "1" если звонок был принят, "0" если отклонён
	// (megaNotifyCallHandled).
	Accepted string `xml:"accepted,attr,omitempty"`

	// Body — человекочитаемый текст, опционален (megaCallDecline).
	Body string `xml:"body,omitempty"`
}
