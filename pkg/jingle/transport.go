package jingle

import (
	"errors"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// ErrIQTimeout возвращается транспортом в колбэк SendIQ, если сервер
// не подтвердил доставку IQ за отведённое время.
var ErrIQTimeout = errors.New("jingle: iq ack timeout")

// MessageFilter описывает, какие message-строфы интересуют обработчик.
// Пустое поле означает «любое значение».
type MessageFilter struct {
	// Type — значение атрибута type (megaCallAnswer, megaCallDecline и т.п.).
	Type string
	// Sid — идентификатор сессии.
	Sid string
	// FromBare — bare JID отправителя.
	FromBare string
}

// Matches сообщает, проходит ли m фильтр.
func (f MessageFilter) Matches(m *stanza.Message) bool {
	if f.Type != "" && f.Type != m.Type {
		return false
	}
	if f.Sid != "" && f.Sid != m.Sid {
		return false
	}
	if f.FromBare != "" && f.FromBare != stanza.BareJID(m.From) {
		return false
	}
	return true
}

// MessageHandlerFunc — обработчик входящей message-строфы.
type MessageHandlerFunc func(*stanza.Message)

// IQResultFunc получает результат отправки IQ: ответную строфу либо
// ошибку доставки (в том числе ErrIQTimeout).
type IQResultFunc func(res *stanza.IQ, err error)

// Transport — связь движка с XMPP-соединением. Реализация обязана
// доставлять входящие строфы и колбэки последовательно; движок сам
// маршалит их в свой цикл.
type Transport interface {
	// BoundJID возвращает полный JID нашего соединения.
	BoundJID() string
	// SendMessage отправляет message-строфу.
	SendMessage(m *stanza.Message) error
	// SendIQ отправляет IQ типа set или get и вызывает result по ответу
	// сервера либо по тайм-ауту подтверждения. Колбэк может прийти
	// на произвольной горутине.
	SendIQ(iq *stanza.IQ, result IQResultFunc)
	// SendIQResponse отправляет ответную строфу result или error,
	// не ожидая подтверждения.
	SendIQResponse(iq *stanza.IQ) error
	// AddMessageHandler регистрирует обработчик message-строф,
	// проходящих filter. Возвращённая функция снимает регистрацию;
	// её можно вызывать многократно.
	AddMessageHandler(filter MessageFilter, h MessageHandlerFunc) (remove func())
}
