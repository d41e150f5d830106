// Package memtransport — XMPP-транспорт в памяти. Hub связывает
// несколько клиентов и маршрутизирует между ними message- и IQ-строфы
// по тем же правилам, что XMPP-сервер: строфа на полный JID уходит
// одному клиенту, message на bare JID — всем клиентам пользователя.
// Используется в тестах движка и демонстрационной утилите.
package memtransport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/arzzra/jingle_call/pkg/jingle"
	"github.com/arzzra/jingle_call/pkg/stanza"
)

// Hub — общая шина, к которой привязываются клиенты.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewHub создаёт пустую шину.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Bind подключает клиента с полным JID fullJid. Повторная привязка
// того же JID замещает предыдущего клиента.
func (h *Hub) Bind(fullJid string) *Client {
	c := &Client{
		hub:     h,
		jid:     fullJid,
		pending: make(map[string]jingle.IQResultFunc),
		inbox:   make(chan func(), 1024),
	}
	// Один доставляющий goroutine на клиента: строфы от одного
	// отправителя приходят в порядке отправки.
	go func() {
		for f := range c.inbox {
			f()
		}
	}()
	h.mu.Lock()
	h.clients[fullJid] = c
	h.mu.Unlock()
	return c
}

// Unbind отключает клиента: адресованные ему IQ начинают теряться.
func (h *Hub) Unbind(fullJid string) {
	h.mu.Lock()
	delete(h.clients, fullJid)
	h.mu.Unlock()
}

func (h *Hub) lookup(fullJid string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[fullJid]
}

// resourcesOf возвращает всех клиентов с данным bare JID.
func (h *Hub) resourcesOf(bare string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Client
	for jid, c := range h.clients {
		if stanza.BareJID(jid) == bare {
			out = append(out, c)
		}
	}
	return out
}

type msgHandler struct {
	filter jingle.MessageFilter
	fn     jingle.MessageHandlerFunc
}

// Client — одно «соединение» с шиной, реализует jingle.Transport.
type Client struct {
	hub *Hub
	jid string

	inbox chan func()

	mu        sync.Mutex
	handlers  []*msgHandler
	iqHandler func(*stanza.IQ)
	pending   map[string]jingle.IQResultFunc
}

var _ jingle.Transport = (*Client)(nil)

// BoundJID возвращает полный JID клиента.
func (c *Client) BoundJID() string { return c.jid }

// OnIQ задаёт обработчик входящих IQ типа set (Jingle-строф).
func (c *Client) OnIQ(fn func(*stanza.IQ)) {
	c.mu.Lock()
	c.iqHandler = fn
	c.mu.Unlock()
}

// SendMessage маршрутизирует message-строфу: bare JID получают все
// ресурсы пользователя, полный JID — только он сам. Неизвестный адресат
// не считается ошибкой, как и в настоящем XMPP.
func (c *Client) SendMessage(m *stanza.Message) error {
	out := *m
	out.From = c.jid

	var targets []*Client
	if stanza.IsBareJID(out.To) {
		targets = c.hub.resourcesOf(out.To)
	} else if t := c.hub.lookup(out.To); t != nil {
		targets = []*Client{t}
	}
	for _, t := range targets {
		t := t
		t.inbox <- func() { t.deliverMessage(&out) }
	}
	return nil
}

func (c *Client) deliverMessage(m *stanza.Message) {
	c.mu.Lock()
	handlers := append([]*msgHandler(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h.filter.Matches(m) {
			h.fn(m)
		}
	}
}

// SendIQ доставляет IQ адресату и связывает будущий ответ с result.
// Отсутствующий адресат даёт jingle.ErrIQTimeout.
func (c *Client) SendIQ(iq *stanza.IQ, result jingle.IQResultFunc) {
	out := *iq
	out.From = c.jid

	out.ID = uuid.NewString()
	if result != nil {
		c.mu.Lock()
		c.pending[out.ID] = result
		c.mu.Unlock()
	}

	target := c.hub.lookup(out.To)
	if target == nil {
		c.fulfil(out.ID, nil, jingle.ErrIQTimeout)
		return
	}
	target.inbox <- func() { target.deliverIQ(&out) }
}

func (c *Client) deliverIQ(iq *stanza.IQ) {
	c.mu.Lock()
	fn := c.iqHandler
	c.mu.Unlock()
	if fn != nil {
		fn(iq)
	}
}

// SendIQResponse возвращает result/error строфу отправителю исходного IQ.
func (c *Client) SendIQResponse(iq *stanza.IQ) error {
	if iq.Type != "result" && iq.Type != "error" {
		return fmt.Errorf("memtransport: SendIQResponse with type %q", iq.Type)
	}
	out := *iq
	out.From = c.jid
	target := c.hub.lookup(out.To)
	if target == nil {
		return nil
	}
	target.inbox <- func() { target.fulfil(out.ID, &out, nil) }
	return nil
}

func (c *Client) fulfil(id string, res *stanza.IQ, err error) {
	c.mu.Lock()
	fn := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if fn != nil {
		fn(res, err)
	}
}

// AddMessageHandler регистрирует обработчик входящих message-строф.
func (c *Client) AddMessageHandler(filter jingle.MessageFilter, fn jingle.MessageHandlerFunc) func() {
	h := &msgHandler{filter: filter, fn: fn}
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, cur := range c.handlers {
			if cur == h {
				c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}
