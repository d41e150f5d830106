package memtransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/jingle_call/pkg/jingle"
	"github.com/arzzra/jingle_call/pkg/stanza"
)

func waitMessage(t *testing.T, ch <-chan *stanza.Message) *stanza.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("сообщение не доставлено")
		return nil
	}
}

// TestMessageRouting тестирует маршрутизацию message-строф
// Проверяет:
// - Доставку на полный JID одному клиенту
// - Fan-out на bare JID всем ресурсам
// - Работу фильтров и снятие обработчика
func TestMessageRouting(t *testing.T) {
	hub := NewHub()
	alice := hub.Bind("alice@x/desk")
	phone := hub.Bind("bob@x/phone")
	tablet := hub.Bind("bob@x/tablet")

	phoneCh := make(chan *stanza.Message, 8)
	tabletCh := make(chan *stanza.Message, 8)
	phone.AddMessageHandler(jingle.MessageFilter{Type: stanza.MsgMegaCall},
		func(m *stanza.Message) { phoneCh <- m })
	removeTablet := tablet.AddMessageHandler(jingle.MessageFilter{Type: stanza.MsgMegaCall},
		func(m *stanza.Message) { tabletCh <- m })

	// Полный JID: получает только адресат.
	require.NoError(t, alice.SendMessage(&stanza.Message{
		To: "bob@x/phone", Type: stanza.MsgMegaCall, Sid: "s1",
	}))
	m := waitMessage(t, phoneCh)
	assert.Equal(t, "alice@x/desk", m.From, "отправитель проставляется транспортом")
	assert.Equal(t, "s1", m.Sid)
	select {
	case <-tabletCh:
		t.Fatal("строфа на полный JID не должна попадать другому ресурсу")
	case <-time.After(50 * time.Millisecond):
	}

	// Bare JID: получают оба ресурса.
	require.NoError(t, alice.SendMessage(&stanza.Message{
		To: "bob@x", Type: stanza.MsgMegaCall, Sid: "s2",
	}))
	waitMessage(t, phoneCh)
	waitMessage(t, tabletCh)

	// Фильтр по типу: чужие строфы не доставляются.
	require.NoError(t, alice.SendMessage(&stanza.Message{
		To: "bob@x/phone", Type: stanza.MsgMegaCallCancel, Sid: "s3",
	}))
	select {
	case <-phoneCh:
		t.Fatal("фильтр по типу не сработал")
	case <-time.After(50 * time.Millisecond):
	}

	// Снятый обработчик больше не вызывается.
	removeTablet()
	removeTablet() // повторное снятие безопасно
	require.NoError(t, alice.SendMessage(&stanza.Message{
		To: "bob@x", Type: stanza.MsgMegaCall, Sid: "s4",
	}))
	waitMessage(t, phoneCh)
	select {
	case <-tabletCh:
		t.Fatal("снятый обработчик получил строфу")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestMessageFilter тестирует сопоставление фильтров
func TestMessageFilter(t *testing.T) {
	m := &stanza.Message{
		From: "bob@x/phone", Type: stanza.MsgMegaCallAnswer, Sid: "s1",
	}
	tests := []struct {
		name   string
		filter jingle.MessageFilter
		want   bool
	}{
		{"Пустой фильтр", jingle.MessageFilter{}, true},
		{"По типу", jingle.MessageFilter{Type: stanza.MsgMegaCallAnswer}, true},
		{"Чужой тип", jingle.MessageFilter{Type: stanza.MsgMegaCall}, false},
		{"По sid и bare JID",
			jingle.MessageFilter{Sid: "s1", FromBare: "bob@x"}, true},
		{"Чужой bare JID",
			jingle.MessageFilter{FromBare: "alice@x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(m))
		})
	}
}

// TestIQRoundTrip тестирует корреляцию IQ с ответами
// Проверяет:
// - Доставку IQ и ответа result
// - Тайм-аут при отсутствующем адресате
func TestIQRoundTrip(t *testing.T) {
	hub := NewHub()
	alice := hub.Bind("alice@x/desk")
	bob := hub.Bind("bob@x/phone")

	bob.OnIQ(func(iq *stanza.IQ) {
		assert.Equal(t, "alice@x/desk", iq.From)
		assert.NotEmpty(t, iq.ID)
		_ = bob.SendIQResponse(stanza.NewResultIQ(iq))
	})

	type outcome struct {
		res *stanza.IQ
		err error
	}
	got := make(chan outcome, 1)
	alice.SendIQ(
		&stanza.IQ{Type: "set", To: "bob@x/phone", Jingle: stanza.NewJingle("session-info", "alice@x/desk", "s1")},
		func(res *stanza.IQ, err error) { got <- outcome{res, err} },
	)
	select {
	case out := <-got:
		require.NoError(t, out.err)
		require.NotNil(t, out.res)
		assert.Equal(t, "result", out.res.Type)
	case <-time.After(time.Second):
		t.Fatal("ответ на IQ не пришёл")
	}

	// Отсутствующий адресат: jingle.ErrIQTimeout.
	alice.SendIQ(
		&stanza.IQ{Type: "set", To: "nobody@x/r"},
		func(res *stanza.IQ, err error) { got <- outcome{res, err} },
	)
	select {
	case out := <-got:
		require.ErrorIs(t, out.err, jingle.ErrIQTimeout)
		assert.Nil(t, out.res)
	case <-time.After(time.Second):
		t.Fatal("колбэк тайм-аута не вызван")
	}

	// Ответ нельзя отправить строфой типа set.
	require.Error(t, bob.SendIQResponse(&stanza.IQ{Type: "set", To: "alice@x/desk"}))
}

// TestUnbind тестирует отключение клиента от шины
func TestUnbind(t *testing.T) {
	hub := NewHub()
	alice := hub.Bind("alice@x/desk")
	hub.Bind("bob@x/phone")
	hub.Unbind("bob@x/phone")

	got := make(chan error, 1)
	alice.SendIQ(&stanza.IQ{Type: "set", To: "bob@x/phone"},
		func(_ *stanza.IQ, err error) { got <- err })
	select {
	case err := <-got:
		require.ErrorIs(t, err, jingle.ErrIQTimeout)
	case <-time.After(time.Second):
		t.Fatal("колбэк не вызван")
	}
}
