package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/jingle_call/pkg/jingle"
	"github.com/arzzra/jingle_call/pkg/mediastub"
	"github.com/arzzra/jingle_call/pkg/memtransport"
)

func main() {
	fmt.Println("=== Тест сигнализации звонка ===")

	testDirectCall()
	testBroadcastCall()
	testDeclinedCall()

	fmt.Println("\n=== Все сценарии завершены ===")
}

// peer — один участник: транспорт, контроллер и канал его событий.
type peer struct {
	jid    string
	ctrl   *jingle.Controller
	events chan jingle.Event
}

func newPeer(hub *memtransport.Hub, fullJid, bareJid string) *peer {
	p := &peer{jid: fullJid, events: make(chan jingle.Event, 64)}

	client := hub.Bind(fullJid)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	ctrl, err := jingle.NewController(jingle.Config{
		Transport:  client,
		Media:      mediastub.NewProvider(),
		Crypto:     jingle.NewDummyCrypto(bareJid),
		OwnAnonID:  "anon-" + fullJid,
		IceServers: "url:stun:stun.example.net:3478",
		Logger:     logger,
		Metrics:    prometheus.NewRegistry(),
		OnEvent: func(ev jingle.Event) {
			p.events <- ev
		},
	})
	if err != nil {
		log.Fatalf("Ошибка создания контроллера %s: %v", fullJid, err)
	}
	p.ctrl = ctrl
	client.OnIQ(ctrl.OnJingleIQ)
	return p
}

func (p *peer) wait(kind jingle.EventKind) jingle.Event {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-p.events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			log.Fatalf("%s: не дождались события %s", p.jid, kind)
		}
	}
}

func testDirectCall() {
	fmt.Println("\n--- Прямой звонок с видео ---")

	hub := memtransport.NewHub()
	alice := newPeer(hub, "alice@example.net/desk", "alice@example.net")
	bob := newPeer(hub, "bob@example.net/phone", "bob@example.net")
	defer alice.ctrl.Close()
	defer bob.ctrl.Close()

	sid, err := alice.ctrl.StartMediaCall("bob@example.net/phone", jingle.AvFlags{Audio: true, Video: true})
	if err != nil {
		log.Fatalf("Ошибка StartMediaCall: %v", err)
	}
	fmt.Printf("✓ Запрос звонка отправлен, sid=%s\n", sid)

	incoming := bob.wait(jingle.EventIncomingCall)
	fmt.Printf("✓ Входящий звонок от %s (media=%s)\n", incoming.Peer, incoming.Av)
	if err := incoming.Answer.Accept(jingle.AvFlags{Audio: true, Video: true}); err != nil {
		log.Fatalf("Ошибка Accept: %v", err)
	}

	alice.wait(jingle.EventCallAnswered)
	fmt.Println("✓ Вызываемый принял звонок")

	alice.wait(jingle.EventSessionEstablished)
	bob.wait(jingle.EventSessionEstablished)
	fmt.Println("✓ Медиасоединение установлено с обеих сторон")

	if state, ok := alice.ctrl.SessionState(sid); ok {
		fmt.Printf("✓ Состояние сессии: %s\n", state)
	}

	alice.ctrl.Mute(sid, jingle.AvFlags{Video: true}, true)
	muted := bob.wait(jingle.EventPeerMuted)
	fmt.Printf("✓ Партнёр отключил дорожки: %s\n", muted.Av)

	alice.ctrl.Hangup(sid, "", "")
	ended := bob.wait(jingle.EventCallEnded)
	fmt.Printf("✓ Звонок завершён, причина: %s\n", ended.Reason)
}

func testBroadcastCall() {
	fmt.Println("\n--- Broadcast-звонок на bare JID ---")

	hub := memtransport.NewHub()
	alice := newPeer(hub, "alice@example.net/desk", "alice@example.net")
	phone := newPeer(hub, "bob@example.net/phone", "bob@example.net")
	tablet := newPeer(hub, "bob@example.net/tablet", "bob@example.net")
	defer alice.ctrl.Close()
	defer phone.ctrl.Close()
	defer tablet.ctrl.Close()

	sid, err := alice.ctrl.StartMediaCall("bob@example.net", jingle.AvFlags{Audio: true})
	if err != nil {
		log.Fatalf("Ошибка StartMediaCall: %v", err)
	}

	inPhone := phone.wait(jingle.EventIncomingCall)
	inTablet := tablet.wait(jingle.EventIncomingCall)
	fmt.Printf("✓ Оба клиента получили запрос (broadcast=%v)\n", inPhone.IsBroadcast)

	if err := inPhone.Answer.Accept(jingle.AvFlags{Audio: true}); err != nil {
		log.Fatalf("Ошибка Accept: %v", err)
	}
	canceled := tablet.wait(jingle.EventCallCanceled)
	fmt.Printf("✓ Второй клиент снят с ожидания: %s (обработал %s)\n",
		canceled.Reason, canceled.HandledBy)
	_ = inTablet

	alice.wait(jingle.EventSessionEstablished)
	fmt.Println("✓ Звонок установлен с ответившим клиентом")

	alice.ctrl.Hangup(sid, "", "")
	phone.wait(jingle.EventCallEnded)
	fmt.Println("✓ Завершение доставлено")
}

func testDeclinedCall() {
	fmt.Println("\n--- Отклонённый звонок ---")

	hub := memtransport.NewHub()
	alice := newPeer(hub, "alice@example.net/desk", "alice@example.net")
	bob := newPeer(hub, "bob@example.net/phone", "bob@example.net")
	defer alice.ctrl.Close()
	defer bob.ctrl.Close()

	if _, err := alice.ctrl.StartMediaCall("bob@example.net/phone", jingle.AvFlags{Audio: true}); err != nil {
		log.Fatalf("Ошибка StartMediaCall: %v", err)
	}

	incoming := bob.wait(jingle.EventIncomingCall)
	incoming.Answer.Decline("busy", "перезвоню позже")

	declined := alice.wait(jingle.EventCallDeclined)
	fmt.Printf("✓ Отказ получен: %s (%s)\n", declined.Reason, declined.Text)
}
