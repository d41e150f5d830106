package jingle

import (
	"log/slog"
	"time"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// incomingRequest — входящий запрос звонка, ожидающий решения пользователя.
type incomingRequest struct {
	sid        string
	peerJid    string // полный JID звонящего
	peerAnonID string
	// peerFprMacKey — расшифрованный ключ из megaCall; им будет проверен
	// MAC session-initiate.
	peerFprMacKey string
	av            AvFlags
	isBroadcast   bool

	validityTimer  *time.Timer
	removeHandlers []func()
}

func (r *incomingRequest) stop() {
	if r.validityTimer != nil {
		r.validityTimer.Stop()
		r.validityTimer = nil
	}
	for _, remove := range r.removeHandlers {
		remove()
	}
	r.removeHandlers = nil
}

// autoAcceptEntry — принятый запрос, ожидающий session-initiate от звонящего.
type autoAcceptEntry struct {
	sid           string
	peerJid       string
	peerAnonID    string
	peerFprMacKey string
	ownFprMacKey  string
	av            AvFlags
	isBroadcast   bool

	// localMedia == nil, пока идёт получение устройств.
	localMedia LocalMedia

	initiateTimer  *time.Timer
	removeHandlers []func()
}

func (e *autoAcceptEntry) stop() {
	if e.initiateTimer != nil {
		e.initiateTimer.Stop()
		e.initiateTimer = nil
	}
	for _, remove := range e.removeHandlers {
		remove()
	}
	e.removeHandlers = nil
}

func (e *autoAcceptEntry) release() {
	if e.localMedia != nil {
		e.localMedia.Release()
		e.localMedia = nil
	}
}

// OnIncomingCallMessage принимает строфу megaCall. Контроллер сам
// подписывается на неё у транспорта; метод открыт для привязок,
// доставляющих строфы вручную. Безопасно звать с любой горутины.
func (c *Controller) OnIncomingCallMessage(msg *stanza.Message) {
	c.loop.Post(func() { c.handleIncomingCall(msg) })
}

func (c *Controller) handleIncomingCall(msg *stanza.Message) {
	if c.closed || msg.Sid == "" || msg.From == "" {
		return
	}
	if c.sidKnown(msg.Sid) {
		c.log.Debug("повторный megaCall", slog.String("sid", msg.Sid))
		return
	}
	peerKey, err := c.crypto.DecryptMessage(msg.FprMacKey)
	if err != nil {
		// Деградация: запрос показываем, но session-initiate без верного
		// MAC будет отброшен.
		c.log.Warn("fprmackey из megaCall не расшифрован",
			slog.String("sid", msg.Sid), slog.Any("error", err))
		peerKey = ""
	}
	req := &incomingRequest{
		sid:           msg.Sid,
		peerJid:       msg.From,
		peerAnonID:    msg.AnonID,
		peerFprMacKey: peerKey,
		av:            ParseMediaAttr(msg.Media),
		isBroadcast:   stanza.IsBareJID(msg.To),
	}
	c.incoming[req.sid] = req
	c.metrics.callsStarted.WithLabelValues("incoming").Inc()

	peerBare := stanza.BareJID(msg.From)
	req.removeHandlers = append(req.removeHandlers,
		c.transport.AddMessageHandler(
			MessageFilter{Type: stanza.MsgMegaCallCancel, Sid: req.sid, FromBare: peerBare},
			func(m *stanza.Message) {
				c.loop.Post(func() { c.onCallCanceled(m) })
			},
		),
		// Уведомление об обработке broadcast-запроса шлёт звонящий, поэтому
		// фильтр — по его bare JID.
		c.transport.AddMessageHandler(
			MessageFilter{Type: stanza.MsgMegaNotifyCallHandled, Sid: req.sid, FromBare: peerBare},
			func(m *stanza.Message) {
				c.loop.Post(func() { c.onCallHandledElsewhere(m) })
			},
		),
	)
	// Запас к тайм-ауту звонящего: по его истечении запрос заведомо мёртв
	// даже без megaCallCancel.
	req.validityTimer = c.loop.AfterFunc(c.cfg.answerTimeout()+ringingGrace, func() {
		if c.incoming[req.sid] != req {
			return
		}
		req.stop()
		delete(c.incoming, req.sid)
		c.endedMetrics(req.sid, "answer-timeout", time.Time{})
		c.emit(Event{
			Kind:   EventCallCanceled,
			Sid:    req.sid,
			Peer:   req.peerJid,
			Reason: "answer-timeout",
		})
	})

	c.emit(Event{
		Kind:        EventIncomingCall,
		Sid:         req.sid,
		Peer:        req.peerJid,
		PeerAnonID:  req.peerAnonID,
		Av:          req.av,
		IsBroadcast: req.isBroadcast,
		Answer:      &AnswerCtrl{c: c, sid: req.sid, peer: req.peerJid, peerAv: req.av},
	})
}

// onCallCanceled — звонящий отозвал запрос. Действует и на стадии
// ожидания решения, и после ответа, пока не пришёл session-initiate.
func (c *Controller) onCallCanceled(msg *stanza.Message) {
	if req := c.incoming[msg.Sid]; req != nil {
		req.stop()
		delete(c.incoming, msg.Sid)
		c.endedMetrics(msg.Sid, "caller-cancel", time.Time{})
		c.emit(Event{
			Kind:   EventCallCanceled,
			Sid:    msg.Sid,
			Peer:   req.peerJid,
			Reason: coalesce(msg.Reason, "caller-cancel"),
		})
		return
	}
	if ae := c.autoAccept[msg.Sid]; ae != nil {
		ae.stop()
		ae.release()
		delete(c.autoAccept, msg.Sid)
		c.endedMetrics(msg.Sid, "caller-cancel", time.Time{})
		c.recomputeLocalVideo()
		c.emit(Event{
			Kind:   EventCallCanceled,
			Sid:    msg.Sid,
			Peer:   ae.peerJid,
			Reason: coalesce(msg.Reason, "caller-cancel"),
		})
	}
}

// onCallHandledElsewhere — звонящий сообщил, что broadcast-звонок принял
// или отклонил другой клиент нашего аккаунта: локальный запрос снимается.
// Если обработавший ресурс — мы сами, уведомление игнорируется.
func (c *Controller) onCallHandledElsewhere(msg *stanza.Message) {
	if msg.By == c.transport.BoundJID() {
		return
	}
	req := c.incoming[msg.Sid]
	if req == nil {
		return
	}
	req.stop()
	delete(c.incoming, msg.Sid)
	c.endedMetrics(msg.Sid, "handled-elsewhere", time.Time{})
	c.emit(Event{
		Kind:      EventCallCanceled,
		Sid:       msg.Sid,
		Peer:      req.peerJid,
		Reason:    "handled-elsewhere",
		HandledBy: msg.By,
		Accepted:  msg.Accepted == "1",
	})
}

// AnswerCtrl управляет одним входящим запросом звонка. Объект одноразовый:
// после первого Accept или Decline (в том числе на другом клиенте)
// остальные вызовы игнорируются.
type AnswerCtrl struct {
	c      *Controller
	sid    string
	peer   string
	peerAv AvFlags
}

// Sid возвращает идентификатор звонка.
func (a *AnswerCtrl) Sid() string { return a.sid }

// Peer возвращает полный JID звонящего.
func (a *AnswerCtrl) Peer() string { return a.peer }

// PeerAv возвращает дорожки, предложенные звонящим.
func (a *AnswerCtrl) PeerAv() AvFlags { return a.peerAv }

// ReqStillValid сообщает, можно ли ещё ответить на запрос: false после
// Accept, Decline, отзыва звонящим, тайм-аута или обработки другим
// клиентом. Как и читающие методы контроллера, нельзя звать из
// обработчика OnEvent.
func (a *AnswerCtrl) ReqStillValid() bool {
	var valid bool
	a.c.loop.Sync(func() { valid = a.c.incoming[a.sid] != nil })
	return valid
}

// Accept принимает звонок с локальными дорожками av. Дальнейший ход
// доставляется событиями. Безопасно звать с любой горутины.
func (a *AnswerCtrl) Accept(av AvFlags) error {
	if !av.Any() {
		return newError(CodeInvalidArgument, "Accept", "no media requested")
	}
	a.c.loop.Post(func() { a.c.acceptIncoming(a.sid, av) })
	return nil
}

// Decline отклоняет звонок. Пустой reason означает busy.
func (a *AnswerCtrl) Decline(reason, text string) {
	a.c.loop.Post(func() { a.c.declineIncoming(a.sid, reason, text) })
}

func (c *Controller) acceptIncoming(sid string, av AvFlags) {
	req := c.incoming[sid]
	if req == nil {
		return
	}
	delete(c.incoming, sid)
	if req.validityTimer != nil {
		req.validityTimer.Stop()
		req.validityTimer = nil
	}

	ae := &autoAcceptEntry{
		sid:           sid,
		peerJid:       req.peerJid,
		peerAnonID:    req.peerAnonID,
		peerFprMacKey: req.peerFprMacKey,
		av:            av,
		isBroadcast:   req.isBroadcast,
		// Обработчик megaCallCancel переезжает вместе с запросом.
		removeHandlers: req.removeHandlers,
	}
	req.removeHandlers = nil
	c.autoAccept[sid] = ae

	ctx := c.runCtx
	peerBare := stanza.BareJID(req.peerJid)
	go func() {
		if err := c.crypto.PreloadCryptoForJid(ctx, peerBare); err != nil {
			c.log.Warn("preload ключа не удался",
				slog.String("peer", peerBare), slog.Any("error", err))
		}
		lm, err := c.media.GetUserMedia(ctx, av, true)
		c.loop.Post(func() { c.acceptMediaReady(ae, lm, err) })
	}()
}

func (c *Controller) acceptMediaReady(ae *autoAcceptEntry, lm LocalMedia, err error) {
	if c.autoAccept[ae.sid] != ae {
		if lm != nil {
			lm.Release()
		}
		return
	}
	fail := func(reason string, cause error) {
		ae.stop()
		delete(c.autoAccept, ae.sid)
		c.sendMessage(&stanza.Message{
			To:     ae.peerJid,
			Type:   stanza.MsgMegaCallDecline,
			Sid:    ae.sid,
			Reason: "error",
			Body:   cause.Error(),
		})
		c.endedMetrics(ae.sid, reason, time.Time{})
		c.emit(Event{
			Kind:   EventCallEnded,
			Sid:    ae.sid,
			Peer:   ae.peerJid,
			Reason: reason,
			Text:   cause.Error(),
			Err:    cause,
		})
	}
	if err != nil {
		fail("no-local-media", wrapError(CodeNoLocalMedia, "GetUserMedia", err))
		return
	}
	ae.localMedia = lm
	ae.ownFprMacKey = c.crypto.GenerateFprMacKey()

	enc, err := c.crypto.EncryptMessageForJid(ae.ownFprMacKey, stanza.BareJID(ae.peerJid))
	if err != nil {
		ae.release()
		fail("crypto-error", err)
		return
	}

	ae.initiateTimer = c.loop.AfterFunc(c.cfg.initiateTimeout(), func() {
		if c.autoAccept[ae.sid] != ae {
			return
		}
		ae.stop()
		ae.release()
		delete(c.autoAccept, ae.sid)
		c.endedMetrics(ae.sid, "initiate-timeout", time.Time{})
		c.recomputeLocalVideo()
		c.emit(Event{
			Kind:   EventCallEnded,
			Sid:    ae.sid,
			Peer:   ae.peerJid,
			Reason: "initiate-timeout",
		})
	})

	c.sendMessage(&stanza.Message{
		To:        ae.peerJid,
		Type:      stanza.MsgMegaCallAnswer,
		Sid:       ae.sid,
		FprMacKey: enc,
		AnonID:    c.ownAnonID,
		Media:     lm.Av().MediaAttr(),
	})
	c.recomputeLocalVideo()
}

func (c *Controller) declineIncoming(sid, reason, text string) {
	req := c.incoming[sid]
	if req == nil {
		return
	}
	req.stop()
	delete(c.incoming, sid)

	c.sendMessage(&stanza.Message{
		To:     req.peerJid,
		Type:   stanza.MsgMegaCallDecline,
		Sid:    sid,
		Reason: coalesce(reason, "busy"),
		Body:   text,
	})
	c.endedMetrics(sid, "declined-local", time.Time{})
}
