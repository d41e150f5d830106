package jingle

import (
	"log/slog"
	"time"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// callRequest — исходящий запрос звонка: от StartMediaCall до
// megaCallAnswer/megaCallDecline либо тайм-аута ответа.
type callRequest struct {
	sid     string
	peerJid string // как указал вызывающий: bare для broadcast-запроса
	av      AvFlags
	// isBroadcast: запрос ушёл на bare JID, и о его исходе надо уведомить
	// остальные ресурсы вызываемого (megaNotifyCallHandled).
	isBroadcast bool

	localMedia   LocalMedia
	ownFprMacKey string

	answerTimer    *time.Timer
	removeHandlers []func()
	// answered выставляется первым пришедшим megaCallAnswer: остальные
	// ответы и тайм-аут после него игнорируются.
	answered bool
}

func (r *callRequest) stop() {
	if r.answerTimer != nil {
		r.answerTimer.Stop()
		r.answerTimer = nil
	}
	for _, remove := range r.removeHandlers {
		remove()
	}
	r.removeHandlers = nil
}

func (r *callRequest) release() {
	if r.localMedia != nil {
		r.localMedia.Release()
		r.localMedia = nil
	}
}

// StartMediaCall начинает исходящий звонок пользователю peerJid с
// дорожками av. Возвращает идентификатор звонка; дальнейший ход
// доставляется событиями (EventCallInit, EventCallAnswered, ...).
// Если peerJid — bare JID, запрос получат все подключённые клиенты
// пользователя, и звонок продолжится с первым ответившим.
// av, равный нулю, допустим: локальные устройства не запрашиваются,
// запрос уходит без медиадорожек.
func (c *Controller) StartMediaCall(peerJid string, av AvFlags) (string, error) {
	if peerJid == "" {
		return "", newError(CodeInvalidArgument, "StartMediaCall", "empty peer jid")
	}
	sid := MakeCallID()
	c.loop.Post(func() { c.startOutgoing(sid, peerJid, av) })
	return sid, nil
}

func (c *Controller) startOutgoing(sid, peerJid string, av AvFlags) {
	if c.closed || c.sidKnown(sid) {
		return
	}
	req := &callRequest{
		sid:         sid,
		peerJid:     peerJid,
		av:          av,
		isBroadcast: stanza.IsBareJID(peerJid),
	}
	c.outgoing[sid] = req
	c.metrics.callsStarted.WithLabelValues("outgoing").Inc()

	ctx := c.runCtx
	go func() {
		// Ключ собеседника понадобится для fprmackey сразу после
		// получения устройств.
		if err := c.crypto.PreloadCryptoForJid(ctx, stanza.BareJID(peerJid)); err != nil {
			c.log.Warn("preload ключа не удался",
				slog.String("peer", peerJid), slog.Any("error", err))
		}
		var lm LocalMedia
		var err error
		if av.Any() {
			lm, err = c.media.GetUserMedia(ctx, av, false)
		}
		c.loop.Post(func() { c.outgoingMediaReady(req, lm, err) })
	}()
}

func (c *Controller) outgoingMediaReady(req *callRequest, lm LocalMedia, err error) {
	if c.outgoing[req.sid] != req {
		// Запрос отозван, пока шло получение устройств.
		if lm != nil {
			lm.Release()
		}
		return
	}
	if err != nil {
		delete(c.outgoing, req.sid)
		c.endedMetrics(req.sid, "no-local-media", time.Time{})
		c.emit(Event{
			Kind:   EventCallEnded,
			Sid:    req.sid,
			Peer:   req.peerJid,
			Reason: "no-local-media",
			Text:   err.Error(),
			Err:    wrapError(CodeNoLocalMedia, "GetUserMedia", err),
		})
		return
	}
	req.localMedia = lm
	req.ownFprMacKey = c.crypto.GenerateFprMacKey()

	enc, err := c.crypto.EncryptMessageForJid(req.ownFprMacKey, stanza.BareJID(req.peerJid))
	if err != nil {
		delete(c.outgoing, req.sid)
		req.release()
		c.endedMetrics(req.sid, "crypto-error", time.Time{})
		c.emit(Event{
			Kind:   EventCallEnded,
			Sid:    req.sid,
			Peer:   req.peerJid,
			Reason: "crypto-error",
			Text:   err.Error(),
		})
		return
	}

	peerBare := stanza.BareJID(req.peerJid)
	req.removeHandlers = append(req.removeHandlers,
		c.transport.AddMessageHandler(
			MessageFilter{Type: stanza.MsgMegaCallAnswer, Sid: req.sid, FromBare: peerBare},
			func(m *stanza.Message) {
				c.loop.Post(func() { c.onCallAnswered(req, m) })
			},
		),
		c.transport.AddMessageHandler(
			MessageFilter{Type: stanza.MsgMegaCallDecline, Sid: req.sid, FromBare: peerBare},
			func(m *stanza.Message) {
				c.loop.Post(func() { c.onCallDeclined(req, m) })
			},
		),
	)
	req.answerTimer = c.loop.AfterFunc(c.cfg.answerTimeout(), func() {
		c.onAnswerTimeout(req)
	})

	// В запросе сообщаются реально полученные дорожки: устройства могли
	// дать меньше, чем запрошено.
	grantedAv := AvFlags{}
	if req.localMedia != nil {
		grantedAv = req.localMedia.Av()
	}
	c.sendMessage(&stanza.Message{
		To:        req.peerJid,
		Type:      stanza.MsgMegaCall,
		Sid:       req.sid,
		FprMacKey: enc,
		AnonID:    c.ownAnonID,
		Media:     grantedAv.MediaAttr(),
	})
	c.recomputeLocalVideo()
	c.emit(Event{Kind: EventCallInit, Sid: req.sid, Peer: req.peerJid, Av: grantedAv})
}

// onCallAnswered — пришёл megaCallAnswer. Побеждает первый ответивший
// ресурс; его полный JID становится стороной Jingle-сессии.
func (c *Controller) onCallAnswered(req *callRequest, msg *stanza.Message) {
	if c.outgoing[req.sid] != req || req.answered {
		return
	}
	req.answered = true
	req.stop()
	delete(c.outgoing, req.sid)
	c.notifyCallHandled(req, msg.From, true)

	peerKey, err := c.crypto.DecryptMessage(msg.FprMacKey)
	if err != nil {
		// Деградация: сессия создаётся, но session-accept с неверным MAC
		// будет отброшен и звонок не состоится.
		c.log.Warn("fprmackey из megaCallAnswer не расшифрован",
			slog.String("sid", req.sid), slog.Any("error", err))
		peerKey = ""
	}

	s, err := newSession(c, req.sid, msg.From, true,
		req.localMedia, req.ownFprMacKey, peerKey, msg.AnonID)
	if err != nil {
		req.release()
		c.endedMetrics(req.sid, "internal-error", time.Time{})
		c.emit(Event{Kind: EventInternalError, Sid: req.sid, Peer: msg.From, Err: err})
		return
	}
	c.sessions[req.sid] = s
	c.metrics.activeSessions.Inc()
	c.emit(Event{
		Kind:       EventCallAnswered,
		Sid:        req.sid,
		Peer:       msg.From,
		PeerAnonID: msg.AnonID,
		Av:         ParseMediaAttr(msg.Media),
	})
	s.initiateOutgoing()
}

// notifyCallHandled сообщает остальным ресурсам вызываемого, что
// broadcast-запрос уже обработан ресурсом by: их входящие запросы
// с этим sid надо убрать. Для запроса на полный JID уведомлять некого.
func (c *Controller) notifyCallHandled(req *callRequest, by string, accepted bool) {
	if !req.isBroadcast {
		return
	}
	acc := "0"
	if accepted {
		acc = "1"
	}
	c.sendMessage(&stanza.Message{
		To:       stanza.BareJID(req.peerJid),
		Type:     stanza.MsgMegaNotifyCallHandled,
		Sid:      req.sid,
		By:       by,
		Accepted: acc,
	})
}

func (c *Controller) onCallDeclined(req *callRequest, msg *stanza.Message) {
	if c.outgoing[req.sid] != req || req.answered {
		return
	}
	req.stop()
	req.release()
	delete(c.outgoing, req.sid)
	c.notifyCallHandled(req, msg.From, false)
	c.endedMetrics(req.sid, "declined", time.Time{})
	c.recomputeLocalVideo()
	c.emit(Event{
		Kind:   EventCallDeclined,
		Sid:    req.sid,
		Peer:   msg.From,
		Reason: coalesce(msg.Reason, "busy"),
		Text:   msg.Body,
	})
}

func (c *Controller) onAnswerTimeout(req *callRequest) {
	if c.outgoing[req.sid] != req || req.answered {
		return
	}
	req.stop()
	req.release()
	delete(c.outgoing, req.sid)
	c.sendMessage(&stanza.Message{
		To:     req.peerJid,
		Type:   stanza.MsgMegaCallCancel,
		Sid:    req.sid,
		Reason: "answer-timeout",
	})
	c.endedMetrics(req.sid, "answer-timeout", time.Time{})
	c.recomputeLocalVideo()
	c.emit(Event{Kind: EventAnswerTimeout, Sid: req.sid, Peer: req.peerJid})
}

// cancelOutgoing отзывает исходящий запрос по инициативе приложения.
func (c *Controller) cancelOutgoing(req *callRequest, reason string) {
	req.stop()
	req.release()
	delete(c.outgoing, req.sid)
	c.sendMessage(&stanza.Message{
		To:     req.peerJid,
		Type:   stanza.MsgMegaCallCancel,
		Sid:    req.sid,
		Reason: coalesce(reason, "caller-cancel"),
	})
	c.endedMetrics(req.sid, "caller-cancel", time.Time{})
	c.recomputeLocalVideo()
}
