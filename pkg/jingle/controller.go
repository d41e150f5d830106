package jingle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arzzra/jingle_call/pkg/stanza"
)

// Controller — верхний уровень движка звонков: владеет реестрами
// исходящих запросов, ожидающих auto-accept записей и активных сессий,
// маршрутизирует входящие строфы и доставляет события приложению.
//
// Потокобезопасность: всё состояние живёт на горутине внутреннего цикла.
// Модифицирующие методы (StartMediaCall, Hangup, Mute и т.д.) можно звать
// с любой горутины — они ставят работу в цикл и возвращаются сразу.
// Читающие методы (SentAv, SessionState и прочие) синхронно выполняются
// на цикле, поэтому их нельзя звать из обработчика OnEvent — внутри
// обработчика пользуйтесь полями самого события.
type Controller struct {
	cfg       Config
	log       *slog.Logger
	loop      *Loop
	runCtx    context.Context
	cancelRun context.CancelFunc

	transport Transport
	media     MediaProvider
	crypto    Crypto
	metrics   *metrics
	ownAnonID string

	iceServers []IceServer

	// Реестры. Один sid живёт не более чем в одном из них.
	outgoing   map[string]*callRequest
	incoming   map[string]*incomingRequest
	autoAccept map[string]*autoAcceptEntry
	sessions   map[string]*Session

	removeHandlers []func()
	localVideoOn   bool
	closed         bool
}

// NewController создаёт контроллер и запускает его цикл.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	iceServers, err := ParseIceServers(cfg.IceServers)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		log:        cfg.logger().With(slog.String("component", "jingle")),
		loop:       NewLoop(),
		runCtx:     ctx,
		cancelRun:  cancel,
		transport:  cfg.Transport,
		media:      cfg.Media,
		crypto:     cfg.Crypto,
		metrics:    newMetrics(cfg.Metrics),
		ownAnonID:  cfg.OwnAnonID,
		iceServers: iceServers,
		outgoing:   make(map[string]*callRequest),
		incoming:   make(map[string]*incomingRequest),
		autoAccept: make(map[string]*autoAcceptEntry),
		sessions:   make(map[string]*Session),
	}
	go c.loop.Run(ctx)

	c.removeHandlers = append(c.removeHandlers,
		c.transport.AddMessageHandler(
			MessageFilter{Type: stanza.MsgMegaCall},
			c.OnIncomingCallMessage,
		),
	)
	return c, nil
}

// Close завершает все звонки и останавливает цикл контроллера.
func (c *Controller) Close() {
	c.loop.Sync(func() {
		if c.closed {
			return
		}
		c.closed = true
		c.hangupAll("user-hangup", "")
		for _, remove := range c.removeHandlers {
			remove()
		}
		c.removeHandlers = nil
	})
	c.cancelRun()
}

// OnJingleIQ принимает входящую Jingle IQ-строфу от транспортной привязки.
// Безопасно звать с любой горутины.
func (c *Controller) OnJingleIQ(iq *stanza.IQ) {
	c.loop.Post(func() { c.handleJingleIQ(iq) })
}

func (c *Controller) handleJingleIQ(iq *stanza.IQ) {
	if c.closed || iq.Jingle == nil {
		return
	}
	jin := iq.Jingle
	sid := jin.Sid

	if jin.Action == stanza.ActionSessionInitiate {
		c.handleSessionInitiate(iq, jin, sid)
		return
	}

	s := c.sessions[sid]
	if s == nil {
		c.respondError(iq, "item-not-found", true)
		return
	}
	if !stanza.SameBareJID(iq.From, s.peerJid) {
		c.respondError(iq, "forbidden", false)
		return
	}
	c.respondResult(iq)
	s.handleJingle(jin)
}

func (c *Controller) handleSessionInitiate(iq *stanza.IQ, jin *stanza.Jingle, sid string) {
	if c.sessions[sid] != nil {
		// Повторный session-initiate для уже идущей сессии.
		c.respondError(iq, "service-unavailable", false)
		return
	}
	ae := c.autoAccept[sid]
	if ae == nil || ae.localMedia == nil {
		c.respondError(iq, "item-not-found", true)
		return
	}
	if !stanza.SameBareJID(iq.From, ae.peerJid) {
		c.respondError(iq, "forbidden", false)
		return
	}
	c.respondResult(iq)

	if !verifyFingerprintMAC(c.crypto, jin.Contents, ae.peerFprMacKey, jin.FprMac) {
		// Строфа отбрасывается молча: запись остаётся ждать настоящий
		// session-initiate до истечения таймера.
		c.noteMacFailure(sid, stanza.ActionSessionInitiate)
		return
	}

	ae.stop()
	delete(c.autoAccept, sid)

	s, err := newSession(c, sid, iq.From, false,
		ae.localMedia, ae.ownFprMacKey, ae.peerFprMacKey, ae.peerAnonID)
	if err != nil {
		c.log.Error("не удалось создать сессию", slog.String("sid", sid), slog.Any("error", err))
		ae.localMedia.Release()
		c.emit(Event{Kind: EventInternalError, Sid: sid, Peer: iq.From, Err: err})
		return
	}
	c.sessions[sid] = s
	c.metrics.activeSessions.Inc()
	c.emit(Event{
		Kind: EventSessionStarting,
		Sid:  sid,
		Peer: iq.From,
		Av:   ae.localMedia.Av(),
	})
	s.processRemoteOffer(jin)
}

// OnPresenceUnavailable сообщает движку об уходе ресурса from из сети.
// Связанные с ним звонки завершаются с причиной peer-disconnected.
func (c *Controller) OnPresenceUnavailable(from string) {
	c.loop.Post(func() {
		for _, s := range c.sessions {
			if s.peerJid == from {
				s.terminate("peer-disconnected", "", false)
			}
		}
		for sid, req := range c.incoming {
			if req.peerJid == from {
				req.stop()
				delete(c.incoming, sid)
				c.emit(Event{
					Kind:   EventCallCanceled,
					Sid:    sid,
					Peer:   from,
					Reason: "peer-disconnected",
				})
			}
		}
		for sid, ae := range c.autoAccept {
			if ae.peerJid == from {
				ae.stop()
				ae.release()
				delete(c.autoAccept, sid)
				c.endedMetrics(sid, "peer-disconnected", time.Time{})
				c.emit(Event{
					Kind:   EventCallEnded,
					Sid:    sid,
					Peer:   from,
					Reason: "peer-disconnected",
				})
			}
		}
	})
}

// Hangup завершает звонок sid на любой стадии: отзывает исходящий запрос,
// отклоняет входящий или закрывает сессию session-terminate строфой.
// Пустой reason означает обычный hangup.
func (c *Controller) Hangup(sid, reason, text string) {
	c.loop.Post(func() { c.hangup(sid, reason, text) })
}

// HangupByPeer завершает все звонки и запросы с участником peerJid.
// Сравнение идёт по bare JID, поэтому полный JID тоже подходит.
func (c *Controller) HangupByPeer(peerJid, reason, text string) {
	c.loop.Post(func() {
		for _, sid := range c.sidsByPeer(peerJid) {
			c.hangup(sid, reason, text)
		}
	})
}

// HangupAll завершает все звонки и запросы.
func (c *Controller) HangupAll(reason, text string) {
	c.loop.Post(func() { c.hangupAll(reason, text) })
}

func (c *Controller) hangupAll(reason, text string) {
	for _, sid := range c.allSids() {
		c.hangup(sid, reason, text)
	}
}

func (c *Controller) allSids() []string {
	sids := make([]string, 0, len(c.outgoing)+len(c.incoming)+len(c.autoAccept)+len(c.sessions))
	for sid := range c.outgoing {
		sids = append(sids, sid)
	}
	for sid := range c.incoming {
		sids = append(sids, sid)
	}
	for sid := range c.autoAccept {
		sids = append(sids, sid)
	}
	for sid := range c.sessions {
		sids = append(sids, sid)
	}
	return sids
}

func (c *Controller) sidsByPeer(peerJid string) []string {
	var sids []string
	for sid, req := range c.outgoing {
		if stanza.SameBareJID(req.peerJid, peerJid) {
			sids = append(sids, sid)
		}
	}
	for sid, req := range c.incoming {
		if stanza.SameBareJID(req.peerJid, peerJid) {
			sids = append(sids, sid)
		}
	}
	for sid, ae := range c.autoAccept {
		if stanza.SameBareJID(ae.peerJid, peerJid) {
			sids = append(sids, sid)
		}
	}
	for sid, s := range c.sessions {
		if stanza.SameBareJID(s.peerJid, peerJid) {
			sids = append(sids, sid)
		}
	}
	return sids
}

// sessionByPeer возвращает сессию с участником peerJid. При нескольких
// параллельных сессиях с одним аккаунтом берётся произвольная.
func (c *Controller) sessionByPeer(peerJid string) *Session {
	for _, s := range c.sessions {
		if stanza.SameBareJID(s.peerJid, peerJid) {
			return s
		}
	}
	return nil
}

func (c *Controller) hangup(sid, reason, text string) {
	if req := c.outgoing[sid]; req != nil {
		c.cancelOutgoing(req, reason)
		return
	}
	if c.incoming[sid] != nil {
		c.declineIncoming(sid, reason, text)
		return
	}
	if ae := c.autoAccept[sid]; ae != nil {
		ae.stop()
		ae.release()
		delete(c.autoAccept, sid)
		c.endedMetrics(sid, "user-hangup", time.Time{})
		c.recomputeLocalVideo()
		return
	}
	if s := c.sessions[sid]; s != nil {
		s.terminate(coalesce(reason, "hangup"), text, true)
		return
	}
	c.log.Debug("hangup для неизвестного sid", slog.String("sid", sid))
}

// Mute выключает (muted=true) или включает дорожки what сессии sid.
func (c *Controller) Mute(sid string, what AvFlags, muted bool) {
	c.loop.Post(func() {
		if s := c.sessions[sid]; s != nil {
			s.Mute(what, muted)
			c.recomputeLocalVideo()
		}
	})
}

// MuteByPeer выключает или включает дорожки what всех сессий с участником
// peerJid. Сравнение идёт по bare JID, как в HangupByPeer.
func (c *Controller) MuteByPeer(peerJid string, what AvFlags, muted bool) {
	c.loop.Post(func() {
		for _, s := range c.sessions {
			if stanza.SameBareJID(s.peerJid, peerJid) {
				s.Mute(what, muted)
			}
		}
		c.recomputeLocalVideo()
	})
}

// UpdateIceServers заменяет список STUN/TURN серверов для будущих сессий.
func (c *Controller) UpdateIceServers(spec string) error {
	servers, err := ParseIceServers(spec)
	if err != nil {
		return err
	}
	c.loop.Post(func() { c.iceServers = servers })
	return nil
}

// SentAv возвращает отправляемые дорожки сессии sid.
func (c *Controller) SentAv(sid string) (av AvFlags, ok bool) {
	c.loop.Sync(func() {
		if s := c.sessions[sid]; s != nil {
			av, ok = s.SentAv(), true
		}
	})
	return av, ok
}

// ReceivedAv возвращает принимаемые дорожки сессии sid.
func (c *Controller) ReceivedAv(sid string) (av AvFlags, ok bool) {
	c.loop.Sync(func() {
		if s := c.sessions[sid]; s != nil {
			av, ok = s.ReceivedAv(), true
		}
	})
	return av, ok
}

// SentAvByPeer возвращает отправляемые дорожки сессии с участником peerJid.
func (c *Controller) SentAvByPeer(peerJid string) (av AvFlags, ok bool) {
	c.loop.Sync(func() {
		if s := c.sessionByPeer(peerJid); s != nil {
			av, ok = s.SentAv(), true
		}
	})
	return av, ok
}

// ReceivedAvByPeer возвращает принимаемые дорожки сессии с участником peerJid.
func (c *Controller) ReceivedAvByPeer(peerJid string) (av AvFlags, ok bool) {
	c.loop.Sync(func() {
		if s := c.sessionByPeer(peerJid); s != nil {
			av, ok = s.ReceivedAv(), true
		}
	})
	return av, ok
}

// SessionState возвращает состояние сессии sid.
func (c *Controller) SessionState(sid string) (state string, ok bool) {
	c.loop.Sync(func() {
		if s := c.sessions[sid]; s != nil {
			state, ok = s.State(), true
		}
	})
	return state, ok
}

// SessionSidByPeer возвращает sid сессии с участником peerJid.
func (c *Controller) SessionSidByPeer(peerJid string) (sid string, ok bool) {
	c.loop.Sync(func() {
		if s := c.sessionByPeer(peerJid); s != nil {
			sid, ok = s.sid, true
		}
	})
	return sid, ok
}

// IsRelay сообщает, идёт ли медиапоток сессии через TURN-ретранслятор.
// known=false, пока выбранная пара кандидатов не определилась.
func (c *Controller) IsRelay(sid string) (relay, known, ok bool) {
	c.loop.Sync(func() {
		if s := c.sessions[sid]; s != nil {
			relay, known = s.media.SelectedRelay()
			ok = true
		}
	})
	return relay, known, ok
}

// --- внутренние хуки сессий, вызываются на цикле ---

func (c *Controller) onSessionActive(s *Session) {
	c.log.Info("сессия установлена",
		slog.String("sid", s.sid), slog.String("peer", s.peerJid))
}

func (c *Controller) onSessionEnded(s *Session, reason, text string) {
	delete(c.sessions, s.sid)
	if s.localMedia != nil {
		s.localMedia.Release()
	}
	c.metrics.activeSessions.Dec()
	c.endedMetrics(s.sid, reason, s.tsMediaStart)
	c.recomputeLocalVideo()
	c.emit(Event{
		Kind:       EventCallEnded,
		Sid:        s.sid,
		Peer:       s.peerJid,
		PeerAnonID: s.peerAnonID,
		Reason:     coalesce(reason, "hangup"),
		Text:       text,
		StatsID:    s.statsCallID(),
	})
}

func (c *Controller) onSessionFailed(s *Session, err error) {
	delete(c.sessions, s.sid)
	if s.localMedia != nil {
		s.localMedia.Release()
	}
	c.metrics.activeSessions.Dec()
	c.endedMetrics(s.sid, "internal-error", s.tsMediaStart)
	c.recomputeLocalVideo()
	c.emit(Event{Kind: EventInternalError, Sid: s.sid, Peer: s.peerJid, Err: err})
	c.emit(Event{
		Kind:    EventCallEnded,
		Sid:     s.sid,
		Peer:    s.peerJid,
		Reason:  "internal-error",
		Text:    err.Error(),
		StatsID: s.statsCallID(),
	})
}

func (c *Controller) endedMetrics(sid, reason string, tsMediaStart time.Time) {
	c.metrics.callsEnded.WithLabelValues(reason).Inc()
	if !tsMediaStart.IsZero() {
		c.metrics.callDuration.Observe(time.Since(tsMediaStart).Seconds())
	}
}

func (c *Controller) noteMacFailure(sid, action string) {
	c.metrics.macFailures.Inc()
	c.log.Warn("неверный MAC отпечатков, строфа отброшена",
		slog.String("sid", sid), slog.String("action", action))
}

// recomputeLocalVideo пересчитывает, используется ли сейчас локальное
// видео, и при смене состояния доставляет событие (VideoPreviewPolicy).
func (c *Controller) recomputeLocalVideo() {
	if !c.cfg.VideoPreviewPolicy {
		return
	}
	on := false
	for _, req := range c.outgoing {
		if req.localMedia != nil && req.localMedia.Av().Video {
			on = true
		}
	}
	for _, ae := range c.autoAccept {
		if ae.localMedia != nil && ae.localMedia.Av().Video {
			on = true
		}
	}
	for _, s := range c.sessions {
		if s.localMedia != nil && s.localMedia.Av().Video && !s.localMuted.Video {
			on = true
		}
	}
	if on == c.localVideoOn {
		return
	}
	c.localVideoOn = on
	kind := EventLocalVideoDisabled
	if on {
		kind = EventLocalVideoEnabled
	}
	c.emit(Event{Kind: kind})
}

func (c *Controller) emit(ev Event) {
	c.cfg.OnEvent(ev)
}

// sidKnown сообщает, занят ли sid каким-либо реестром.
func (c *Controller) sidKnown(sid string) bool {
	return c.outgoing[sid] != nil || c.incoming[sid] != nil ||
		c.autoAccept[sid] != nil || c.sessions[sid] != nil
}

func (c *Controller) respondResult(iq *stanza.IQ) {
	if err := c.transport.SendIQResponse(stanza.NewResultIQ(iq)); err != nil {
		c.log.Warn("не удалось отправить iq result", slog.Any("error", err))
	}
}

func (c *Controller) respondError(iq *stanza.IQ, condition string, unknownSession bool) {
	if err := c.transport.SendIQResponse(stanza.NewErrorIQ(iq, condition, unknownSession)); err != nil {
		c.log.Warn("не удалось отправить iq error", slog.Any("error", err))
	}
}

// sendIQ отправляет IQ и возвращает результат в done на цикле. Ответ
// type="error" превращается в ошибку.
func (c *Controller) sendIQ(iq *stanza.IQ, done func(error)) {
	c.transport.SendIQ(iq, func(res *stanza.IQ, err error) {
		c.loop.Post(func() {
			if err == nil && res != nil && res.Type == "error" {
				cond := "unknown"
				if res.Error != nil && res.Error.Condition.XMLName.Local != "" {
					cond = res.Error.Condition.XMLName.Local
				}
				err = fmt.Errorf("jingle: iq error response: %s", cond)
			}
			if done != nil {
				done(err)
			}
		})
	})
}

func (c *Controller) sendMessage(m *stanza.Message) {
	if err := c.transport.SendMessage(m); err != nil {
		c.log.Warn("не удалось отправить message",
			slog.String("type", m.Type), slog.String("sid", m.Sid), slog.Any("error", err))
	}
}

func coalesce(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
