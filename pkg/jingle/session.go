package jingle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/jingle_call/pkg/jingle_sdp"
	"github.com/arzzra/jingle_call/pkg/stanza"
)

// Состояния медиасессии.
const (
	StateNull    = "null"    // создана, переговоры не начаты
	StatePending = "pending" // обмен offer/answer идёт
	StateActive  = "active"  // переговоры завершены, медиа устанавливается
	StateEnded   = "ended"   // штатно завершена
	StateError   = "error"   // завершена по ошибке
)

// События конечного автомата сессии.
const (
	evInitiate  = "initiate"
	evEstablish = "establish"
	evTerminate = "terminate"
	evFail      = "fail"
)

func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateNull,
		fsm.Events{
			{Name: evInitiate, Src: []string{StateNull}, Dst: StatePending},
			{Name: evEstablish, Src: []string{StatePending}, Dst: StateActive},
			{Name: evTerminate, Src: []string{StateNull, StatePending, StateActive}, Dst: StateEnded},
			{Name: evFail, Src: []string{StateNull, StatePending, StateActive}, Dst: StateError},
		},
		fsm.Callbacks{},
	)
}

// Session — одна Jingle-сессия звонка. Все методы вызываются только
// на горутине цикла контроллера; долгие операции медиадвижка выполняются
// в отдельных горутинах с возвратом продолжения в цикл.
type Session struct {
	ctrl *Controller
	log  *slog.Logger

	sid        string
	peerJid    string // полный JID удалённой стороны
	peerAnonID string
	// isInitiator: мы — инициатор сессии (звонящий).
	isInitiator  bool
	initiatorJid string

	ownFprMacKey  string
	peerFprMacKey string

	localMedia LocalMedia
	media      MediaEngine

	localSdp  *jingle_sdp.ParsedSDP
	remoteSdp *jingle_sdp.ParsedSDP

	localMuted  AvFlags
	remoteMuted AvFlags

	fsm *fsm.FSM

	// busy выставлен, пока в полёте асинхронная операция медиадвижка.
	// Пришедшие в это время Jingle-строфы откладываются в queued и
	// проигрываются после завершения операции.
	busy   bool
	queued []*stanza.Jingle

	// Локальные кандидаты, собранные до того, как локальное описание
	// стало известно сессии.
	earlyCands []MediaCandidate

	terminated   bool
	tsStart      time.Time
	tsMediaStart time.Time
}

func newSession(ctrl *Controller, sid, peerJid string, isInitiator bool,
	localMedia LocalMedia, ownKey, peerKey, peerAnonID string) (*Session, error) {

	s := &Session{
		ctrl:          ctrl,
		sid:           sid,
		peerJid:       peerJid,
		peerAnonID:    peerAnonID,
		isInitiator:   isInitiator,
		ownFprMacKey:  ownKey,
		peerFprMacKey: peerKey,
		localMedia:    localMedia,
		fsm:           newSessionFSM(),
		tsStart:       time.Now(),
	}
	if isInitiator {
		s.initiatorJid = ctrl.transport.BoundJID()
	} else {
		s.initiatorJid = peerJid
	}
	s.log = ctrl.log.With(
		slog.String("sid", sid),
		slog.String("peer", peerJid),
		slog.Bool("initiator", isInitiator),
	)

	media, err := ctrl.media.NewMediaEngine(MediaEngineConfig{
		IceServers: ctrl.iceServers,
		LocalMedia: localMedia,
		Observer:   &sessionObserver{s: s},
	})
	if err != nil {
		return nil, wrapError(CodeUnknown, "newSession", err)
	}
	s.media = media
	return s, nil
}

// State возвращает текущее состояние сессии.
func (s *Session) State() string { return s.fsm.Current() }

// statsCallID — независимый от направления идентификатор звонка для
// статистики: <anonid звонящего>:<anonid вызываемого>:<sid>.
func (s *Session) statsCallID() string {
	if s.isInitiator {
		return s.ctrl.ownAnonID + ":" + s.peerAnonID + ":" + s.sid
	}
	return s.peerAnonID + ":" + s.ctrl.ownAnonID + ":" + s.sid
}

// SentAv — дорожки, которые мы отправляем: полученные локально минус
// замьюченные.
func (s *Session) SentAv() AvFlags {
	var av AvFlags
	if s.localMedia != nil {
		av = s.localMedia.Av()
	}
	if s.localMuted.Audio {
		av.Audio = false
	}
	if s.localMuted.Video {
		av.Video = false
	}
	return av
}

// ReceivedAv — дорожки удалённой стороны минус её mute.
func (s *Session) ReceivedAv() AvFlags {
	av := s.media.RemoteAv()
	if s.remoteMuted.Audio {
		av.Audio = false
	}
	if s.remoteMuted.Video {
		av.Video = false
	}
	return av
}

// async запускает долгую операцию медиадвижка в отдельной горутине.
// По завершении продолжение done выполняется на цикле; ошибки переводят
// сессию в StateError. Отложенные за время операции строфы проигрываются
// после done.
func (s *Session) async(op string, work func(ctx context.Context) error, done func()) {
	s.busy = true
	ctx := s.ctrl.runCtx
	go func() {
		err := work(ctx)
		s.ctrl.loop.Post(func() {
			if s.terminated {
				return
			}
			s.busy = false
			if err != nil {
				s.fail(op, err)
				return
			}
			done()
			s.flushQueue()
		})
	}()
}

func (s *Session) flushQueue() {
	pending := s.queued
	s.queued = nil
	for i, jin := range pending {
		if s.busy || s.terminated {
			// Обработка прервалась новой асинхронной операцией: остаток
			// снимка возвращается в начало очереди.
			rest := append([]*stanza.Jingle{}, pending[i:]...)
			s.queued = append(rest, s.queued...)
			return
		}
		s.dispatch(jin)
	}
}

// handleJingle принимает адресованную сессии Jingle-строфу
// (подтверждение IQ уже отправлено контроллером).
func (s *Session) handleJingle(jin *stanza.Jingle) {
	if s.terminated {
		return
	}
	if s.busy {
		s.queued = append(s.queued, jin)
		return
	}
	s.dispatch(jin)
}

func (s *Session) dispatch(jin *stanza.Jingle) {
	switch jin.Action {
	case stanza.ActionSessionAccept:
		s.onSessionAccept(jin)
	case stanza.ActionTransportInfo:
		s.onTransportInfo(jin)
	case stanza.ActionSessionInfo:
		s.onSessionInfo(jin)
	case stanza.ActionSessionTerminate:
		s.onRemoteTerminate(jin)
	default:
		s.log.Warn("неизвестное действие jingle", slog.String("action", jin.Action))
	}
}

// initiateOutgoing начинает переговоры со стороны звонящего: создаёт
// offer, применяет его локально и отправляет session-initiate.
func (s *Session) initiateOutgoing() {
	if err := s.fsm.Event(context.Background(), evInitiate); err != nil {
		// Повторный initiate — нарушение инварианта вызывающего кода;
		// состояние сессии не меняется.
		s.log.Warn("повторный initiate игнорируется",
			slog.String("state", s.fsm.Current()), slog.Any("error", err))
		return
	}
	var offer string
	s.async("create-offer", func(ctx context.Context) error {
		o, err := s.media.CreateOffer(ctx)
		if err != nil {
			return err
		}
		if err := s.media.SetLocalDescription(ctx, "offer", o); err != nil {
			return err
		}
		offer = o
		return nil
	}, func() {
		parsed, err := jingle_sdp.Parse(offer)
		if err != nil {
			s.fail("parse-offer", err)
			return
		}
		contents, err := parsed.ToJingle(stanza.CreatorInitiator)
		if err != nil {
			s.fail("offer-to-jingle", err)
			return
		}
		jin := stanza.NewJingle(stanza.ActionSessionInitiate, s.initiatorJid, s.sid)
		jin.Contents = contents
		jin.Groups = parsed.GroupsToJingle()
		mac, err := computeFingerprintMAC(s.ctrl.crypto, contents, s.ownFprMacKey)
		if err != nil {
			s.fail("fingerprint-mac", err)
			return
		}
		jin.FprMac = mac
		s.sendJingle(jin)
		// Кандидаты уходят строго после session-initiate.
		s.setLocalSdp(parsed)
	})
}

// processRemoteOffer обрабатывает session-initiate на принявшей стороне:
// применяет удалённый offer, создаёт и отправляет answer. MAC отпечатков
// уже проверен контроллером.
func (s *Session) processRemoteOffer(jin *stanza.Jingle) {
	if err := s.fsm.Event(context.Background(), evInitiate); err != nil {
		s.log.Warn("повторный initiate игнорируется",
			slog.String("state", s.fsm.Current()), slog.Any("error", err))
		return
	}
	remote, err := jingle_sdp.FromJingle(jin.Contents, jin.Groups)
	if err != nil {
		s.fail("offer-from-jingle", err)
		return
	}
	s.remoteSdp = remote
	s.applyMuteFromSenders(jin.Contents)

	var answer string
	s.async("create-answer", func(ctx context.Context) error {
		if err := s.media.SetRemoteDescription(ctx, "offer", remote.String()); err != nil {
			return err
		}
		a, err := s.media.CreateAnswer(ctx)
		if err != nil {
			return err
		}
		if err := s.media.SetLocalDescription(ctx, "answer", a); err != nil {
			return err
		}
		answer = a
		return nil
	}, func() {
		parsed, err := jingle_sdp.Parse(answer)
		if err != nil {
			s.fail("parse-answer", err)
			return
		}
		contents, err := parsed.ToJingle(stanza.CreatorResponder)
		if err != nil {
			s.fail("answer-to-jingle", err)
			return
		}
		accept := stanza.NewJingle(stanza.ActionSessionAccept, s.initiatorJid, s.sid)
		accept.Contents = contents
		accept.Groups = parsed.GroupsToJingle()
		mac, err := computeFingerprintMAC(s.ctrl.crypto, contents, s.ownFprMacKey)
		if err != nil {
			s.fail("fingerprint-mac", err)
			return
		}
		accept.FprMac = mac
		s.sendJingle(accept)
		// Кандидаты уходят строго после session-accept.
		s.setLocalSdp(parsed)
		s.establish()
		// Партнёр должен узнать про дорожки, выключенные ещё до звонка.
		s.sendMutedState()
	})
}

// onSessionAccept обрабатывает session-accept на стороне инициатора.
func (s *Session) onSessionAccept(jin *stanza.Jingle) {
	if s.fsm.Current() != StatePending {
		s.log.Warn("session-accept вне pending", slog.String("state", s.fsm.Current()))
		return
	}
	if s.remoteSdp != nil {
		s.log.Warn("повторный session-accept", slog.String("sid", s.sid))
		return
	}
	if !verifyFingerprintMAC(s.ctrl.crypto, jin.Contents, s.peerFprMacKey, jin.FprMac) {
		s.ctrl.noteMacFailure(s.sid, "session-accept")
		// Подделанный accept молча отбрасывается на проводе, но локально
		// сессия обязана умереть: без верных отпечатков звонка не будет.
		s.securityFail("fingerprint verification failed on session-accept")
		return
	}
	remote, err := jingle_sdp.FromJingle(jin.Contents, jin.Groups)
	if err != nil {
		s.fail("accept-from-jingle", err)
		return
	}
	s.remoteSdp = remote
	s.applyMuteFromSenders(jin.Contents)

	s.async("set-remote-answer", func(ctx context.Context) error {
		return s.media.SetRemoteDescription(ctx, "answer", remote.String())
	}, func() {
		s.establish()
		s.sendMutedState()
	})
}

func (s *Session) establish() {
	if err := s.fsm.Event(context.Background(), evEstablish); err != nil {
		s.fail("establish", err)
		return
	}
	s.ctrl.onSessionActive(s)
}

// applyMuteFromSenders выводит начальный mute удалённой стороны из
// атрибутов senders: дорожка, которую партнёр не отправляет, считается
// замьюченной им.
func (s *Session) applyMuteFromSenders(contents []stanza.Content) {
	peerRole := stanza.SendersResponder
	if !s.isInitiator {
		peerRole = stanza.SendersInitiator
	}
	for _, c := range contents {
		if c.Description == nil {
			continue
		}
		sends := c.Senders == "" || c.Senders == stanza.SendersBoth || c.Senders == peerRole
		switch c.Description.Media {
		case "audio":
			s.remoteMuted.Audio = !sends
		case "video":
			s.remoteMuted.Video = !sends
		}
	}
}

// onTransportInfo применяет удалённые ICE-кандидаты.
func (s *Session) onTransportInfo(jin *stanza.Jingle) {
	if s.remoteSdp == nil {
		// transport-info обогнал session-accept: кандидаты подождут
		// удалённого описания в общей очереди.
		s.queued = append(s.queued, jin)
		return
	}
	for _, c := range jin.Contents {
		if c.Transport == nil {
			continue
		}
		idx := s.remoteSdp.MidIndex(c.Name)
		if idx < 0 {
			idx = 0
		}
		for i := range c.Transport.Candidates {
			line := strings.TrimSpace(jingle_sdp.CandidateFromJingle(&c.Transport.Candidates[i]))
			if err := s.media.AddIceCandidate(MediaCandidate{
				SdpMid:        c.Name,
				SdpMLineIndex: idx,
				Line:          line,
			}); err != nil {
				s.log.Warn("кандидат отвергнут медиадвижком",
					slog.String("candidate", line), slog.Any("error", err))
			}
		}
	}
}

// onSessionInfo обрабатывает ringing и mute/unmute.
func (s *Session) onSessionInfo(jin *stanza.Jingle) {
	switch {
	case jin.Ringing != nil:
		s.ctrl.emit(Event{Kind: EventRinging, Sid: s.sid, Peer: s.peerJid})
	case jin.Mute != nil:
		s.applyRemoteMute(jin.Mute.Name, true)
	case jin.Unmute != nil:
		s.applyRemoteMute(jin.Unmute.Name, false)
	default:
		s.log.Debug("session-info без известного payload")
	}
}

func (s *Session) applyRemoteMute(channel string, muted bool) {
	var av AvFlags
	switch channel {
	case stanza.MuteChannelVoice:
		av.Audio = true
		s.remoteMuted.Audio = muted
	case stanza.MuteChannelVideo:
		av.Video = true
		s.remoteMuted.Video = muted
	default:
		return
	}
	kind := EventPeerUnmuted
	if muted {
		kind = EventPeerMuted
	}
	s.ctrl.emit(Event{Kind: kind, Sid: s.sid, Peer: s.peerJid, Av: av})
}

// Mute выключает либо включает локальные дорожки what и уведомляет
// удалённую сторону session-info строфами.
func (s *Session) Mute(what AvFlags, muted bool) {
	if s.terminated || s.localMedia == nil {
		return
	}
	s.localMedia.SetEnabled(what, !muted)
	if what.Audio && s.localMuted.Audio != muted {
		s.localMuted.Audio = muted
		s.sendMuteInfo(stanza.MuteChannelVoice, muted)
	}
	if what.Video && s.localMuted.Video != muted {
		s.localMuted.Video = muted
		s.sendMuteInfo(stanza.MuteChannelVideo, muted)
		s.ctrl.recomputeLocalVideo()
	}
}

func (s *Session) sendMuteInfo(channel string, muted bool) {
	jin := stanza.NewJingle(stanza.ActionSessionInfo, s.initiatorJid, s.sid)
	info := &stanza.MuteInfo{XMLNS: stanza.NSJingleInfo, Name: channel}
	if muted {
		jin.Mute = info
	} else {
		jin.Unmute = info
	}
	s.sendJingle(jin)
}

// sendMutedState отправляет текущее состояние mute после установления
// сессии, чтобы партнёр знал о дорожках, выключенных заранее.
func (s *Session) sendMutedState() {
	if s.localMuted.Audio {
		s.sendMuteInfo(stanza.MuteChannelVoice, true)
	}
	if s.localMuted.Video {
		s.sendMuteInfo(stanza.MuteChannelVideo, true)
	}
}

// setLocalSdp запоминает локальное описание и досылает кандидаты,
// собранные до его появления.
func (s *Session) setLocalSdp(parsed *jingle_sdp.ParsedSDP) {
	s.localSdp = parsed
	early := s.earlyCands
	s.earlyCands = nil
	for _, c := range early {
		s.sendLocalCandidate(c)
	}
}

// sendLocalCandidate отправляет собранный локальный кандидат
// transport-info строфой.
func (s *Session) sendLocalCandidate(c MediaCandidate) {
	if s.terminated {
		return
	}
	if s.localSdp == nil {
		s.earlyCands = append(s.earlyCands, c)
		return
	}
	cand, err := jingle_sdp.CandidateToJingle("a=candidate:" + strings.TrimPrefix(c.Line, "a=candidate:"))
	if err != nil {
		s.log.Warn("кандидат не разобран", slog.String("line", c.Line), slog.Any("error", err))
		return
	}
	creator := stanza.CreatorInitiator
	if !s.isInitiator {
		creator = stanza.CreatorResponder
	}
	transport := stanza.NewIceUdpTransport()
	idx := s.localSdp.MidIndex(c.SdpMid)
	if idx < 0 {
		idx = c.SdpMLineIndex
	}
	if ufrag, ok := s.localSdp.MediaAttr(idx, "a=ice-ufrag:"); ok {
		transport.Ufrag = ufrag
	}
	if pwd, ok := s.localSdp.MediaAttr(idx, "a=ice-pwd:"); ok {
		transport.Pwd = pwd
	}
	transport.Candidates = append(transport.Candidates, *cand)

	jin := stanza.NewJingle(stanza.ActionTransportInfo, s.initiatorJid, s.sid)
	jin.Contents = []stanza.Content{{
		Creator:   creator,
		Name:      c.SdpMid,
		Transport: transport,
	}}
	s.sendJingle(jin)
}

func (s *Session) onMediaConnected() {
	if s.terminated {
		return
	}
	s.tsMediaStart = time.Now()
	s.ctrl.emit(Event{
		Kind: EventSessionEstablished,
		Sid:  s.sid,
		Peer: s.peerJid,
		Av:   s.ReceivedAv(),
	})
}

func (s *Session) onMediaDisconnected() {
	if s.terminated {
		return
	}
	s.terminate("ice-disconnect", "", true)
}

// onRemoteTerminate обрабатывает session-terminate от партнёра.
func (s *Session) onRemoteTerminate(jin *stanza.Jingle) {
	reason, text := "peer-hangup", ""
	if jin.Reason != nil {
		text = jin.Reason.Text
		switch jin.Reason.Condition {
		case "", "success", "hangup":
			// нормальное завершение партнёром
		default:
			reason = "peer-" + jin.Reason.Condition
		}
	}
	s.terminate(reason, text, false)
}

// terminate завершает сессию. При sendIQ=true партнёру отправляется
// session-terminate с указанной причиной.
func (s *Session) terminate(reason, text string, sendIQ bool) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.queued = nil

	if sendIQ {
		jin := stanza.NewJingle(stanza.ActionSessionTerminate, s.initiatorJid, s.sid)
		jin.Reason = &stanza.Reason{Condition: outgoingReason(reason), Text: text}
		s.sendJingle(jin)
	}
	_ = s.fsm.Event(context.Background(), evTerminate)
	s.media.Close()
	s.ctrl.onSessionEnded(s, reason, text)
}

// outgoingReason отображает внутреннюю причину завершения в условие
// элемента <reason>.
func outgoingReason(reason string) string {
	switch reason {
	case "", "hangup":
		return "success"
	default:
		return reason
	}
}

func (s *Session) fail(op string, err error) {
	if s.terminated {
		return
	}
	s.log.Error("ошибка сессии", slog.String("op", op), slog.Any("error", err))
	s.terminated = true
	s.queued = nil

	jin := stanza.NewJingle(stanza.ActionSessionTerminate, s.initiatorJid, s.sid)
	jin.Reason = &stanza.Reason{Condition: "general-error", Text: err.Error()}
	s.sendJingle(jin)

	_ = s.fsm.Event(context.Background(), evFail)
	s.media.Close()
	s.ctrl.onSessionFailed(s, fmt.Errorf("%s: %w", op, err))
}

// securityFail завершает сессию из-за провала проверки подлинности.
// Партнёру ничего не отправляется: подделанная строфа не заслуживает
// ответа, сессия локально переходит в error и снимается с учёта.
func (s *Session) securityFail(msg string) {
	if s.terminated {
		return
	}
	s.log.Error("проверка подлинности не пройдена", slog.String("detail", msg))
	s.terminated = true
	s.queued = nil
	_ = s.fsm.Event(context.Background(), evFail)
	s.media.Close()
	s.ctrl.onSessionEnded(s, "security", msg)
}

func (s *Session) sendJingle(jin *stanza.Jingle) {
	iq := &stanza.IQ{Type: "set", To: s.peerJid, Jingle: jin}
	s.ctrl.sendIQ(iq, func(err error) {
		if err == nil {
			return
		}
		if errors.Is(err, ErrIQTimeout) {
			s.terminate("timeout", "", false)
			return
		}
		s.fail("send-"+jin.Action, err)
	})
}

// sessionObserver маршалит колбэки медиадвижка в цикл контроллера.
type sessionObserver struct {
	s *Session
}

var _ MediaObserver = (*sessionObserver)(nil)

func (o *sessionObserver) OnIceCandidate(c MediaCandidate) {
	o.s.ctrl.loop.Post(func() { o.s.sendLocalCandidate(c) })
}

func (o *sessionObserver) OnConnected() {
	o.s.ctrl.loop.Post(o.s.onMediaConnected)
}

func (o *sessionObserver) OnDisconnected() {
	o.s.ctrl.loop.Post(o.s.onMediaDisconnected)
}

func (o *sessionObserver) OnRemoteStream(av AvFlags) {
	s := o.s
	s.ctrl.loop.Post(func() {
		if s.terminated {
			return
		}
		s.ctrl.emit(Event{Kind: EventRemoteStream, Sid: s.sid, Peer: s.peerJid, Av: av})
	})
}
