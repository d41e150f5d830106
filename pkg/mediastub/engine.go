package mediastub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/jingle_call/pkg/jingle"
)

// Engine — переговорная машина-заглушка одной сессии.
type Engine struct {
	cfg         jingle.MediaEngineConfig
	fingerprint string // значение sha-256 отпечатка
	ufrag, pwd  string
	port        int

	mu          sync.Mutex
	sessionID   uint64
	localKinds  []string
	remoteKinds []string
	localSet    bool
	remoteSet   bool
	remoteAv    jingle.AvFlags
	candidates  []jingle.MediaCandidate
	connected   bool
	closed      bool
}

var _ jingle.MediaEngine = (*Engine)(nil)

// CreateOffer строит offer с медиаблоком на каждую локальную дорожку.
// Без дорожек создаётся один аудиоблок recvonly.
func (e *Engine) CreateOffer(_ context.Context) (string, error) {
	av := e.localAv()
	var kinds, directions []string
	if av.Audio || !av.Any() {
		kinds = append(kinds, "audio")
		directions = append(directions, directionFor(av.Audio))
	}
	if av.Video {
		kinds = append(kinds, "video")
		directions = append(directions, "sendrecv")
	}
	e.mu.Lock()
	e.localKinds = kinds
	e.mu.Unlock()
	return e.buildSDP(kinds, directions, "actpass")
}

// CreateAnswer зеркалит медиаблоки удалённого offer.
func (e *Engine) CreateAnswer(_ context.Context) (string, error) {
	e.mu.Lock()
	remoteKinds := append([]string(nil), e.remoteKinds...)
	e.mu.Unlock()
	if len(remoteKinds) == 0 {
		return "", fmt.Errorf("mediastub: no remote description to answer")
	}
	av := e.localAv()
	var directions []string
	for _, kind := range remoteKinds {
		have := kind == "audio" && av.Audio || kind == "video" && av.Video
		directions = append(directions, directionFor(have))
	}
	e.mu.Lock()
	e.localKinds = remoteKinds
	e.mu.Unlock()
	return e.buildSDP(remoteKinds, directions, "active")
}

func (e *Engine) localAv() jingle.AvFlags {
	if e.cfg.LocalMedia == nil {
		return jingle.AvFlags{}
	}
	return e.cfg.LocalMedia.Av()
}

func directionFor(sending bool) string {
	if sending {
		return "sendrecv"
	}
	return "recvonly"
}

// SetLocalDescription принимает наше описание и запускает мгновенный
// «сбор» кандидатов: по одному host-кандидату на медиаблок.
func (e *Engine) SetLocalDescription(_ context.Context, _, _ string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("mediastub: engine closed")
	}
	first := !e.localSet
	e.localSet = true
	kinds := append([]string(nil), e.localKinds...)
	observer := e.cfg.Observer
	e.mu.Unlock()

	if first && observer != nil {
		go func() {
			for i, kind := range kinds {
				observer.OnIceCandidate(jingle.MediaCandidate{
					SdpMid:        kind,
					SdpMLineIndex: i,
					Line: fmt.Sprintf(
						"a=candidate:%d 1 udp 2122260223 127.0.0.1 %d typ host generation 0",
						1000+i, e.port+i*2),
				})
			}
			e.maybeConnect()
		}()
	}
	return nil
}

// SetRemoteDescription разбирает описание удалённой стороны и
// запоминает её дорожки.
func (e *Engine) SetRemoteDescription(_ context.Context, _, sdpText string) error {
	desc := &sdp.SessionDescription{}
	if err := desc.UnmarshalString(sdpText); err != nil {
		return fmt.Errorf("mediastub: bad remote sdp: %w", err)
	}
	var av jingle.AvFlags
	var kinds []string
	for _, m := range desc.MediaDescriptions {
		kinds = append(kinds, m.MediaName.Media)
		if m.MediaName.Port.Value == 0 {
			continue
		}
		sends := true
		for _, a := range m.Attributes {
			if a.Key == "recvonly" || a.Key == "inactive" {
				sends = false
			}
		}
		if !sends {
			continue
		}
		switch m.MediaName.Media {
		case "audio":
			av.Audio = true
		case "video":
			av.Video = true
		}
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("mediastub: engine closed")
	}
	e.remoteSet = true
	e.remoteAv = av
	e.remoteKinds = kinds
	e.mu.Unlock()

	go e.maybeConnect()
	return nil
}

// AddIceCandidate запоминает удалённый кандидат.
func (e *Engine) AddIceCandidate(c jingle.MediaCandidate) error {
	if !strings.HasPrefix(c.Line, "a=candidate:") && !strings.HasPrefix(c.Line, "candidate:") {
		return fmt.Errorf("mediastub: not a candidate line: %q", c.Line)
	}
	e.mu.Lock()
	e.candidates = append(e.candidates, c)
	e.mu.Unlock()
	return nil
}

// RemoteAv возвращает дорожки удалённой стороны.
func (e *Engine) RemoteAv() jingle.AvFlags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteAv
}

// SelectedRelay: заглушка никогда не ходит через TURN.
func (e *Engine) SelectedRelay() (relay, known bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return false, e.connected
}

// RemoteCandidates возвращает применённые удалённые кандидаты.
func (e *Engine) RemoteCandidates() []jingle.MediaCandidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]jingle.MediaCandidate(nil), e.candidates...)
}

// Close закрывает машину. Событий наблюдателю штатное закрытие не даёт.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// maybeConnect объявляет соединение установленным, когда обе стороны
// описаны. Небольшая задержка имитирует ICE-проверки.
func (e *Engine) maybeConnect() {
	e.mu.Lock()
	ready := e.localSet && e.remoteSet && !e.connected && !e.closed
	if ready {
		e.connected = true
	}
	observer := e.cfg.Observer
	av := e.remoteAv
	e.mu.Unlock()

	if !ready || observer == nil {
		return
	}
	time.Sleep(time.Millisecond)
	observer.OnConnected()
	if av.Any() {
		observer.OnRemoteStream(av)
	}
}

func (e *Engine) buildSDP(kinds, directions []string, setup string) (string, error) {
	e.mu.Lock()
	e.sessionID++
	version := e.sessionID
	e.mu.Unlock()

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1923518516,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName:      "-",
		TimeDescriptions: []sdp.TimeDescription{{}},
	}
	for i, kind := range kinds {
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:  kind,
				Port:   sdp.RangedPort{Value: e.port + i*2},
				Protos: []string{"RTP", "SAVPF"},
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			},
		}
		md = md.WithValueAttribute("mid", kind).
			WithICECredentials(e.ufrag, e.pwd).
			WithFingerprint("sha-256", e.fingerprint).
			WithValueAttribute("setup", setup).
			WithPropertyAttribute(directions[i]).
			WithPropertyAttribute("rtcp-mux")
		switch kind {
		case "audio":
			md = md.WithCodec(111, "opus", 48000, 2, "minptime=10")
		case "video":
			md = md.WithCodec(100, "VP8", 90000, 0, "")
		}
		desc = desc.WithMedia(md)
	}
	raw, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("mediastub: marshal sdp: %w", err)
	}
	return string(raw), nil
}
