package jingle

import "context"

// IceServer — один STUN/TURN сервер для медиадвижка.
type IceServer struct {
	URL  string
	User string
	Pass string
}

// LocalMedia — полученные у пользователя локальные дорожки.
// Один объект может разделяться несколькими сессиями; владелец —
// контроллер, он же освобождает дорожки, когда они больше не нужны.
type LocalMedia interface {
	// Av возвращает реально полученный набор дорожек. Он может быть
	// уже запрошенного: например камера занята, а микрофон доступен.
	Av() AvFlags
	// SetEnabled включает либо выключает дорожки из набора what.
	SetEnabled(what AvFlags, enabled bool)
	// Release освобождает устройства.
	Release()
}

// MediaCandidate — локальный ICE-кандидат, собранный медиадвижком.
type MediaCandidate struct {
	// SdpMid — значение a=mid медиаблока, к которому относится кандидат.
	SdpMid string
	// SdpMLineIndex — индекс медиаблока в SDP.
	SdpMLineIndex int
	// Line — строка "a=candidate:..." без перевода строки.
	Line string
}

// MediaObserver получает асинхронные события медиадвижка. Колбэки
// могут приходить на произвольных горутинах.
type MediaObserver interface {
	// OnIceCandidate вызывается для каждого собранного локального кандидата.
	OnIceCandidate(c MediaCandidate)
	// OnConnected вызывается при установлении медиасоединения.
	OnConnected()
	// OnDisconnected вызывается при потере медиасоединения.
	OnDisconnected()
	// OnRemoteStream сообщает о появлении удалённых дорожек.
	OnRemoteStream(av AvFlags)
}

// MediaEngineConfig — параметры создания медиадвижка для одной сессии.
type MediaEngineConfig struct {
	IceServers []IceServer
	LocalMedia LocalMedia
	Observer   MediaObserver
}

// MediaEngine — переговорная машина одной сессии: WebRTC peer connection
// или её аналог. Методы Create*/Set* могут быть долгими и вызываются
// движком из отдельных горутин с передачей контекста.
type MediaEngine interface {
	CreateOffer(ctx context.Context) (sdp string, err error)
	CreateAnswer(ctx context.Context) (sdp string, err error)
	SetLocalDescription(ctx context.Context, kind, sdpText string) error
	SetRemoteDescription(ctx context.Context, kind, sdpText string) error
	// AddIceCandidate применяет удалённый кандидат.
	AddIceCandidate(c MediaCandidate) error
	// RemoteAv возвращает дорожки, реально присутствующие у удалённой стороны.
	RemoteAv() AvFlags
	// SelectedRelay сообщает, идёт ли медиапоток через TURN-ретранслятор.
	// known=false, пока выбранная пара кандидатов неизвестна.
	SelectedRelay() (relay, known bool)
	Close()
}

// MediaProvider создаёт локальные дорожки и медиадвижки.
type MediaProvider interface {
	// GetUserMedia запрашивает у пользователя дорожки av. При
	// allowEmpty=true отказ по всем дорожкам не считается ошибкой
	// и возвращает пустой LocalMedia.
	GetUserMedia(ctx context.Context, av AvFlags, allowEmpty bool) (LocalMedia, error)
	// NewMediaEngine создаёт переговорную машину для одной сессии.
	NewMediaEngine(cfg MediaEngineConfig) (MediaEngine, error)
}
