package jingle

// EventKind — тип события движка.
type EventKind int

const (
	// EventIncomingCall — входящий запрос звонка; поле Answer позволяет
	// принять или отклонить его.
	EventIncomingCall EventKind = iota
	// EventCallInit — исходящий запрос отправлен, ждём ответа.
	EventCallInit
	// EventRinging — удалённая сторона сигнализирует о звонке.
	EventRinging
	// EventCallAnswered — вызываемый принял звонок, начинаются переговоры.
	EventCallAnswered
	// EventCallDeclined — запрос звонка отклонён удалённой стороной.
	EventCallDeclined
	// EventCallCanceled — входящий запрос отозван вызывающим либо
	// обработан другим нашим клиентом.
	EventCallCanceled
	// EventAnswerTimeout — удалённая сторона не ответила за отведённое время.
	EventAnswerTimeout
	// EventSessionStarting — медиасессия создаётся, доступ к устройствам
	// уже получен.
	EventSessionStarting
	// EventSessionEstablished — медиасоединение установлено.
	EventSessionEstablished
	// EventRemoteStream — у удалённой стороны появились дорожки Av.
	EventRemoteStream
	// EventCallEnded — сессия завершена; Reason/Text описывают причину.
	EventCallEnded
	// EventPeerMuted — удалённая сторона выключила дорожки Av.
	EventPeerMuted
	// EventPeerUnmuted — удалённая сторона включила дорожки Av.
	EventPeerUnmuted
	// EventLocalVideoEnabled / EventLocalVideoDisabled — локальное видео
	// включено либо выключено (доставляются при включённой
	// VideoPreviewPolicy один раз на фактическую смену состояния).
	EventLocalVideoEnabled
	EventLocalVideoDisabled
	// EventInternalError — внутренняя ошибка; звонок, если был, завершён.
	EventInternalError
)

// String возвращает имя типа события.
func (k EventKind) String() string {
	switch k {
	case EventIncomingCall:
		return "IncomingCall"
	case EventCallInit:
		return "CallInit"
	case EventRinging:
		return "Ringing"
	case EventCallAnswered:
		return "CallAnswered"
	case EventCallDeclined:
		return "CallDeclined"
	case EventCallCanceled:
		return "CallCanceled"
	case EventAnswerTimeout:
		return "AnswerTimeout"
	case EventSessionStarting:
		return "SessionStarting"
	case EventSessionEstablished:
		return "SessionEstablished"
	case EventRemoteStream:
		return "RemoteStream"
	case EventCallEnded:
		return "CallEnded"
	case EventPeerMuted:
		return "PeerMuted"
	case EventPeerUnmuted:
		return "PeerUnmuted"
	case EventLocalVideoEnabled:
		return "LocalVideoEnabled"
	case EventLocalVideoDisabled:
		return "LocalVideoDisabled"
	case EventInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Event — событие движка, доставляемое приложению на горутине цикла.
type Event struct {
	Kind EventKind
	// Sid — идентификатор сессии, если событие относится к конкретному звонку.
	Sid string
	// Peer — JID удалённой стороны (полный, если известен ресурс).
	Peer string
	// PeerAnonID — анонимный идентификатор удалённой стороны.
	PeerAnonID string
	// Av — набор дорожек для событий про медиа и mute.
	Av AvFlags
	// Reason и Text — причина завершения для EventCallEnded.
	Reason string
	Text   string
	// StatsID — идентификатор звонка для статистики в форме
	// "<anonId звонящего>:<anonId вызываемого>:<sid>"; одинаков у обеих
	// сторон. Заполняется в EventCallEnded, если сессия была создана.
	StatsID string
	// IsBroadcast — входящий запрос адресован bare JID, то есть всем
	// нашим клиентам сразу.
	IsBroadcast bool
	// HandledBy и Accepted — для EventCallCanceled с причиной
	// handled-elsewhere: какой клиент обработал звонок и как.
	HandledBy string
	Accepted  bool
	// Answer — управление входящим запросом (только EventIncomingCall).
	Answer *AnswerCtrl
	// Err — подробности для EventInternalError.
	Err error
}

// EventHandler — приложенческий обработчик событий. Вызывается строго
// последовательно на горутине цикла. Модифицирующие методы контроллера
// (StartMediaCall, Hangup, Mute...) звать из него безопасно; читающие
// (SentAv, SessionState...) — нельзя, они заблокируют цикл. Нужные
// обработчику данные берите из полей самого события.
type EventHandler func(Event)
