// Package mediastub — медиадвижок-заглушка для тестов и демонстраций.
//
// Реализует интерфейсы jingle.MediaProvider, jingle.MediaEngine и
// jingle.LocalMedia без настоящего захвата устройств и сетевого стека:
// SDP-описания строятся честно (с самоподписанным DTLS-сертификатом и
// правдоподобными ICE-параметрами), кандидаты собираются мгновенно, а
// «соединение» устанавливается, как только обе стороны обменялись
// описаниями. Этого достаточно, чтобы прогнать весь сигнальный путь
// движка от megaCall до session-terminate.
package mediastub
