// Package jingle реализует движок сигнализации peer-to-peer звонков поверх
// XMPP/Jingle (XEP-0166/0167/0176).
//
// Центральный объект — Controller: единственный владелец реестров
// исходящих запросов звонка, ожидающих auto-accept записей и установленных
// сессий. Он маршрутизирует входящие строфы по sid и типу, управляет
// жизненным циклом Session и доставляет приложению события через один
// закрытый набор Event.
//
// Сетевой транспорт (XMPP) и медиадвижок (ICE/DTLS/SRTP) в пакет не входят:
// они подключаются через интерфейсы Transport и MediaProvider. Всё
// состояние контроллера и сессий трогается только на горутине цикла Loop;
// колбэки транспорта и медиадвижка маршалятся в него и никогда не
// обращаются к состоянию напрямую.
package jingle
