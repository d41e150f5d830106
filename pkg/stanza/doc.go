// Package stanza содержит типизированную модель XMPP строф, которыми
// обменивается движок сигнализации звонков: message-строфы запроса звонка
// (megaCall и родственные) и IQ-строфы Jingle (XEP-0166) с содержимым
// RTP-описаний (XEP-0167), ICE-UDP транспорта (XEP-0176), RTCP feedback
// (XEP-0293) и RTP header extensions (XEP-0294).
//
// Пакет не знает ничего о сетевом транспорте: он только описывает структуру
// строф и их XML-сериализацию. Разбор и доставка строф — обязанность
// транспортного слоя, который в этот пакет не входит.
package stanza
