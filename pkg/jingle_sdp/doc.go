// Package jingle_sdp переводит SDP-документы в Jingle-содержимое и обратно.
//
// Модель намеренно строчная: ParsedSDP хранит сессионную часть и медиаблоки
// как текст с сохранением порядка строк, чтобы атрибуты, которые конвертер
// не понимает, не терялись при реконструкции. Структурная типизация
// происходит на границе с Jingle: ToJingle строит типизированные элементы
// из пакета stanza, FromJingle собирает из них SDP-текст.
//
// Контракт обратимости: для любого документа, принятого Parse,
// FromJingle(ToJingle(doc)) семантически эквивалентен исходному SDP по всем
// атрибутам, которые конвертер понимает (payload-типы, fmtp-параметры,
// ssrc-параметры, ICE-кандидаты, отпечатки). Косметические отличия
// в переводах строк допустимы.
package jingle_sdp
