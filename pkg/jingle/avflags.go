package jingle

// AvFlags описывает набор медиадорожек: звук и/или видео.
type AvFlags struct {
	Audio bool
	Video bool
}

// Any возвращает true, если включена хотя бы одна дорожка.
func (f AvFlags) Any() bool {
	return f.Audio || f.Video
}

// MediaAttr кодирует флаги в строковое значение атрибута media
// ("a", "v", "av" или "_" для пустого набора).
func (f AvFlags) MediaAttr() string {
	switch {
	case f.Audio && f.Video:
		return "av"
	case f.Audio:
		return "a"
	case f.Video:
		return "v"
	default:
		return "_"
	}
}

// String возвращает то же представление, что и MediaAttr.
func (f AvFlags) String() string { return f.MediaAttr() }

// ParseMediaAttr разбирает значение атрибута media. Любые символы,
// кроме 'a' и 'v', игнорируются, поэтому пустая строка и "_"
// дают пустой набор.
func ParseMediaAttr(s string) AvFlags {
	var f AvFlags
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'a':
			f.Audio = true
		case 'v':
			f.Video = true
		}
	}
	return f
}
