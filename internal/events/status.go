package events

type EventStatus string

const (
	StatusDraft     EventStatus = "DRAFT"
	StatusPublished EventStatus = "PUBLISHED"
)

func (s EventStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished:
		return true
	}
	return false
}

func (s EventStatus) String() string {
	return string(s)
}

// CanBePublished reports whether PublishEvent may move the event forward
func (s EventStatus) CanBePublished() bool {
	return s == StatusDraft
}
