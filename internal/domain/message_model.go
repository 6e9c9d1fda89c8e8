package domain

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrMissingField = errors.New("message: missing required field")

// Message is one received text message.
type Message struct {
	XMLName  xml.Name   `gorm:"-" json:"-" xml:"Message"`
	ID       uint64     `gorm:"primaryKey;autoIncrement" json:"-" xml:"-"`
	Src      string     `gorm:"not null;size:64" json:"src" xml:"src"`
	Dst      string     `gorm:"not null;size:64;index:idx_messages_dst_stored,priority:1;index:idx_messages_dst_expiry,priority:1" json:"dst" xml:"dst"`
	Msg      string     `gorm:"type:text;not null" json:"msg" xml:"msg"`
	Provider string     `gorm:"size:120;default:''" json:"provider" xml:"provider"`
	IP       string     `gorm:"column:ip;not null;size:64" json:"ip" xml:"ip"`
	Sent     *string    `gorm:"size:64" json:"sent" xml:"sent,omitempty"`
	Recv     *string    `gorm:"size:64" json:"recv" xml:"recv,omitempty"`
	Expiry   *time.Time `gorm:"index:idx_messages_dst_expiry,priority:2" json:"expiry" xml:"expiry,omitempty"`
	Stored   time.Time  `gorm:"autoCreateTime;index;index:idx_messages_dst_stored,priority:2" json:"stored" xml:"stored"`
}

func (Message) TableName() string {
	return "messages"
}

// Validate reports the first required field that is empty.
func (m *Message) Validate() error {
	required := []struct{ name, value string }{
		{"src", m.Src},
		{"dst", m.Dst},
		{"msg", m.Msg},
		{"ip", m.IP},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	return nil
}

func (m *Message) BeforeCreate(_ *gorm.DB) error {
	return m.Validate()
}

// SetExpiry parses an RFC 3339 expiry time. Empty text clears it.
func (m *Message) SetExpiry(text string) error {
	if text == "" {
		m.Expiry = nil
		return nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return fmt.Errorf("message: expiry: %w", err)
	}
	t = t.UTC()
	m.Expiry = &t
	return nil
}

// MessageList wraps messages for XML output.
type MessageList struct {
	XMLName  xml.Name  `xml:"MessageList"`
	Messages []Message `xml:"Message"`
}
