package models

import (
	"fmt"
	"strings"
)

type Side string

const (
	SideHigh Side = "high" // Tài
	SideLow  Side = "low"  // Xỉu
)

// ParseSide accepts the English labels and the Vietnamese names used by chat
// commands, with or without diacritics.
func ParseSide(label string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "high", "tai", "tài":
		return SideHigh, nil
	case "low", "xiu", "xỉu":
		return SideLow, nil
	default:
		return "", fmt.Errorf("invalid side: %q", label)
	}
}

func (s Side) DisplayName() string {
	switch s {
	case SideHigh:
		return "Tài"
	case SideLow:
		return "Xỉu"
	default:
		return "?"
	}
}

type SessionStatus string

const (
	SessionStatusOpen    SessionStatus = "open"
	SessionStatusClosing SessionStatus = "closing"
	SessionStatusSettled SessionStatus = "settled"
)
