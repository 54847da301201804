package store

import (
	"strings"
	"time"
)

const (
	RoleClient = "client"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// Клиент магазина или сотрудник
type Person struct {
	ID            uint   `gorm:"primaryKey"`
	TelegramID    int64  `gorm:"uniqueIndex"`
	Username      string
	FirstName     string
	LastName      string
	Phone         *string `gorm:"uniqueIndex"`
	Age           *int
	Role          string `gorm:"index;default:'client'"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastVisitDate *time.Time
	Visions       []Vision `gorm:"constraint:OnDelete:CASCADE"`
}

func (p *Person) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

func (p *Person) PhoneOr(fallback string) string {
	if p.Phone == nil || *p.Phone == "" {
		return fallback
	}
	return *p.Phone
}

// Данные проверки зрения
type Vision struct {
	ID         uint      `gorm:"primaryKey"`
	PersonID   uint      `gorm:"index;not null"`
	VisitDate  time.Time `gorm:"index"`
	SphR       *float64
	CylR       *float64
	AxisR      *int
	SphL       *float64
	CylL       *float64
	AxisL      *int
	PD         *float64
	LensType   string
	FrameModel string
	Note       string
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// Тексты разделов меню
type BotContent struct {
	Key   string `gorm:"primaryKey;size:30"`
	Value string `gorm:"type:text;not null"`
}
