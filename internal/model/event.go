package model

import "time"

type EventType string

const (
	EventBooked      EventType = "booked"
	EventCancelled   EventType = "cancelled"
	EventRescheduled EventType = "rescheduled"
)

// BookingEvent уходит в Notifier после успешной операции движка
type BookingEvent struct {
	Type         EventType
	Appointment  *Appointment
	Slot         *Slot
	PreviousSlot *Slot
	Actor        Actor
	At           time.Time
}
