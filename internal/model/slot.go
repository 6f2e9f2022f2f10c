package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotStatusOpen   SlotStatus = "open"
	SlotStatusBooked SlotStatus = "booked"
)

type Slot struct {
	ID        uuid.UUID  `json:"id"`
	ExpertID  string     `json:"expert_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Status    SlotStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsOpen слот ещё можно забронировать
func (s *Slot) IsOpen() bool {
	return s.Status == SlotStatusOpen
}

// Overlaps пересекается ли [start, end) со слотом
func (s *Slot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// StartsAfter начинается ли слот строго после t
func (s *Slot) StartsAfter(t time.Time) bool {
	return s.StartTime.After(t)
}

// TimeRange интервал будущего слота
type TimeRange struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// Validate проверяет, что начало раньше конца
func (r TimeRange) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}
