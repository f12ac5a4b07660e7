package remote

import (
	"time"

	"github.com/42zz/CaleNote-sub001/internal/model"
)

const dateOnly = "2006-01-02"

type wireCollection struct {
	ID      string `json:"id"`
	Name    string `json:"displayName"`
	Primary bool   `json:"primary"`
	Color   string `json:"color,omitempty"`
}

func (c wireCollection) toModel() model.Collection {
	return model.Collection{
		ID:      c.ID,
		Name:    c.Name,
		Primary: c.Primary,
		Color:   c.Color,
		Enabled: true,
	}
}

// wireTime carries either a date-only value (all-day) or a date-time with
// time zone.
type wireTime struct {
	Date     string     `json:"date,omitempty"`
	DateTime *time.Time `json:"dateTime,omitempty"`
	TimeZone string     `json:"timeZone,omitempty"`
}

func (t wireTime) resolve() (time.Time, bool) {
	if t.Date != "" {
		d, err := time.Parse(dateOnly, t.Date)
		if err != nil {
			return time.Time{}, true
		}
		return d, true
	}
	if t.DateTime != nil {
		return *t.DateTime, false
	}
	return time.Time{}, false
}

func toWireTime(ts time.Time, allDay bool) wireTime {
	if allDay {
		return wireTime{Date: ts.Format(dateOnly)}
	}
	t := ts
	return wireTime{DateTime: &t, TimeZone: ts.Location().String()}
}

type wireItem struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Start           wireTime          `json:"start"`
	End             wireTime          `json:"end"`
	Status          string            `json:"status"`
	Updated         time.Time         `json:"updated"`
	PrivateMetadata map[string]string `json:"privateMetadata,omitempty"`
}

func (i wireItem) toModel() model.RemoteItem {
	start, allDay := i.Start.resolve()
	end, _ := i.End.resolve()
	status := model.ItemStatus(i.Status)
	if status != model.ItemCancelled {
		status = model.ItemConfirmed
	}
	return model.RemoteItem{
		ID:          i.ID,
		Title:       i.Title,
		Description: i.Description,
		StartAt:     start,
		EndAt:       end,
		AllDay:      allDay,
		Status:      status,
		UpdatedAt:   i.Updated,
		Metadata:    i.PrivateMetadata,
	}
}

func (p ItemPayload) toWire() wireItem {
	return wireItem{
		Title:           p.Title,
		Description:     p.Description,
		Start:           toWireTime(p.StartAt, p.AllDay),
		End:             toWireTime(p.EndAt, p.AllDay),
		Status:          string(model.ItemConfirmed),
		PrivateMetadata: p.Metadata,
	}
}
