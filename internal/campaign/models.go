package campaign

import (
	"strings"
	"time"
)

// Campaign is the dialing unit of work: a number list, an agent, and the
// admission constraints the dialer enforces.
//
// Counter invariant: completed/successful/failed/active are mutated only via
// single-statement atomic SQL in the store, never read-modify-write from
// application memory. The struct fields are point-in-time reads for slot
// arithmetic and display.
type Campaign struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	AgentID string `json:"agent_id" db:"agent_id"`
	ListID  string `json:"list_id" db:"list_id"`

	Status Status `json:"status" db:"status"`

	// ConcurrentCalls is the per-campaign admission budget, not a hard
	// ceiling: a racing tick can transiently overshoot by a bounded amount
	// (see Dialer.tick).
	ConcurrentCalls int `json:"concurrent_calls" db:"concurrent_calls"`

	TotalNumbers    int `json:"total_numbers" db:"total_numbers"`
	CompletedCalls  int `json:"completed_calls" db:"completed_calls"`
	SuccessfulCalls int `json:"successful_calls" db:"successful_calls"`
	FailedCalls     int `json:"failed_calls" db:"failed_calls"`
	ActiveCalls     int `json:"active_calls" db:"active_calls"`

	// Call-hours window, evaluated in Timezone. Weekdays holds ISO weekday
	// digits, e.g. "12345" for Monday through Friday.
	CallHoursStart string `json:"call_hours_start" db:"call_hours_start"`
	CallHoursEnd   string `json:"call_hours_end" db:"call_hours_end"`
	Weekdays       string `json:"weekdays" db:"weekdays"`
	Timezone       string `json:"timezone" db:"timezone"`

	MaxRetries int `json:"max_retries" db:"max_retries"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Number is one entry in a campaign's number list (the hopper).
type Number struct {
	ID     string `json:"id" db:"id"`
	ListID string `json:"list_id" db:"list_id"`

	// Phone is E.164 where possible.
	Phone string `json:"phone" db:"phone"`
	Name  string `json:"name,omitempty" db:"name"`

	Attempts      int        `json:"attempts" db:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`

	Status NumberStatus `json:"status" db:"status"`
}

type NumberStatus string

const (
	NumberStatusPending   NumberStatus = "pending"
	NumberStatusCompleted NumberStatus = "completed"
	NumberStatusFailed    NumberStatus = "failed"
	NumberStatusOptedOut  NumberStatus = "opted_out"
)

// Progress is the counters subset returned to the API.
type Progress struct {
	CampaignID      string `json:"campaign_id"`
	TotalNumbers    int    `json:"total_numbers"`
	CompletedCalls  int    `json:"completed_calls"`
	SuccessfulCalls int    `json:"successful_calls"`
	FailedCalls     int    `json:"failed_calls"`
	ActiveCalls     int    `json:"active_calls"`
}

// InCallWindow is the pure time gate: inside the configured call hours on an
// active weekday, evaluated in the campaign's timezone. A malformed window
// fails closed (no dialing).
func (c Campaign) InCallWindow(now time.Time) bool {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if !weekdayActive(c.Weekdays, local.Weekday()) {
		return false
	}

	start, okS := parseClock(c.CallHoursStart)
	end, okE := parseClock(c.CallHoursEnd)
	if !okS || !okE {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	if start <= end {
		return minutes >= start && minutes < end
	}
	// Windows crossing midnight, e.g. 20:00-02:00.
	return minutes >= start || minutes < end
}

// weekdayActive checks an ISO weekday digit string ("1"=Monday..."7"=Sunday).
// An empty mask means every day is active.
func weekdayActive(mask string, wd time.Weekday) bool {
	if strings.TrimSpace(mask) == "" {
		return true
	}
	iso := int(wd)
	if iso == 0 {
		iso = 7 // Sunday
	}
	return strings.ContainsRune(mask, rune('0'+iso))
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(v string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// ValidPhone is the minimal sanity filter applied before dialing; full
// normalization belongs to list import, outside this engine.
func ValidPhone(phone string) bool {
	p := strings.TrimSpace(phone)
	if len(p) < 7 || len(p) > 16 {
		return false
	}
	for i, r := range p {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
