package websocket

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationType categorizes a notification for display and priority.
type NotificationType string

const (
	NotificationSuccess      NotificationType = "success"
	NotificationWarning      NotificationType = "warning"
	NotificationError        NotificationType = "error"
	NotificationInfo         NotificationType = "info"
	NotificationAnnouncement NotificationType = "announcement"
	NotificationHousePoints  NotificationType = "house_points"
)

// Flush ordering weights. Higher flushes first when a batch is truncated.
const (
	PriorityDefault      = 0
	PriorityAnnouncement = 1
	PrioritySuccess      = 2
	PriorityWarning      = 3
	PriorityError        = 4
	PriorityHigh         = 5
)

// PriorityOf maps a notification type to its batch ordering priority.
func PriorityOf(t NotificationType) int {
	switch t {
	case NotificationError:
		return PriorityError
	case NotificationWarning:
		return PriorityWarning
	case NotificationSuccess:
		return PrioritySuccess
	case NotificationAnnouncement:
		return PriorityAnnouncement
	case NotificationHousePoints:
		return PriorityHigh
	default:
		return PriorityDefault
	}
}

// Notification is an immutable event produced once and handed to the batcher
// or dispatcher. The producer must not mutate it after enqueue.
type Notification struct {
	ID        string
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
	Priority  int

	// Fields specific to house point changes.
	House    string
	Points   int
	NewTotal int
	Reason   string
	Criteria string
	Level    string
}

// NewNotification builds a generic notification with a fresh unique id.
func NewNotification(t NotificationType, title, message string) *Notification {
	if title == "" {
		if t == NotificationSuccess {
			title = "Success"
		} else {
			title = "Notification"
		}
	}
	return &Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Priority:  PriorityOf(t),
	}
}

// NewHousePointsNotification builds the canonical point-change notification.
// All recipients of one broadcast share the id, the timestamp and the message
// text produced here.
func NewHousePointsNotification(house string, points, newTotal int, reason, criteria, level string, now time.Time) *Notification {
	title := "POINTS DEDUCTED!"
	if points > 0 {
		title = "POINTS AWARDED!"
	}
	return &Notification{
		ID:        fmt.Sprintf("house_points_%s_%d_%d", house, points, now.UnixMilli()),
		Type:      NotificationHousePoints,
		Title:     title,
		Message:   FormatHousePointsMessage(house, points, reason, criteria, level),
		Timestamp: now,
		Priority:  PriorityHigh,
		House:     house,
		Points:    points,
		NewTotal:  newTotal,
		Reason:    reason,
		Criteria:  criteria,
		Level:     level,
	}
}

// Payload converts the notification into its wire form.
func (n *Notification) Payload() NotificationPayload {
	return NotificationPayload{
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Timestamp: wireTime(n.Timestamp),
		House:     n.House,
		Points:    n.Points,
		NewTotal:  n.NewTotal,
		Reason:    n.Reason,
		Criteria:  n.Criteria,
		Level:     n.Level,
		UniqueID:  n.ID,
		Priority:  n.Priority,
	}
}

// housePointsWire builds the dedicated house_points_update payload with
// display hints for the frontend.
func (n *Notification) housePointsWire(skipAdmin bool) HousePointsPayload {
	positive := n.Points > 0
	subType := "decrease"
	display := DisplayHints{
		Color:     "#FF5252",
		BgColor:   "rgba(255, 82, 82, 0.1)",
		Icon:      "decrease_points",
		Image:     "DecreasePoint.png",
		Animation: "shakeX",
	}
	if positive {
		subType = "increase"
		display = DisplayHints{
			Color:     "#4CAF50",
			BgColor:   "rgba(76, 175, 80, 0.1)",
			Icon:      "increase_points",
			Image:     "IncreasePoint.png",
			Animation: "fadeInUp",
		}
	}
	return HousePointsPayload{
		Type:      string(NotificationHousePoints),
		SubType:   subType,
		Title:     n.Title,
		Message:   n.Message,
		Timestamp: wireTime(n.Timestamp),
		House:     n.House,
		Points:    n.Points,
		NewTotal:  n.NewTotal,
		Reason:    n.Reason,
		Criteria:  n.Criteria,
		Level:     n.Level,
		UniqueID:  n.ID,
		Priority:  n.Priority,
		SkipAdmin: skipAdmin,
		Display:   display,
	}
}

// FormatHousePointsMessage renders the standardized point-change text shown
// to every member of the house.
func FormatHousePointsMessage(house string, points int, reason, criteria, level string) string {
	verb := "lost"
	abs := points
	if points > 0 {
		verb = "gained"
	} else {
		abs = -points
	}

	houseName := house
	if houseName != "" {
		houseName = strings.ToUpper(houseName[:1]) + houseName[1:]
	}

	msg := fmt.Sprintf("House %s has %s %d points!", houseName, verb, abs)

	var details []string
	if r := strings.TrimSpace(reason); r != "" && r != "Admin action" {
		details = append(details, "Reason: "+r)
	}
	if c := strings.TrimSpace(criteria); c != "" {
		details = append(details, "Criteria: "+c)
	}
	if l := strings.TrimSpace(level); l != "" {
		details = append(details, "Level: "+l)
	}
	if len(details) > 0 {
		msg += " " + strings.Join(details, ". ") + "."
	}
	return msg
}

// Producers are expected to pass criteria and level as structured fields; the
// regex fallback below exists for older callers that still pack them into the
// free-text reason. Extraction is case-insensitive and stops at the next
// label or at end of string.
var (
	criteriaRe = regexp.MustCompile(`(?i)criteria:\s*(.*?)\s*(?:\blevel:|$)`)
	levelRe    = regexp.MustCompile(`(?i)level:\s*(.*?)\s*(?:\bcriteria:|$)`)
)

// ParseCriteriaLevel extracts "Criteria: ..." and "Level: ..." fragments from
// a free-text reason. Either result may be empty.
func ParseCriteriaLevel(reason string) (criteria, level string) {
	if m := criteriaRe.FindStringSubmatch(reason); m != nil {
		criteria = strings.Trim(strings.TrimSpace(m[1]), ".,;")
	}
	if m := levelRe.FindStringSubmatch(reason); m != nil {
		level = strings.Trim(strings.TrimSpace(m[1]), ".,;")
	}
	return criteria, level
}
