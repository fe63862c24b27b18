package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Client is the authoritative consumer record shared between case
// managers. Quarterly review dates are nullable overrides: when nil the
// date is derived from NextAnnualAssessment.
type Client struct {
	ID                     string
	ExternalID             string
	Name                   string
	PhoneNumber            string
	Insurance              string
	FirstContactCompleted  bool
	SecondContactCompleted bool
	LastContactDate        *time.Time
	LastFaceToFaceDate     *time.Time
	NextAnnualAssessment   time.Time
	QR1Completed           bool
	QR2Completed           bool
	QR3Completed           bool
	QR4Completed           bool
	QR1Date                *time.Time
	QR2Date                *time.Time
	QR3Date                *time.Time
	QR4Date                *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// QRCompleted returns the four completion flags in quarter order.
func (c Client) QRCompleted() [4]bool {
	return [4]bool{c.QR1Completed, c.QR2Completed, c.QR3Completed, c.QR4Completed}
}

// QROverrides returns the four override dates in quarter order.
func (c Client) QROverrides() [4]*time.Time {
	return [4]*time.Time{c.QR1Date, c.QR2Date, c.QR3Date, c.QR4Date}
}

// Assignment links a case manager to a client. Archiving a client only
// archives the assignment; the client record itself is shared.
type Assignment struct {
	ID            string
	CaseManagerID string
	ClientID      string
	Archived      bool
	AssignedDate  time.Time
}

// AssignedClient is a client joined with the caller's assignment.
type AssignedClient struct {
	Client
	AssignedDate time.Time
}

type Todo struct {
	ID            string
	ClientID      string
	CaseManagerID string
	Text          string
	Completed     bool
	DueDate       *time.Time
	CreatedAt     time.Time
}

// TodoCounts summarizes a client's todo list for the caseload view.
type TodoCounts struct {
	Total      int
	Incomplete int
}

type Note struct {
	ID            string
	ClientID      string
	CaseManagerID string
	Text          string
	CreatedAt     time.Time
}

// StickyNote is a personal free-floating note pinned to the dashboard.
type StickyNote struct {
	ID            string
	CaseManagerID string
	Text          string
	Color         string
	X             float64
	Y             float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
