package classroom

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultCourseworkTitle replaces blank coursework titles.
	DefaultCourseworkTitle = "Untitled Assignment"
	// DefaultMaxPoints applies when the provider omits max points.
	DefaultMaxPoints = 100.0
	// CourseStateActive is the provider state for a live course.
	CourseStateActive = "ACTIVE"
)

var validate = validator.New()

// Course is a validated provider course.
type Course struct {
	ExternalID     string `validate:"required"`
	Name           string `validate:"required"`
	Description    string
	Subject        string
	Section        string
	Room           string
	EnrollmentCode string
	OwnerID        string
	Active         bool
}

// Student is a validated roster member.
type Student struct {
	ExternalID string `validate:"required"`
	FullName   string
	Email      string `validate:"omitempty,email"`
}

// Coursework is a validated coursework item.
type Coursework struct {
	ExternalID  string `validate:"required"`
	Title       string `validate:"required"`
	Description string
	MaxPoints   float64 `validate:"gt=0"`
	DueDate     *time.Time
}

type courseListResponse struct {
	Courses       []courseDTO `json:"courses"`
	NextPageToken string      `json:"nextPageToken"`
}

type courseDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Section            string `json:"section"`
	DescriptionHeading string `json:"descriptionHeading"`
	Description        string `json:"description"`
	Room               string `json:"room"`
	EnrollmentCode     string `json:"enrollmentCode"`
	CourseState        string `json:"courseState"`
	OwnerID            string `json:"ownerId"`
}

type studentListResponse struct {
	Students      []studentDTO `json:"students"`
	NextPageToken string       `json:"nextPageToken"`
}

type studentDTO struct {
	CourseID string `json:"courseId"`
	UserID   string `json:"userId"`
	Profile  *struct {
		ID   string `json:"id"`
		Name *struct {
			GivenName  string `json:"givenName"`
			FamilyName string `json:"familyName"`
			FullName   string `json:"fullName"`
		} `json:"name"`
		EmailAddress string `json:"emailAddress"`
	} `json:"profile"`
}

type courseworkListResponse struct {
	CourseWork    []courseworkDTO `json:"courseWork"`
	NextPageToken string          `json:"nextPageToken"`
}

type courseworkDTO struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	MaxPoints   *float64 `json:"maxPoints"`
	DueDate     *dateDTO `json:"dueDate"`
	DueTime     *timeDTO `json:"dueTime"`
}

type dateDTO struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

type timeDTO struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

func (d courseDTO) toCourse() (Course, bool) {
	course := Course{
		ExternalID:     strings.TrimSpace(d.ID),
		Name:           strings.TrimSpace(d.Name),
		Description:    d.Description,
		Subject:        d.DescriptionHeading,
		Section:        d.Section,
		Room:           d.Room,
		EnrollmentCode: d.EnrollmentCode,
		OwnerID:        d.OwnerID,
		Active:         d.CourseState == CourseStateActive,
	}
	return course, validate.Struct(course) == nil
}

func (d studentDTO) toStudent() (Student, bool) {
	student := Student{ExternalID: strings.TrimSpace(d.UserID)}
	if d.Profile != nil {
		if student.ExternalID == "" {
			student.ExternalID = strings.TrimSpace(d.Profile.ID)
		}
		if d.Profile.Name != nil {
			student.FullName = strings.TrimSpace(d.Profile.Name.GivenName + " " + d.Profile.Name.FamilyName)
			if student.FullName == "" {
				student.FullName = strings.TrimSpace(d.Profile.Name.FullName)
			}
		}
		student.Email = strings.TrimSpace(d.Profile.EmailAddress)
	}
	if student.Email != "" && validate.Var(student.Email, "email") != nil {
		student.Email = ""
	}
	return student, validate.Struct(student) == nil
}

func (d courseworkDTO) toCoursework() (Coursework, bool) {
	work := Coursework{
		ExternalID:  strings.TrimSpace(d.ID),
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		MaxPoints:   DefaultMaxPoints,
		DueDate:     composeDueDate(d.DueDate, d.DueTime),
	}
	if work.Title == "" {
		work.Title = DefaultCourseworkTitle
	}
	if d.MaxPoints != nil && *d.MaxPoints > 0 {
		work.MaxPoints = *d.MaxPoints
	}
	return work, validate.Struct(work) == nil
}

// composeDueDate joins the provider's split date and time in UTC. A missing
// time means end of day (23:59). Dates or times out of range yield nil.
func composeDueDate(date *dateDTO, clock *timeDTO) *time.Time {
	if date == nil || date.Year == 0 || date.Month < 1 || date.Month > 12 || date.Day < 1 {
		return nil
	}
	hours, minutes := 23, 59
	if clock != nil {
		hours, minutes = clock.Hours, clock.Minutes
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return nil
	}
	due := time.Date(date.Year, time.Month(date.Month), date.Day, hours, minutes, 0, 0, time.UTC)
	// time.Date normalizes overflow such as February 30
	if due.Year() != date.Year || int(due.Month()) != date.Month || due.Day() != date.Day {
		return nil
	}
	return &due
}
