// Package users owns core user identity: profile, contact details,
// security counters and onboarding progress.
package users

import (
	"time"
)

type PII struct {
	UserID          string `json:"user_id"`
	FirstName       string `json:"first_name" validate:"required,max=100"`
	LastName        string `json:"last_name" validate:"max=100"`
	ProfilePhotoURL string `json:"profile_photo_url,omitempty" validate:"omitempty,url"`
	DateOfBirth     string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender          string `json:"gender,omitempty"`
}

type ContactInfo struct {
	Email          string `json:"email" validate:"required,email"`
	AlternateEmail string `json:"alternate_email,omitempty" validate:"omitempty,email"`
	PhoneNumber    string `json:"phone_number,omitempty" validate:"omitempty,e164"`
	Address        string `json:"address,omitempty"`
	CompanyEmail   string `json:"company_email,omitempty" validate:"omitempty,email"`
	WorkPhone      string `json:"work_phone,omitempty" validate:"omitempty,e164"`
}

type LocationInfo struct {
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Country      string `json:"country,omitempty"`
	Timezone     string `json:"timezone,omitempty" validate:"omitempty,tzname"`
	Coordinates  string `json:"coordinates,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
}

type SecuritySettings struct {
	TwoFactorEnabled    bool       `json:"two_factor_enabled"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	PasswordUpdatedAt   *time.Time `json:"password_updated_at,omitempty"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
}

func (s SecuritySettings) lockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

type NotificationSettings struct {
	EmailNotifications bool `json:"email_notifications"`
	SMSNotifications   bool `json:"sms_notifications"`
	PushNotifications  bool `json:"push_notifications"`
	NewsletterOptIn    bool `json:"newsletter_opt_in"`
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{EmailNotifications: true, NewsletterOptIn: true}
}

// OnboardingSteps is the checklist a new user works through, in order.
var OnboardingSteps = []string{"profile", "company", "connect_crm", "invite_team"}

type OnboardingStatus struct {
	Completed      bool     `json:"completed"`
	StepsCompleted int      `json:"steps_completed"`
	LastStep       string   `json:"last_step,omitempty"`
	Done           []string `json:"done"`
}

type CompanyInfo struct {
	Name        string `json:"name,omitempty" validate:"max=200"`
	Website     string `json:"website,omitempty" validate:"omitempty,url"`
	LogoURL     string `json:"logo_url,omitempty" validate:"omitempty,url"`
	Industry    string `json:"industry,omitempty"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	FoundedYear int    `json:"founded_year,omitempty" validate:"omitempty,gte=1800,lte=2100"`
	LinkedInURL string `json:"linkedin_url,omitempty" validate:"omitempty,url"`
}

type CoreIdentity struct {
	ID            string               `json:"id"`
	PII           PII                  `json:"pii"`
	Contact       ContactInfo          `json:"contact"`
	Location      LocationInfo         `json:"location"`
	Security      SecuritySettings     `json:"security"`
	Notifications NotificationSettings `json:"notifications"`
	Onboarding    OnboardingStatus     `json:"onboarding"`
	Company       *CompanyInfo         `json:"company,omitempty"`
	PasswordHash  string               `json:"-"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (c CoreIdentity) clone() CoreIdentity {
	c.Onboarding.Done = append([]string(nil), c.Onboarding.Done...)
	if c.Company != nil {
		company := *c.Company
		c.Company = &company
	}
	return c
}
