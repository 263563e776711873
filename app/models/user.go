package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	AUTH_PROVIDER_LOCAL  = "local"
	AUTH_PROVIDER_GOOGLE = "google"
	AUTH_PROVIDER_GITHUB = "github"

	SUB_STATUS_NONE      = "none"
	SUB_STATUS_PENDING   = "pending"
	SUB_STATUS_ACTIVE    = "active"
	SUB_STATUS_PAST_DUE  = "past_due"
	SUB_STATUS_CANCELLED = "cancelled"
	SUB_STATUS_INACTIVE  = "inactive"

	PAYMENT_METHOD_STRIPE = "stripe"
	PAYMENT_METHOD_PAYPAL = "paypal"
)

// VerificationTokenTTL bounds how long an emailed verification link stays usable.
const VerificationTokenTTL = 10 * time.Minute

type User struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	Email                 string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Password              string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	AuthProvider          string         `gorm:"type:varchar(50);default:'local'" json:"auth_provider" validate:"oneof=local google github"`
	ProviderUserID        string         `gorm:"type:varchar(100);default:null;index" json:"-"`
	IsVerified            bool           `gorm:"default:false" json:"is_verified"`
	VerificationToken     string         `gorm:"type:varchar(100);default:null;index" json:"-"`
	VerificationSentAt    *time.Time     `gorm:"type:timestamp;default:null" json:"-"`
	SubscriptionID        string         `gorm:"type:varchar(100);default:null;index" json:"-"`
	SubscriptionPlanID    string         `gorm:"type:varchar(100);default:null" json:"subscription_plan_id"`
	SubscriptionStatus    string         `gorm:"type:varchar(50);default:'none'" json:"subscription_status" validate:"oneof=none pending active past_due cancelled inactive"`
	SubscriptionStartDate *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_start_date"`
	SubscriptionEndDate   *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_end_date"`
	AutoRenew             bool           `gorm:"default:true" json:"auto_renew"`
	PaymentMethod         string         `gorm:"type:varchar(50);default:null" json:"payment_method"`
	CharacterBalance      int64          `gorm:"default:0" json:"character_balance"`
	VoiceBalance          int            `gorm:"default:0" json:"voice_balance"`
	LastLoginAt           *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

func CreateUser(email string, password string) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:              email,
		Password:           pw,
		AuthProvider:       AUTH_PROVIDER_LOCAL,
		SubscriptionStatus: SUB_STATUS_NONE,
	}

	err = u.Validate()
	if err != nil {
		return nil, err
	}

	return u, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.Password)
}

// SetPassword hashes and sets a new password for the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.Password = hashedPassword
	return nil
}

// GenerateVerificationToken creates a random token and sets VerificationSentAt
func (u *User) GenerateVerificationToken() error {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	u.VerificationToken = hex.EncodeToString(b)
	now := time.Now()
	u.VerificationSentAt = &now
	return nil
}

// IsVerificationTokenValid checks that the token matches and has not expired
func (u *User) IsVerificationTokenValid(token string) bool {
	if u.VerificationToken == "" || u.VerificationSentAt == nil {
		return false
	}
	if u.VerificationToken != token {
		return false
	}
	return time.Since(*u.VerificationSentAt) < VerificationTokenTTL
}

// ClearVerificationToken resets the verification fields after a successful check
func (u *User) ClearVerificationToken() {
	u.VerificationToken = ""
	u.VerificationSentAt = nil
	u.IsVerified = true
}

// HasActiveSubscription reports whether the user may call the TTS vendor
func (u *User) HasActiveSubscription() bool {
	return u.SubscriptionStatus == SUB_STATUS_ACTIVE
}
