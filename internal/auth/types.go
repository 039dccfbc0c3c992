package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
)

var ErrUnknownRole = errors.New("unknown role")

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleDoctor, RolePatient, RoleStaff:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// RoleDetails carries the profile attributes that only make sense for one role.
// The role of a User is derived from its details, so a doctor can never carry a
// department and staff can never carry a date of birth.
type RoleDetails interface {
	Role() Role
	isRoleDetails()
}

type DoctorDetails struct {
	Specialization string
}

type PatientDetails struct {
	DateOfBirth string
	Address     string
}

type StaffDetails struct {
	Department string
}

func (DoctorDetails) Role() Role  { return RoleDoctor }
func (PatientDetails) Role() Role { return RolePatient }
func (StaffDetails) Role() Role   { return RoleStaff }

func (DoctorDetails) isRoleDetails()  {}
func (PatientDetails) isRoleDetails() {}
func (StaffDetails) isRoleDetails()   {}

// User is the public projection of an Account. It never carries the secret.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Details   RoleDetails
	CreatedAt time.Time
}

func (u User) Role() Role {
	if u.Details == nil {
		return ""
	}
	return u.Details.Role()
}

func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Account is the stored identity record. Only credential stores hold it.
type Account struct {
	User
	SecretHash string
}

// RegisterData is the input to Service.Register.
type RegisterData struct {
	Email     string
	Secret    string
	FirstName string
	LastName  string
	Phone     string
	Details   RoleDetails
}

type userJSON struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Phone          string `json:"phone,omitempty"`
	Specialization string `json:"specialization,omitempty"`
	Department     string `json:"department,omitempty"`
	DateOfBirth    string `json:"dateOfBirth,omitempty"`
	Address        string `json:"address,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func (u User) MarshalJSON() ([]byte, error) {
	out := userJSON{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role(),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
	f := FieldsOf(u.Details)
	out.Specialization = f.Specialization
	out.Department = f.Department
	out.DateOfBirth = f.DateOfBirth
	out.Address = f.Address
	return json.Marshal(out)
}

// UnmarshalJSON is strict: an unknown role, a missing id or email, a bad
// timestamp, or an attribute that does not belong to the role is an error.
func (u *User) UnmarshalJSON(b []byte) error {
	var in userJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Email) == "" {
		return fmt.Errorf("id and email are required")
	}
	role, err := ParseRole(string(in.Role))
	if err != nil {
		return err
	}
	createdAt, err := time.Parse(time.RFC3339, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("parse createdAt: %w", err)
	}

	details, err := BuildDetails(role, ProfileFields{
		Specialization: in.Specialization,
		Department:     in.Department,
		DateOfBirth:    in.DateOfBirth,
		Address:        in.Address,
	})
	if err != nil {
		return err
	}

	*u = User{
		ID:        in.ID,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		Details:   details,
		CreatedAt: createdAt,
	}
	return nil
}

// ProfileFields is the flat form of RoleDetails used by storage and wire formats.
type ProfileFields struct {
	Specialization string
	Department     string
	DateOfBirth    string
	Address        string
}

func FieldsOf(d RoleDetails) ProfileFields {
	switch d := d.(type) {
	case DoctorDetails:
		return ProfileFields{Specialization: d.Specialization}
	case PatientDetails:
		return ProfileFields{DateOfBirth: d.DateOfBirth, Address: d.Address}
	case StaffDetails:
		return ProfileFields{Department: d.Department}
	}
	return ProfileFields{}
}

// BuildDetails rejects attributes that do not belong to role.
func BuildDetails(role Role, f ProfileFields) (RoleDetails, error) {
	switch role {
	case RoleDoctor:
		if f.Department != "" || f.DateOfBirth != "" || f.Address != "" {
			return nil, fmt.Errorf("doctor record carries non-doctor attributes")
		}
		return DoctorDetails{Specialization: f.Specialization}, nil
	case RolePatient:
		if f.Specialization != "" || f.Department != "" {
			return nil, fmt.Errorf("patient record carries non-patient attributes")
		}
		return PatientDetails{DateOfBirth: f.DateOfBirth, Address: f.Address}, nil
	case RoleStaff:
		if f.Specialization != "" || f.DateOfBirth != "" || f.Address != "" {
			return nil, fmt.Errorf("staff record carries non-staff attributes")
		}
		return StaffDetails{Department: f.Department}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
