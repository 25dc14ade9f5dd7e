package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	ApplicationUnpaid = "unpaid"
	ApplicationPaid   = "paid"
)

// Application is a job application submitted through the site, optionally tied to a payment reference.
type Application struct {
	ID               string          `json:"id"`
	ProjectName      string          `json:"project_name"`
	FullName         string          `json:"full_name"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	ProjectData      json.RawMessage `json:"project_data"`
	PaymentReference *string         `json:"payment_reference,omitempty"`
	PaymentStatus    string          `json:"payment_status"`
	PaymentAmount    int64           `json:"payment_amount"`
	IPAddress        string          `json:"ip_address"`
	UserAgent        string          `json:"user_agent"`
	CreatedAt        time.Time       `json:"created_at"`
}

type SubmitApplication struct {
	FullName         string  `json:"fullName"`
	Email            string  `json:"email"`
	Phone            string  `json:"phone"`
	Location         string  `json:"location"`
	Education        string  `json:"education"`
	JobTitle         string  `json:"jobTitle"`
	Salary           float64 `json:"salary"`
	MedicalAllowance float64 `json:"medicalAllowance"`
	PaymentReference string  `json:"paymentReference"`
	IPAddress        string  `json:"-"`
	UserAgent        string  `json:"-"`
}

func (r *SubmitApplication) Validate() error {
	if strings.TrimSpace(r.FullName) == "" || strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.Phone) == "" {
		return &ValidationError{Field: "fullName, email, phone", Err: ErrInvalidRequest}
	}
	if !strings.Contains(r.Email, "@") {
		return &ValidationError{Field: "email", Err: ErrInvalidRequest}
	}
	return nil
}
