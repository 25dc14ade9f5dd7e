package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"swiftpay/internal/domain"
	"swiftpay/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const applicationProject = "naivas-jobs"

type ApplicationUsecase struct {
	repo   repository.ApplicationRepository
	logger *zap.Logger
}

func NewApplicationUsecase(repo repository.ApplicationRepository, logger *zap.Logger) *ApplicationUsecase {
	return &ApplicationUsecase{repo: repo, logger: logger}
}

type applicationData struct {
	Location         string  `json:"location,omitempty"`
	Education        string  `json:"education,omitempty"`
	JobTitle         string  `json:"jobTitle,omitempty"`
	Salary           float64 `json:"salary,omitempty"`
	MedicalAllowance float64 `json:"medicalAllowance,omitempty"`
}

// Submit stores a job application as unpaid. The payment reference, when given,
// links it to the fee payment that later marks it paid.
func (uc *ApplicationUsecase) Submit(ctx context.Context, req domain.SubmitApplication) (*domain.Application, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(applicationData{
		Location:         req.Location,
		Education:        req.Education,
		JobTitle:         req.JobTitle,
		Salary:           req.Salary,
		MedicalAllowance: req.MedicalAllowance,
	})
	if err != nil {
		return nil, fmt.Errorf("encode application data: %w", err)
	}

	app := &domain.Application{
		ID:            uuid.NewString(),
		ProjectName:   applicationProject,
		FullName:      strings.TrimSpace(req.FullName),
		Email:         strings.TrimSpace(req.Email),
		Phone:         strings.TrimSpace(req.Phone),
		ProjectData:   data,
		PaymentStatus: domain.ApplicationUnpaid,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
	}
	if ref := strings.TrimSpace(req.PaymentReference); ref != "" {
		app.PaymentReference = &ref
	}

	if err := uc.repo.Create(ctx, app); err != nil {
		uc.logger.Error("failed to store application",
			zap.String("application_id", app.ID),
			zap.Error(err))
		return nil, fmt.Errorf("store application: %w", err)
	}

	uc.logger.Info("application submitted",
		zap.String("application_id", app.ID),
		zap.String("reference", domain.Deref(app.PaymentReference)))
	return app, nil
}

func (uc *ApplicationUsecase) MarkPaid(ctx context.Context, reference string, amount int64) error {
	n, err := uc.repo.MarkPaid(ctx, reference, amount)
	if err != nil {
		return err
	}
	if n > 0 {
		uc.logger.Info("application marked paid",
			zap.String("reference", reference),
			zap.Int64("applications", n),
			zap.Int64("amount", amount))
	}
	return nil
}
