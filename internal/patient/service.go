package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/store"
)

// CreateInput captures the fields an operator supplies when registering a patient.
type CreateInput struct {
	Name           string `json:"name" validate:"required,min=2,max=120"`
	Age            int    `json:"age" validate:"gte=0,lte=150"`
	Gender         string `json:"gender" validate:"omitempty,oneof=male female other"`
	Phone          string `json:"phone" validate:"required,min=10,max=20"`
	Email          string `json:"email" validate:"omitempty,email"`
	Address        string `json:"address" validate:"omitempty,min=10"`
	MedicalHistory string `json:"medical_history"`
}

func (in CreateInput) normalized() CreateInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Address = strings.TrimSpace(in.Address)
	in.MedicalHistory = strings.TrimSpace(in.MedicalHistory)
	return in
}

// Service orchestrates patient registration and lookup.
type Service struct {
	Store Store
	Log   zerolog.Logger
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create registers a new patient with zeroed billing aggregates.
func (s *Service) Create(ctx context.Context, in CreateInput) (Patient, error) {
	if s == nil || s.Store == nil {
		return Patient{}, errors.New("patient service not configured")
	}
	in = in.normalized()
	if err := common.ValidateStruct(in); err != nil {
		return Patient{}, err
	}
	now := s.now()
	p := Patient{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Age:            in.Age,
		Gender:         in.Gender,
		Phone:          in.Phone,
		Email:          in.Email,
		Address:        in.Address,
		MedicalHistory: in.MedicalHistory,
		ServicesUsed:   []string{},
		TotalCost:      decimal.Zero,
		PendingAmount:  decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreatePatient(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Patient{}, common.Conflict("", "a patient with this phone number or email already exists", err)
		}
		return Patient{}, common.Persistence("failed to create patient", err)
	}
	s.Log.Info().Str("patient_id", p.ID).Msg("patient_created")
	return p, nil
}

// Get returns a single patient.
func (s *Service) Get(ctx context.Context, id string) (Patient, error) {
	if s == nil || s.Store == nil {
		return Patient{}, errors.New("patient service not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Patient{}, common.Validation("", "patient id is required", nil)
	}
	p, err := s.Store.GetPatient(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Patient{}, common.NotFound("patient not found", err)
		}
		return Patient{}, common.Persistence("failed to load patient", err)
	}
	return p, nil
}

// List returns a page of patients matching the filter and search query.
func (s *Service) List(ctx context.Context, filter Filter, query string, page, perPage int) ([]Patient, int, error) {
	if s == nil || s.Store == nil {
		return nil, 0, errors.New("patient service not configured")
	}
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	patients, total, err := s.Store.ListPatients(ctx, ListParams{
		Filter: filter,
		Query:  strings.TrimSpace(query),
		Limit:  perPage,
		Offset: common.Offset(page, perPage),
	})
	if err != nil {
		return nil, 0, common.Persistence("failed to list patients", err)
	}
	return patients, total, nil
}
