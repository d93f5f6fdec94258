package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
)

const maxAnnouncementLength = 500

type View struct {
	MaintenanceMode bool      `json:"maintenanceMode"`
	Announcement    string    `json:"announcement"`
	ModelName       string    `json:"modelName,omitempty"`
	UpdatedBy       *string   `json:"updatedBy,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PublicView is what signed-in users see.
type PublicView struct {
	MaintenanceMode bool   `json:"maintenanceMode"`
	Announcement    string `json:"announcement"`
}

type UpdateInput struct {
	MaintenanceMode bool
	Announcement    string
	ModelName       string
	UpdatedBy       string
}

type Service interface {
	Get(ctx context.Context) (*View, error)
	Public(ctx context.Context) (*PublicView, error)
	MaintenanceMode(ctx context.Context) (bool, error)
	// UpdateTx writes the settings inside the caller's transaction.
	UpdateTx(ctx context.Context, tx *gorm.DB, input UpdateInput) (*View, error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settings repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context) (*View, error) {
	row, err := s.repo.Get(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load platform settings")
	}
	return toView(row), nil
}

func (s *service) Public(ctx context.Context) (*PublicView, error) {
	view, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &PublicView{MaintenanceMode: view.MaintenanceMode, Announcement: view.Announcement}, nil
}

func (s *service) MaintenanceMode(ctx context.Context) (bool, error) {
	view, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return view.MaintenanceMode, nil
}

func (s *service) UpdateTx(ctx context.Context, tx *gorm.DB, input UpdateInput) (*View, error) {
	announcement := strings.TrimSpace(input.Announcement)
	if len(announcement) > maxAnnouncementLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "announcement must be at most %d characters", maxAnnouncementLength)
	}
	by := strings.TrimSpace(input.UpdatedBy)
	if by == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "updatedBy is required")
	}
	row := &models.PlatformSettings{
		MaintenanceMode: input.MaintenanceMode,
		Announcement:    announcement,
		ModelName:       strings.TrimSpace(input.ModelName),
		UpdatedBy:       &by,
	}
	if err := s.repo.WithTx(tx).Save(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save platform settings")
	}
	return toView(row), nil
}

func toView(row *models.PlatformSettings) *View {
	return &View{
		MaintenanceMode: row.MaintenanceMode,
		Announcement:    row.Announcement,
		ModelName:       row.ModelName,
		UpdatedBy:       row.UpdatedBy,
		UpdatedAt:       row.UpdatedAt,
	}
}
