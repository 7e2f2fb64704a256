package models

import (
	"context"
	"errors"
	"time"

	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
)

// User exists for actor identity and step assignment only; account
// management (password resets, profiles, sessions) is out of scope.
type User struct {
	ID            int                `gorm:"primary_key" json:"id"`
	Username      string             `gorm:"size:100;not null;uniqueIndex" json:"username" binding:"required"`
	Password      string             `gorm:"size:255;not null" json:"-"`
	DisplayName   string             `gorm:"size:255" json:"display_name"`
	Role          Role               `gorm:"type:enum('admin','production_head','production_worker');not null" json:"role"`
	AssignedSteps []UserWorkflowStep `json:"assigned_steps"`
	IsActive      *bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserWorkflowStep grants a production worker one step capability.
type UserWorkflowStep struct {
	ID      int          `gorm:"primary_key" json:"id"`
	UserId  int          `gorm:"index:uniq_user_step,unique;not null" json:"user_id"`
	StepKey WorkflowStep `gorm:"size:50;index:uniq_user_step,unique;not null" json:"step_key"`
}

// TicketAssignment puts a worker on a ticket. A worker may only post
// progress for tickets they are assigned to.
type TicketAssignment struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TicketId  int       `gorm:"index:uniq_ticket_user,unique;not null" json:"ticket_id"`
	UserId    int       `gorm:"index:uniq_ticket_user,unique;not null" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewUser struct {
	Username      string         `json:"username" binding:"required"`
	Password      string         `json:"password" binding:"required"`
	DisplayName   string         `json:"display_name"`
	Role          Role           `json:"role" binding:"required"`
	AssignedSteps []WorkflowStep `json:"assigned_steps"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	db := config.GetDB()

	switch input.Role {
	case RoleAdmin, RoleProductionHead, RoleProductionWorker:
	default:
		return nil, errors.New("invalid role")
	}
	if err := utils.ValidateUnique[User](ctx, "username", input.Username, 0); err != nil {
		return nil, errors.New("duplicate username")
	}
	for _, step := range input.AssignedSteps {
		if !IsKnownWorkflowStep(step) {
			return nil, errors.New("unknown workflow step " + string(step))
		}
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		Username:    input.Username,
		Password:    string(hashed),
		DisplayName: input.DisplayName,
		Role:        input.Role,
	}
	for _, step := range input.AssignedSteps {
		user.AssignedSteps = append(user.AssignedSteps, UserWorkflowStep{StepKey: step})
	}

	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchModel[User](ctx, id, "AssignedSteps")
}

// VerifyUserCredentials checks username/password for the login endpoint.
func VerifyUserCredentials(ctx context.Context, username, password string) (*User, error) {
	db := config.GetDB()
	var user User
	err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, errors.New("invalid credentials")
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, errors.New("user is inactive")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, errors.New("invalid credentials")
	}
	return &user, nil
}

type NewTicketAssignment struct {
	UserId int `json:"user_id" binding:"required"`
}

// AssignUserToTicket is idempotent; assigning the same worker twice is a no-op.
func AssignUserToTicket(ctx context.Context, ticketId int, input *NewTicketAssignment) (*TicketAssignment, error) {
	db := config.GetDB()

	if err := utils.ValidateResourceId[Ticket](ctx, ticketId); err != nil {
		return nil, errors.New("ticket not found")
	}
	if err := utils.ValidateResourceId[User](ctx, input.UserId); err != nil {
		return nil, errors.New("user not found")
	}

	assignment := TicketAssignment{TicketId: ticketId, UserId: input.UserId}
	err := db.WithContext(ctx).
		Where("ticket_id = ? AND user_id = ?", ticketId, input.UserId).
		FirstOrCreate(&assignment).Error
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// IsUserAssignedToTicket answers the assignment half of the worker gate.
func IsUserAssignedToTicket(ctx context.Context, ticketId, userId int) (bool, error) {
	count, err := utils.ResourceCountWhere[TicketAssignment](ctx, "ticket_id = ? AND user_id = ?", ticketId, userId)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
