package models

import (
	"context"
	"time"

	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
)

type Branch struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex" json:"name" binding:"required"`
	Address   string    `gorm:"type:text" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBranch struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address"`
}

func CreateBranch(ctx context.Context, input *NewBranch) (*Branch, error) {
	db := config.GetDB()

	branch := Branch{
		Name:    input.Name,
		Address: input.Address,
	}
	if err := db.WithContext(ctx).Create(&branch).Error; err != nil {
		return nil, err
	}
	return &branch, nil
}

func GetBranches(ctx context.Context) ([]*Branch, error) {
	return utils.FetchAllModels[Branch](ctx)
}
