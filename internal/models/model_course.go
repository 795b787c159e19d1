package models

import (
	"time"

	"github.com/fatflowers/academy/pkg/types"
)

type Course struct {
	ID              string `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Title           string `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Description     string `gorm:"column:description;type:text" json:"description"`
	Thumbnail       string `gorm:"column:thumbnail;type:varchar(512)" json:"thumbnail"`
	EducatorID      string `gorm:"column:educator_id;type:varchar(64);not null;index" json:"educator_id"`
	EducatorName    string `gorm:"column:educator_name;type:varchar(255)" json:"educator_name"`
	PriceMinor      int64  `gorm:"column:price_minor;type:bigint;not null" json:"price_minor"`
	DiscountPercent int    `gorm:"column:discount_percent;not null;default:0" json:"discount_percent"`
	Currency        string `gorm:"column:currency;type:varchar(16)" json:"currency"`
	// Published courses are purchasable; unpublished ones still resolve for listings.
	Published bool      `gorm:"column:published;not null;default:true" json:"published"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Course) TableName() string {
	return "course"
}

// DiscountedPriceMinor applies the percentage discount, rounding half up.
func (c *Course) DiscountedPriceMinor() int64 {
	d := int64(c.DiscountPercent)
	if d <= 0 {
		return c.PriceMinor
	}
	if d >= 100 {
		return 0
	}
	return (c.PriceMinor*(100-d) + 50) / 100
}

func CourseFromSeed(s *types.Course) *Course {
	return &Course{
		ID:              s.ID,
		Title:           s.Title,
		Description:     s.Description,
		Thumbnail:       s.Thumbnail,
		EducatorID:      s.EducatorID,
		EducatorName:    s.EducatorName,
		PriceMinor:      s.PriceMinor,
		DiscountPercent: s.DiscountPercent,
		Currency:        s.Currency,
		Published:       true,
	}
}
