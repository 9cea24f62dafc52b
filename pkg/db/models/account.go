package models

// Account holds the owner contact details billing emails are addressed to.
type Account struct {
	ID          string `gorm:"column:id;primaryKey"`
	Email       string `gorm:"column:email;not null"`
	DisplayName string `gorm:"column:display_name"`
	Locale      string `gorm:"column:locale"`
}

func (Account) TableName() string { return "accounts" }
