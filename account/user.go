package account

import (
	"strings"
	"time"
)

// wireUser mirrors the subset of the backend User object the dashboard
// keeps. Unknown fields are ignored.
type wireUser struct {
	Id        string `json:"Id"`
	Username  string `json:"Username"`
	Avatar    string `json:"Avatar"`
	Email     string `json:"Email"`
	FullName  string `json:"FullName"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	RoleId    int    `json:"RoleId"`
	Role      *struct {
		Id    int    `json:"Id"`
		Title string `json:"Title"`
	} `json:"Role"`
	Currency *struct {
		Id             string  `json:"Id"`
		Symbol         string  `json:"Symbol"`
		ConversionRate float64 `json:"ConversionRate"`
	} `json:"Currency"`
	GiftingCountry *struct {
		Id         string `json:"Id"`
		Name       string `json:"Name"`
		CurrencyId string `json:"CurrencyId"`
	} `json:"GiftingCountry"`
}

func (u *wireUser) profile() Profile {
	p := Profile{
		ID:        u.Id,
		Username:  u.Username,
		FullName:  u.FullName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Avatar:    u.Avatar,
		Role:      Role{ID: u.RoleId},
	}

	if u.Role != nil {
		p.Role = Role{ID: u.Role.Id, Title: u.Role.Title}
	}

	if u.Currency != nil {
		p.Currency = Currency{ID: u.Currency.Id, Symbol: u.Currency.Symbol, ConversionRate: u.Currency.ConversionRate}
	}

	if u.GiftingCountry != nil {
		p.Country = Country{ID: u.GiftingCountry.Id, Name: u.GiftingCountry.Name, CurrencyID: u.GiftingCountry.CurrencyId}
	}

	if p.FullName == "" {
		p.FullName = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}

	return p
}

// timestampLayouts are tried in order. The backend sometimes omits the zone,
// in which case UTC is assumed.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp returns the zero time for empty or unknown formats.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}
