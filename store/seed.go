package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is a declarative bootstrap for the in-memory store, used in
// development when no database is configured.
type Seed struct {
	Businesses []SeedBusiness `yaml:"businesses"`
}

// SeedBusiness declares one business and its related records.
type SeedBusiness struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	PhoneNumber string `yaml:"phone_number"`

	Users []struct {
		ID        string `yaml:"id"`
		Email     string `yaml:"email"`
		Role      string `yaml:"role"`
		Phone     string `yaml:"phone"`
		PushToken string `yaml:"push_token"`
	} `yaml:"users"`

	CustomerProfiles []struct {
		CallerNumber string            `yaml:"caller_number"`
		Name         string            `yaml:"name"`
		Preferences  map[string]string `yaml:"preferences"`
	} `yaml:"customer_profiles"`

	EscalationRules []struct {
		Keywords []string `yaml:"keywords"`
		Priority int      `yaml:"priority"`
	} `yaml:"escalation_rules"`
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed file read: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("seed file parse: %w", err)
	}
	for i, b := range seed.Businesses {
		if b.PhoneNumber == "" {
			return nil, fmt.Errorf("seed business %d: phone_number is required", i)
		}
	}
	return &seed, nil
}

// ApplySeed loads every seed record into the store.
func (s *MemoryCallStore) ApplySeed(seed *Seed) {
	for _, sb := range seed.Businesses {
		business := &Business{ID: sb.ID, Name: sb.Name, PhoneNumber: sb.PhoneNumber}
		s.AddBusiness(business)

		for _, u := range sb.Users {
			s.AddBusinessUser(business.ID, &BusinessUser{
				ID:        u.ID,
				Email:     u.Email,
				Role:      u.Role,
				Phone:     u.Phone,
				PushToken: u.PushToken,
			})
		}
		for _, p := range sb.CustomerProfiles {
			s.AddCustomerProfile(&CustomerProfile{
				BusinessID:   business.ID,
				CallerNumber: p.CallerNumber,
				Name:         p.Name,
				Preferences:  p.Preferences,
			})
		}
		for _, r := range sb.EscalationRules {
			s.AddEscalationRule(&EscalationRule{
				BusinessID: business.ID,
				Keywords:   r.Keywords,
				Priority:   r.Priority,
			})
		}
	}
}
