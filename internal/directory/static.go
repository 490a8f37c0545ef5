package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spec-kit/callbridge/internal/domain"
)

// staticContact is one entry of the JSON contact file.
type staticContact struct {
	Name      string   `json:"name"`
	Company   string   `json:"company"`
	Numbers   []string `json:"numbers"`
	Projects  []string `json:"projects"`
	IsCompany bool     `json:"is_company"`
}

// StaticDirectory serves contacts from a JSON file. Meant for development and
// small deployments without a CardDAV server.
type StaticDirectory struct {
	contacts        []staticContact
	minSuffixDigits int
}

// LoadStatic reads the contact file.
func LoadStatic(path string, minSuffixDigits int) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contact file: %w", err)
	}
	var contacts []staticContact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("parse contact file %s: %w", path, err)
	}
	if minSuffixDigits <= 0 {
		minSuffixDigits = 6
	}
	return &StaticDirectory{contacts: contacts, minSuffixDigits: minSuffixDigits}, nil
}

// Lookup returns the contact with the longest digit-suffix match on any of
// its numbers, or nil when no match reaches the minimum suffix length.
func (d *StaticDirectory) Lookup(_ context.Context, number string) (*domain.CallerInfo, error) {
	best := -1
	bestLen := 0
	for i, contact := range d.contacts {
		for _, candidate := range contact.Numbers {
			if n := SuffixMatch(candidate, number); n >= d.minSuffixDigits && n > bestLen {
				best, bestLen = i, n
			}
		}
	}
	if best < 0 {
		return nil, nil
	}
	contact := d.contacts[best]
	return &domain.CallerInfo{
		Name:         contact.Name,
		CompanyName:  contact.Company,
		PhoneNumbers: contact.Numbers,
		ProjectIDs:   contact.Projects,
		IsCompany:    contact.IsCompany,
	}, nil
}
