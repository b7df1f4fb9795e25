package models

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// UpdateKinds selects which reconciliation paths run for an agency.
// Agencies without usable vehicle positions set Stops instead of Vehicles.
type UpdateKinds struct {
	Vehicles bool `yaml:"vehicles"`
	Stops    bool `yaml:"stops"`
}

// AgencyConfig describes one transit agency: identity, timezone, feed
// endpoints and exclusion lists. Loaded once per run and never mutated.
type AgencyConfig struct {
	ID       string `yaml:"id" validate:"required"`
	Name     string `yaml:"name" validate:"required"`
	Timezone string `yaml:"timezone" validate:"required"`

	StaticURL           string `yaml:"staticURL" validate:"omitempty,url"`
	TripUpdatesURL      string `yaml:"tripUpdatesURL" validate:"omitempty,url"`
	VehiclePositionsURL string `yaml:"vehiclePositionsURL" validate:"omitempty,url"`

	// Exclude lists static schedule files/labels skipped during import
	// (for example "shapes" or "transfers").
	Exclude []string `yaml:"exclude"`

	// ExcludeList holds route long names treated as inactive by the
	// missing-trip detector.
	ExcludeList []string `yaml:"excludeList"`

	Updates UpdateKinds `yaml:"updates"`
}

// Location resolves the agency's IANA timezone.
func (a AgencyConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("agency %s: invalid timezone %q: %w", a.ID, a.Timezone, err)
	}
	return loc, nil
}

// Excludes reports whether the named static file/label is excluded from
// import for this agency.
func (a AgencyConfig) Excludes(label string) bool {
	for _, e := range a.Exclude {
		if e == label {
			return true
		}
	}
	return false
}

type agenciesFile struct {
	Agencies []AgencyConfig `yaml:"agencies"`
}

// LoadAgencies reads and validates the agency list from a YAML file.
// The returned slice is the explicit configuration value handed to the
// reconciliation entry point; there is no process-wide registry.
func LoadAgencies(path string) ([]AgencyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agencies file: %w", err)
	}

	var file agenciesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing agencies file: %w", err)
	}
	if len(file.Agencies) == 0 {
		return nil, fmt.Errorf("agencies file %s defines no agencies", path)
	}

	v := validator.New()
	for _, agency := range file.Agencies {
		if err := v.Struct(agency); err != nil {
			return nil, fmt.Errorf("agency %q: %w", agency.ID, err)
		}
		if _, err := agency.Location(); err != nil {
			return nil, err
		}
	}

	return file.Agencies, nil
}
