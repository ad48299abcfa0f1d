package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/rickshaw-rides/internal/models"
)

// defaultLocations is the block catalog for the pilot deployment around the
// CUET campus. Override with LOCATIONS_FILE pointing at a JSON array of
// {block, name, lat, lng}.
var defaultLocations = []models.NamedLocation{
	{Block: "CUET_CAMPUS", Name: "CUET Campus", Lat: 22.4633, Lng: 91.9714},
	{Block: "PAHARTOLI", Name: "Pahartoli", Lat: 22.4725, Lng: 91.9845},
	{Block: "NOAPARA", Name: "Noapara", Lat: 22.4580, Lng: 91.9920},
	{Block: "RAOJAN", Name: "Raojan", Lat: 22.4520, Lng: 91.9650},
}

func SeedLocations() ([]models.NamedLocation, error) {
	path := os.Getenv("LOCATIONS_FILE")
	if path == "" {
		return defaultLocations, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var locs []models.NamedLocation
	if err := json.Unmarshal(raw, &locs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return locs, nil
}
